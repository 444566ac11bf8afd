// Package replay re-drives a recorded gaze log through the engine.
//
// Only FRAME rows are replayed; the event rows of the original run are
// ignored and re-derived, so a session can be re-classified under different
// thresholds. Ratios come back with the log's 3-decimal precision, so a
// velocity within about 1e-3/dt of a threshold may classify differently
// than it did live:
//
//	samples, _ := replay.LoadFile("gaze_log.csv")
//	p := replay.NewPlayer(30) // 30 samples/s, 0 = unpaced
//	p.Run(ctx, samples, func(s types.Sample) error {
//	    engine.Process(s)
//	    return nil
//	})
package replay

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/e7canasta/orion-gaze/internal/recorder"
	"github.com/e7canasta/orion-gaze/internal/types"
)

// LoadSamples reads an exported log and returns its FRAME rows as samples.
func LoadSamples(r io.Reader) ([]types.Sample, error) {
	rows, err := recorder.ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return FromRows(rows)
}

// LoadFile is LoadSamples on the file at path.
func LoadFile(path string) ([]types.Sample, error) {
	rows, err := recorder.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromRows(rows)
}

// FromRows converts the FRAME rows of rows into samples, in order.
func FromRows(rows []recorder.Row) ([]types.Sample, error) {
	samples := make([]types.Sample, 0, len(rows))
	for i, row := range rows {
		if !row.IsFrame() {
			continue
		}

		h, err := parseRatio(row.Field1, "h")
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		v, err := parseRatio(row.Field2, "v")
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		blink, err := parseField(row.Field3, "blink", strconv.ParseBool)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		samples = append(samples, types.Sample{
			Timestamp: row.Timestamp,
			H:         h,
			V:         v,
			Blink:     blink,
		})
	}
	return samples, nil
}

func parseRatio(field, key string) (types.Ratio, error) {
	if field == key+"=None" {
		return types.NoRatio, nil
	}
	f, err := parseField(field, key, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
	if err != nil {
		return types.NoRatio, err
	}
	return types.SomeRatio(f), nil
}

func parseField[T any](field, key string, parse func(string) (T, error)) (T, error) {
	var zero T
	val, ok := strings.CutPrefix(field, key+"=")
	if !ok {
		return zero, fmt.Errorf("field %q: want %s=<value>", field, key)
	}
	out, err := parse(val)
	if err != nil {
		return zero, fmt.Errorf("field %q: %w", field, err)
	}
	return out, nil
}

// Player feeds samples to a callback at a bounded rate.
type Player struct {
	// Limiter paces delivery; nil or rate.Inf delivers as fast as possible
	Limiter *rate.Limiter
}

// NewPlayer returns a player delivering ratePerSec samples per second.
// ratePerSec <= 0 means unpaced.
func NewPlayer(ratePerSec float64) *Player {
	if ratePerSec <= 0 {
		return &Player{}
	}
	return &Player{Limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1)}
}

// Run calls fn for each sample in order. It stops at the first fn error or
// when ctx is cancelled, returning how many samples were delivered.
func (p *Player) Run(ctx context.Context, samples []types.Sample, fn func(types.Sample) error) (int, error) {
	for i, s := range samples {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return i, err
			}
		} else if err := ctx.Err(); err != nil {
			return i, err
		}

		if err := fn(s); err != nil {
			return i, fmt.Errorf("sample %d (t=%v): %w", i, s.Timestamp, err)
		}
	}
	return len(samples), nil
}
