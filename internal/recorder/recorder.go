// Package recorder buffers the engine's frame and event rows in memory and
// exports them on demand.
//
// Nothing is written until Export/ExportFile is called. A crash before export
// loses the session's rows; callers arrange an export on every exit path.
//
// FRAME rows carry h/v with 3 decimals, event rows amp/vel/dt with 3
// decimals; timestamps are written at full precision. A re-read log is
// therefore exact to within 5e-4 on those fields, not to float64 rounding.
// The SQLite export stores the same formatted rows.
package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// FrameType is the type column of per-tick rows.
const FrameType = "FRAME"

// Header is the first row of every export.
var Header = []string{"timestamp", "type", "field1", "field2", "field3"}

// ErrNoRows is returned by ReadCSV when the input has no header row.
var ErrNoRows = errors.New("recorder: no rows")

// Row is one buffered log line. Fields are formatted at append time so an
// export is a plain copy.
type Row struct {
	Timestamp float64
	Type      string
	Field1    string
	Field2    string
	Field3    string
}

// IsFrame reports whether the row is a per-tick FRAME row.
func (r Row) IsFrame() bool { return r.Type == FrameType }

func (r Row) record() []string {
	return []string{formatTimestamp(r.Timestamp), r.Type, r.Field1, r.Field2, r.Field3}
}

// FrameRow formats a FRAME row: h=0.512|h=None, v=…, blink=true|false.
func FrameRow(t float64, h, v types.Ratio, blink bool) Row {
	return Row{
		Timestamp: t,
		Type:      FrameType,
		Field1:    "h=" + h.String(),
		Field2:    "v=" + v.String(),
		Field3:    "blink=" + strconv.FormatBool(blink),
	}
}

// EventRow formats an event row stamped with the event's emission time.
// Jitter rows carry amp=0.000 and dt=0.000.
func EventRow(e types.Event) Row {
	return Row{
		Timestamp: e.Time(),
		Type:      types.Label(e),
		Field1:    fmt.Sprintf("amp=%.3f", e.Magnitude()),
		Field2:    fmt.Sprintf("vel=%.3f", e.Speed()),
		Field3:    fmt.Sprintf("dt=%.3f", e.Duration()),
	}
}

// Recorder is the production gaze.Sink.
//
// Appends and exports are serialized by a mutex, so health endpoints may call
// Len while the tick loop appends. Export never clears the buffer: a failed
// export can be retried and a successful one repeated.
type Recorder struct {
	mu     sync.Mutex
	rows   []Row
	logger *slog.Logger
}

// New creates an empty recorder. A nil logger means slog.Default().
func New(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// LogFrame appends a FRAME row.
func (r *Recorder) LogFrame(t float64, h, v types.Ratio, blink bool) {
	r.append(FrameRow(t, h, v, blink))
}

// LogEvent appends an event row.
func (r *Recorder) LogEvent(e types.Event) {
	r.append(EventRow(e))
}

func (r *Recorder) append(row Row) {
	r.mu.Lock()
	r.rows = append(r.rows, row)
	r.mu.Unlock()
}

// Len returns the number of buffered rows.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Rows returns a copy of the buffered rows in emission order.
func (r *Recorder) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Row, len(r.rows))
	copy(out, r.rows)
	return out
}

// Export writes the header and every buffered row to w as CSV.
// Returns the number of data rows written.
func (r *Recorder) Export(w io.Writer) (int, error) {
	return WriteCSV(w, r.Rows())
}

// ExportFile writes the log to path. The data goes to a temporary file in the
// same directory which is renamed over path once complete, so a failed export
// never leaves a truncated log behind.
func (r *Recorder) ExportFile(path string) (int, error) {
	rows := r.Rows()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	n, err := WriteCSV(tmp, rows)
	if err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}

	abs, _ := filepath.Abs(path)
	r.logger.Info("gaze log exported",
		"rows", n,
		"path", abs,
	)
	return n, nil
}

// WriteCSV writes Header followed by rows.
func WriteCSV(w io.Writer, rows []Row) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for i, row := range rows {
		if err := cw.Write(row.record()); err != nil {
			return 0, fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(rows), nil
}

// ReadCSV parses an exported log. The header must match Header.
func ReadCSV(rd io.Reader) ([]Row, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected csv header %v, want %v", header, Header)
		}
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(rows)+1, err)
		}

		ts, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: parse timestamp %q: %w", len(rows)+1, rec[0], err)
		}
		rows = append(rows, Row{
			Timestamp: ts,
			Type:      rec[1],
			Field1:    rec[2],
			Field2:    rec[3],
			Field3:    rec[4],
		})
	}
	return rows, nil
}

// ReadFile parses the exported log at path.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gaze log: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// formatTimestamp keeps full precision so a re-read log round-trips exactly.
func formatTimestamp(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
