package estimator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// maxMessageSize bounds a single sidecar message. Frames at 1080p BGR24 are ~6MB.
const maxMessageSize = 32 << 20

// ErrMessageTooLarge is returned when a length prefix exceeds maxMessageSize.
var ErrMessageTooLarge = errors.New("estimator: message exceeds size limit")

// request is the msgpack body sent to the sidecar for each frame.
type request struct {
	FrameData []byte      `msgpack:"frame_data"`
	Width     int         `msgpack:"width"`
	Height    int         `msgpack:"height"`
	Meta      requestMeta `msgpack:"meta"`
}

type requestMeta struct {
	Seq       uint64 `msgpack:"seq"`
	Timestamp string `msgpack:"timestamp"`
	TraceID   string `msgpack:"trace_id"`
	Source    string `msgpack:"source_stream"`
}

// response is the msgpack body the sidecar answers with.
// Ratios are nil when the pupils were not located.
type response struct {
	Seq      uint64   `msgpack:"seq"`
	HRatio   *float64 `msgpack:"h_ratio"`
	VRatio   *float64 `msgpack:"v_ratio"`
	Blinking bool     `msgpack:"blinking"`
	Error    string   `msgpack:"error,omitempty"`
}

func newRequest(frame types.Frame) request {
	return request{
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Meta: requestMeta{
			Seq:       frame.Seq,
			Timestamp: frame.Timestamp.Format(time.RFC3339Nano),
			TraceID:   frame.TraceID,
			Source:    frame.SourceStream,
		},
	}
}

func (r response) reading() Reading {
	return Reading{
		H:        ratioFrom(r.HRatio),
		V:        ratioFrom(r.VRatio),
		Blinking: r.Blinking,
	}
}

func ratioFrom(p *float64) types.Ratio {
	if p == nil {
		return types.NoRatio
	}
	return types.SomeRatio(*p)
}

// writeMessage marshals v and writes it with a 4-byte big-endian length prefix.
func writeMessage(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
// io.EOF is returned unwrapped when the stream ends cleanly between messages.
func readMessage(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read msgpack body (expected %d bytes): %w", n, err)
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
