package recorder

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-gaze/internal/types"
)

func fillRecorder(r *Recorder) {
	r.LogFrame(0, types.SomeRatio(0.5), types.SomeRatio(0.0), false)
	r.LogFrame(1, types.SomeRatio(0.5), types.SomeRatio(0.6), false)
	r.LogEvent(types.SaccadeEvent{Start: 0, End: 1, Amplitude: 0.6, Velocity: 0.6, Axis: types.AxisV})
	r.LogFrame(2, types.NoRatio, types.NoRatio, true)
	r.LogFrame(3, types.SomeRatio(0.5), types.SomeRatio(0.67), false)
	r.LogEvent(types.JitterEvent{Timestamp: 3, Velocity: 0.07, Axis: types.AxisV})
}

func TestRecorder_ExportFormat(t *testing.T) {
	r := New(nil)
	fillRecorder(r)

	var buf bytes.Buffer
	n, err := r.Export(&buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	want := strings.Join([]string{
		"timestamp,type,field1,field2,field3",
		"0,FRAME,h=0.500,v=0.000,blink=false",
		"1,FRAME,h=0.500,v=0.600,blink=false",
		"1,V-SACCADE,amp=0.600,vel=0.600,dt=1.000",
		"2,FRAME,h=None,v=None,blink=true",
		"3,FRAME,h=0.500,v=0.670,blink=false",
		"3,V-JITTER,amp=0.000,vel=0.070,dt=0.000",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

func TestRecorder_ExportIsRepeatable(t *testing.T) {
	r := New(nil)
	fillRecorder(r)

	var a, b bytes.Buffer
	_, err := r.Export(&a)
	require.NoError(t, err)
	_, err = r.Export(&b)
	require.NoError(t, err)

	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, 6, r.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecorder_FailedExportKeepsBuffer(t *testing.T) {
	r := New(nil)
	fillRecorder(r)

	_, err := r.Export(failingWriter{})
	require.Error(t, err)
	assert.Equal(t, 6, r.Len())

	var buf bytes.Buffer
	n, err := r.Export(&buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

// Export then re-read: one header plus one row per logged frame/event, in
// emission order, numeric fields within rounding.
func TestRecorder_RoundTrip(t *testing.T) {
	r := New(nil)
	r.LogFrame(1712345678.123456, types.SomeRatio(0.123456), types.NoRatio, false)
	r.LogEvent(types.SaccadeEvent{Start: 1712345678.1, End: 1712345678.123456, Amplitude: 0.25, Velocity: -10.7, Axis: types.AxisH})

	var buf bytes.Buffer
	_, err := r.Export(&buf)
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, r.Rows(), rows)

	assert.True(t, rows[0].IsFrame())
	assert.Equal(t, "h=0.123", rows[0].Field1)
	assert.Equal(t, "H-SACCADE", rows[1].Type)
	assert.Equal(t, 1712345678.123456, rows[1].Timestamp)
	assert.Equal(t, "dt=0.023", rows[1].Field3)
}

func TestRecorder_ExportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gaze_log.csv")

	r := New(nil)
	fillRecorder(r)

	n, err := r.ExportFile(path)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	rows, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, rows, 6)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")
}

func TestRecorder_ExportFileMissingDirKeepsBuffer(t *testing.T) {
	r := New(nil)
	fillRecorder(r)

	_, err := r.ExportFile(filepath.Join(t.TempDir(), "missing", "gaze_log.csv"))
	require.Error(t, err)
	assert.Equal(t, 6, r.Len())
}

func TestRecorder_ConcurrentAppendAndLen(t *testing.T) {
	r := New(nil)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				r.LogFrame(float64(i), types.NoRatio, types.NoRatio, false)
				_ = r.Len()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, r.Len())
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = ReadCSV(strings.NewReader("t,kind,a,b,c\n"))
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("timestamp,type,field1,field2,field3\nnot-a-number,FRAME,h=None,v=None,blink=false\n"))
	assert.Error(t, err)

	rows, err := ReadCSV(strings.NewReader("timestamp,type,field1,field2,field3\n"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecorder_RoundTripPrecision(t *testing.T) {
	r := New(nil)
	r.LogFrame(0.123456789, types.SomeRatio(0.12345), types.SomeRatio(0.98771), false)
	r.LogEvent(types.SaccadeEvent{Start: 0.1, End: 0.123456789, Amplitude: 0.61239, Velocity: -26.54321, Axis: types.AxisH})

	var buf bytes.Buffer
	_, err := r.Export(&buf)
	require.NoError(t, err)

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// timestamps are exact, ratios and event fields keep 3 decimals
	assert.Equal(t, 0.123456789, rows[0].Timestamp)
	assert.Equal(t, 0.123456789, rows[1].Timestamp)
	assert.Equal(t, "h=0.123", rows[0].Field1)
	assert.Equal(t, "v=0.988", rows[0].Field2)
	assert.Equal(t, "amp=0.612", rows[1].Field1)
	assert.Equal(t, "vel=-26.543", rows[1].Field2)
}
