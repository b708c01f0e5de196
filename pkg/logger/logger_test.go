package logger

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	l := New(buf)
	l.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l
}

func TestLoggerEncodesSortedFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Info("sync finished", map[string]any{"host": "example.com", "destinations": 2})

	assert.Equal(t,
		"time=2024-01-02T03:04:05Z level=info msg=\"sync finished\" destinations=2 host=example.com\n",
		buf.String())
}

func TestLoggerLevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.SetLevel(LevelWarn)

	l.Debug("dropped", nil)
	l.Info("dropped", nil)
	assert.Empty(t, buf.String())

	l.Warn("kept", nil)
	assert.Contains(t, buf.String(), "level=warn msg=kept")
}

func TestLoggerErrorDoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	fields := map[string]any{"host": "h"}
	l.Error("discovery failed", errors.New("boom"), fields)

	assert.Contains(t, buf.String(), "error=boom")
	assert.NotContains(t, fields, "error")
}

func TestLoggerFatalExits(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatal("bye", nil)

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "level=fatal")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: LevelDebug},
		{in: "INFO", want: LevelInfo},
		{in: "", want: LevelInfo},
		{in: "warning", want: LevelWarn},
		{in: "error", want: LevelError},
		{in: "fatal", want: LevelFatal},
		{in: "loud", want: LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
