package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatAuto, "auto": FormatAuto, "json": FormatJSON, "console": FormatConsole} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.Equal(t, "console", FormatConsole.String())
}

func TestSlogLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWithOptions(&buf, InfoLevel, FormatJSON, false)

	l.Debug("hidden")
	l.Info("scan complete", "port", "/dev/ttyACM0", "found", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "scan complete", rec["msg"])
	assert.Equal(t, "/dev/ttyACM0", rec["port"])
	assert.InDelta(t, 2, rec["found"], 0)
	assert.Contains(t, rec, "ts")
}

func TestSlogLogger_WithAndSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWithOptions(&buf, ErrorLevel, FormatJSON, false)
	child := l.With("id", 7)

	child.Info("dropped")
	assert.Empty(t, buf.String())

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.Level(), "child shares the parent's level")

	child.Debug("frame sent")
	assert.Contains(t, buf.String(), `"id":7`)
	assert.Contains(t, buf.String(), "frame sent")
}

func TestSetDefault(t *testing.T) {
	orig := GetLogger()
	t.Cleanup(func() { SetDefault(orig) })

	m := NewMockLogger()
	m.On("Info", "hello", []any{"k", "v"}).Once()

	SetDefault(m)
	Info("hello", "k", "v")
	SetDefault(nil)

	assert.Same(t, m, GetLogger())
	m.AssertExpectations(t)
}

func TestMockLogger_AllowChatter(t *testing.T) {
	m := NewMockLogger().AllowChatter()
	m.On("Error", "port lost", mock.Anything).Once()

	m.Debug("tx", "frame", "ffff")
	m.Warn("discarding invalid status frame")
	m.Error("port lost", "port", "/dev/ttyACM0")

	assert.True(t, m.Logged("Warn", "discarding invalid status frame"))
	assert.False(t, m.Logged("Info", "tx"))
	m.AssertExpectations(t)
}
