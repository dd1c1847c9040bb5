package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())

	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")

	logger.SetLevel(DebugLevel)
	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestWithFieldsInherited(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter()).WithFields(String("transport", "stdio"))

	logger.Info("connected", Int("pid", 42))

	out := buf.String()
	assert.Contains(t, out, "transport=stdio")
	assert.Contains(t, out, "pid=42")
}

func TestTextFormatterStableFieldOrder(t *testing.T) {
	f := NewTextFormatter()
	entry := &Entry{
		Level:   InfoLevel,
		Message: "m",
		Fields:  map[string]interface{}{"b": 2, "a": 1},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(out), "a=1"), strings.Index(string(out), "b=2"))
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	logger.Warn("pipe broken", ErrorField(errors.New("EPIPE")), Int64("id", 3))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "WARN", decoded["level"])
	assert.Equal(t, "pipe broken", decoded["msg"])
	assert.Equal(t, "EPIPE", decoded["error"])
	assert.Equal(t, float64(3), decoded["id"])
}

func TestNopDiscards(t *testing.T) {
	// Must not panic and must not write anywhere observable.
	logger := NewNop()
	logger.Error("nothing", Any("x", struct{}{}))
}
