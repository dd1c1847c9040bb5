package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// TextFormatter renders entries as human-readable single lines.
type TextFormatter struct {
	// TimestampFormat defaults to time.RFC3339.
	TimestampFormat string
}

// NewTextFormatter creates a text formatter with default settings.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{TimestampFormat: time.RFC3339}
}

// Format implements the Formatter interface.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer

	format := f.TimestampFormat
	if format == "" {
		format = time.RFC3339
	}

	fmt.Fprintf(&buf, "%s %s %s", entry.Timestamp.Format(format), entry.Level, entry.Message)

	// Sort keys for stable output
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%v", k, entry.Fields[k])
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// JSONFormatter renders entries as single-line JSON objects.
type JSONFormatter struct{}

// NewJSONFormatter creates a JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Format implements the Formatter interface.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	out := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	out["level"] = entry.Level.String()
	out["msg"] = entry.Message
	out["ts"] = entry.Timestamp.Format(time.RFC3339Nano)

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log entry: %w", err)
	}
	return append(data, '\n'), nil
}
