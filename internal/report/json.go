package report

import (
	"encoding/json"
	"io"
)

// JSONWriter outputs history in JSON format for tool integration.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// jsonHistory adds derived fields to History for JSON consumers.
type jsonHistory struct {
	*History

	CurrentHost    string   `json:"current_host,omitempty"`
	AddressChanges int      `json:"address_changes"`
	Statuses       []string `json:"statuses"`
}

// Write outputs the history in JSON format.
func (w *JSONWriter) Write(history *History) (int, error) {
	statuses := make([]string, len(history.Publications))
	for i := range history.Publications {
		statuses[i] = history.Status(i)
	}

	return w.writeJSON(jsonHistory{
		History:        history,
		CurrentHost:    history.CurrentHost(),
		AddressChanges: history.AddressChanges(),
		Statuses:       statuses,
	})
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}
