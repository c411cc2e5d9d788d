package report

import (
	"io"
)

// Writer defines the interface for history output.
// Implementations render the same History in different formats.
type Writer interface {
	// Write outputs the history to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(history *History) (int, error)
}

// dateLayout is the timestamp layout used by the text and Markdown writers.
const dateLayout = "2006-01-02 15:04:05 MST"

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
