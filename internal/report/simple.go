package report

import (
	"fmt"
	"io"
	"strings"
)

// SimpleWriter outputs human-readable text for terminal display.
// Plain ASCII formatting keeps the output pipe friendly.
type SimpleWriter struct {
	baseWriter

	// verbose adds upstream ports and Tor mode to each entry.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the history in human-readable format.
func (w *SimpleWriter) Write(history *History) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, history)
	w.writePublications(&sb, history)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the title and the summary lines.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, history *History) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                      ONION SERVICE HISTORY\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	nickname := history.Nickname
	if nickname == "" {
		nickname = "(all)"
	}
	fmt.Fprintf(sb, "Nickname:        %s\n", nickname)
	fmt.Fprintf(sb, "Publications:    %d\n", len(history.Publications))
	if host := history.CurrentHost(); host != "" {
		fmt.Fprintf(sb, "Current Address: %s\n", host)
	}
	fmt.Fprintf(sb, "Address Changes: %d\n", history.AddressChanges())
	sb.WriteString("\n")

	if history.AddressChanges() > 0 {
		sb.WriteString("WARNING: the onion address changed at least once. Visitors using an\n")
		sb.WriteString("older address can no longer reach this service.\n\n")
	}
}

// writePublications writes one block per publication, newest first.
func (w *SimpleWriter) writePublications(sb *strings.Builder, history *History) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("PUBLICATIONS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(history.Publications) == 0 {
		sb.WriteString("  No publications recorded\n\n")
		return
	}

	for i, p := range history.Publications {
		fmt.Fprintf(sb, "  [%s] %s:%d\n", strings.ToUpper(history.Status(i)), p.OnionHost, p.OnionPort)
		fmt.Fprintf(sb, "    Nickname:  %s\n", p.Nickname)
		fmt.Fprintf(sb, "    Published: %s\n", p.PublishedAt.Format(dateLayout))
		if !p.StoppedAt.IsZero() {
			fmt.Fprintf(sb, "    Stopped:   %s\n", p.StoppedAt.Format(dateLayout))
		}
		if w.verbose {
			fmt.Fprintf(sb, "    Upstream:  127.0.0.1:%d\n", p.UpstreamPort)
			fmt.Fprintf(sb, "    Tor:       %s\n", torMode(p.ExternalTor))
		}
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by onionhost\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}

func torMode(external bool) string {
	if external {
		return "external"
	}
	return "embedded"
}
