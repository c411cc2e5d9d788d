package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs history in GitHub flavored Markdown, for pasting
// into an operations log or an issue.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the history in Markdown format.
func (w *MarkdownWriter) Write(history *History) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, history)
	w.writeAlert(md, history)
	w.writeHosts(md, history)
	w.writePublications(md, history)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the title and the summary table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, history *History) {
	md.H1("Onion Service History")
	md.PlainText("")

	nickname := history.Nickname
	if nickname == "" {
		nickname = "(all)"
	}
	current := "-"
	if host := history.CurrentHost(); host != "" {
		current = "`" + host + "`"
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Nickname", nickname},
			{"Current Address", current},
			{"Publications", strconv.Itoa(len(history.Publications))},
			{"Address Changes", strconv.Itoa(history.AddressChanges())},
			{"Generated", history.GeneratedAt.Format(dateLayout)},
		},
	})
	md.PlainText("")
}

// writeAlert warns when the address changed between publications.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, history *History) {
	switch {
	case len(history.Publications) == 0:
		md.Note("No publications recorded yet. Run `onionhost serve` to publish the service.")
	case history.AddressChanges() > 0:
		md.Warningf(
			"The onion address changed %d time(s). Visitors using an older address can no longer reach this service.",
			history.AddressChanges(),
		)
	default:
		md.Tip("The onion address has been stable across all recorded publications.")
	}
	md.PlainText("")
}

// writeHosts writes a pie chart of publications per host when more than
// one host was used.
func (w *MarkdownWriter) writeHosts(md *markdown.Markdown, history *History) {
	hosts, counts := history.HostCounts()
	if len(hosts) < 2 {
		return
	}

	md.H2("Addresses")
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Publications per Address"),
		piechart.WithShowData(true),
	)
	for _, host := range hosts {
		chart.LabelAndIntValue(shortHost(host), uint64(counts[host])) //nolint:gosec // counts are positive
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writePublications writes a table with one row per publication.
func (w *MarkdownWriter) writePublications(md *markdown.Markdown, history *History) {
	md.H2("Publications")
	md.PlainText("")

	if len(history.Publications) == 0 {
		md.PlainText("No publications recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(history.Publications))
	for i, p := range history.Publications {
		stopped := "-"
		if !p.StoppedAt.IsZero() {
			stopped = p.StoppedAt.Format(dateLayout)
		}
		rows[i] = []string{
			strconv.FormatInt(p.ID, 10),
			p.Nickname,
			"`" + p.OnionHost + ":" + strconv.Itoa(p.OnionPort) + "`",
			strconv.Itoa(p.UpstreamPort),
			torMode(p.ExternalTor),
			p.PublishedAt.Format(dateLayout),
			stopped,
			history.statusTitle(i),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"ID", "Nickname", "Address", "Upstream", "Tor", "Published", "Stopped", "Status"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [onionhost](https://github.com/nao1215/onionhost)*")
}

// shortHost shortens a 62 character onion host for chart labels.
func shortHost(host string) string {
	const keep = 16
	if len(host) <= keep+len("....onion") {
		return host
	}
	return host[:keep] + "....onion"
}
