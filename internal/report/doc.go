// Package report renders the publication history recorded in the ledger.
//
// This package contains writers for different output formats:
//   - SimpleWriter: Human-readable text output for terminal display
//   - JSONWriter: Structured JSON output for tool integration
//   - MarkdownWriter: GitHub flavored Markdown with tables and alerts
//
// Writers implement the Writer interface, allowing them to be used
// interchangeably by the history command.
package report
