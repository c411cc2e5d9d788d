// Package main provides the entry point for the onionhost CLI.
//
// onionhost publishes a local web service as a Tor onion service. It starts
// (or attaches to) Tor, publishes an onion address whose key is persisted
// across restarts, and forwards visitors through a local reverse proxy to
// the upstream service.
//
// Usage:
//
//	onionhost serve --port 2368
//	onionhost address
//	onionhost history --markdown
//
// See --help for all available options.
package main

// main is the entry point for onionhost.
func main() {
	Execute()
}
