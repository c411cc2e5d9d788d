// Package database provides the SQLite publication ledger of onionhost.
//
// Each start of the hidden service records the onion address it published,
// the nickname it was published under and when it stopped. The ledger lets
// the CLI print the last known address without starting Tor and warn when
// a restart produced a different address than before.
//
// The database is a single file opened through modernc.org/sqlite, which
// needs no cgo and keeps cross-compilation simple.
package database
