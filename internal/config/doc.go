// Package config provides the configuration of onionhost: ports, Tor data
// directory, readiness polling, connection bounds and the optional
// publication ledger. Values come from defaults, the .onionhost YAML file
// and CLI flags, in that order of precedence.
package config
