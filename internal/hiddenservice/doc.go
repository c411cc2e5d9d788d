// Package hiddenservice publishes a local port as a Tor onion service and
// keeps the bridge between the onion service and that port alive.
//
// A Manager moves through three states: NotStarted, Running and Stopped.
// Start asks a Launcher for an onion service under a fixed nickname, so the
// same data directory always yields the same address, and then relays every
// rendezvous connection to 127.0.0.1:<local port>. Stop tears the service
// down and is terminal; a stopped Manager cannot be restarted.
//
// The Launcher and OnionService interfaces are implemented by the tor
// package against a real Tor daemon and by fakes in tests.
package hiddenservice
