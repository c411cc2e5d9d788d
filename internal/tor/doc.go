// Package tor connects onionhost to the Tor network.
//
// Bootstrap starts a Tor daemon through the tornago library (or attaches to
// an already running one), authenticates against its ControlPort and waits
// until Tor reports a finished bootstrap. The resulting Client publishes
// onion services with ADD_ONION and persists their ED25519-V3 keys under
// the data directory, so a service keeps its address across restarts.
//
// Prober verifies a SOCKS5 proxy and fetches URLs through it; serve uses it
// to check that a freshly published address is reachable.
package tor
