// Package pipeline brings an onion service up in a fixed order of steps.
//
// The startup sequence is:
//
//  1. bind_proxy: start the local reverse proxy on an ephemeral loopback port
//  2. bootstrap_tor: start an embedded Tor daemon or attach to an external one
//  3. publish_onion: publish the onion service and bridge it to the proxy
//  4. record_publication: store the address in the ledger and warn on change
//  5. self_check (optional): fetch the onion URL through Tor
//
// Each step implements Step and receives the model.Session populated by the
// previous steps. The pipeline stops at the first failing step.
//
// The Orchestrator runs the pipeline next to readiness polling of the
// upstream web service and publishes the outcome of both on an event.Bus.
// The resources acquired by the steps are held by a Runtime and released
// in reverse order when the returned Service is stopped.
package pipeline
