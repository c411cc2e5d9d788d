// Package model defines the core data structures shared by onionhost packages.
//
// This package contains the following main types:
//   - OnionAddress: The validated, immutable address of a published onion service
//   - Session: The state accumulated while the startup pipeline runs
//   - Error: The error taxonomy used across bootstrap, publish, and proxy layers
//
// The tor, hiddenservice, proxy and pipeline packages all import model, so
// model must not import any of them.
package model
