// Package log provides secure logging for onionhost, built on top of the
// standard slog package.
//
// The SecureHandler sanitizes log output before it reaches the underlying
// handler:
//   - Attributes with sensitive names (cookie, authorization, control_password,
//     private_key) are replaced by MaskValue
//   - Values that look like secrets are replaced as a whole: Tor onion service
//     keys ("ED25519-V3:..."), hex control cookies, hashed control passwords,
//     the "== ed25519v1-secret:" header of hs_ed25519_secret_key files
//   - Secrets embedded in longer text, such as an echoed ADD_ONION or
//     AUTHENTICATE command in a Tor log line, are masked in place
//
// Even in verbose mode, sensitive values are masked, so logs can be shared
// when reporting a problem without leaking the key that defines the onion
// address.
//
// # Usage
//
//	logger := log.New(os.Stderr, log.Options{Verbose: true})
//	slog.SetDefault(logger)
//
// # Integration with tornago
//
// tornago accepts a slog logger through tornago.NewSlogAdapter, so Tor
// daemon and ControlPort logs pass through the same sanitization.
package log
