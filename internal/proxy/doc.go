// Package proxy implements the local reverse proxy that sits between the
// onion service bridge and the upstream web service.
//
// The proxy listens on an ephemeral loopback port and re-issues every
// request to http://127.0.0.1:<upstream port>. Responses are fully
// buffered and decoded (gzip, deflate, brotli, zstd) before they are
// written back, so Content-Encoding and Content-Length are dropped in both
// directions. Failures to reach or read the upstream become a 502 response
// for that request only.
package proxy
