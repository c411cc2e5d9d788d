// Package readiness waits for an upstream web service to finish starting.
//
// An upstream often accepts connections well before it can serve real
// pages, answering with placeholders or errors in the meantime. A Poller
// therefore only counts responses that are 2xx/3xx and carry more than a
// minimum number of body bytes, and requires several of them in a row.
package readiness
