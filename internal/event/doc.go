// Package event delivers fire-and-forget lifecycle notifications such as
// "hidden service ready" to whoever subscribed. Each kind is delivered at
// most once; a subscriber that is not keeping up misses events rather than
// blocking the publisher.
package event
