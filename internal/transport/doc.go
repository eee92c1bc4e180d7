// Package transport implements the WebSocket transport adapter using the actor pattern.
//
// The Hub owns connection identity and room membership. A single goroutine
// processes commands from a channel (no mutexes); per-connection write
// goroutines absorb slow clients, and clients whose send buffer fills up are
// evicted rather than allowed to stall a multicast.
package transport
