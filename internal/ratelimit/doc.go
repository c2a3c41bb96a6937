// Package ratelimit throttles site traffic per client address.
//
// Each client gets a token bucket. Plain file requests spend one token,
// combine requests can be charged per listed item through WithCost, since a
// single combine URL can make the server open dozens of files. Buckets idle
// past the TTL are evicted in the background, and the number of tracked
// clients is capped so a spray of spoofed or rotating addresses cannot grow
// the table without bound.
//
// The limiter is in-memory and per instance. It is a local guard in front
// of the filesystem, not a replacement for upstream filtering.
package ratelimit
