// Package ratelimit admits or denies requests per client and route category
// using a fixed-window counter.
//
// Each (address, category) pair gets a counter that starts at the first
// request and is replaced once the window has elapsed. Requests are allowed
// while the count is at or below the category's limit.
//
// Counters live behind the Store interface. MemoryStore keeps them in process
// (approximate, per instance, bounded by MaxEntries), RedisStore shares them
// between instances with an atomic INCR/PEXPIRE script.
//
// What this does protect against:
//   - a single client flooding the site or the content API behind it
//   - visibility into who is being limited, with one log line per client per
//     window and a counter for every denial
//
// What this does NOT protect against:
//   - distributed attacks across many addresses
//   - bursts of up to twice the limit across a window boundary, which fixed
//     windows allow by construction
package ratelimit
