// Package upstream is the hardened client for the content API.
//
// URLs are only ever built from a validated origin with BuildURL, and Fetch
// re-checks that the final URL still points at that origin before any
// request is made. Responses must be 2xx, declare a JSON content type, parse
// as JSON, have an object at the top level and pass the caller's Shape.
// Anything else is a *FetchError naming which check failed, and the caller
// gets the zero value of T, never a partially validated payload.
//
// Nothing is cached here and nothing is retried.
package upstream
