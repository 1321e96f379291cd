// Package httpmw provides HTTP middleware for the public edge server.
//
// httpserver.NewHandler composes them outermost first: recover, request ID,
// client address resolution, the edge policy/admission layer, OTel tracing,
// metrics, structured logging, then the chi router.
//
// Query strings, user agents and other user-supplied headers are kept out of
// log fields.
package httpmw
