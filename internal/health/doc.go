// Package health provides composable liveness and readiness probes and the
// HTTP handlers that expose them.
//
// Probes combine with [All] and [Any]. [Named] and [WithTimeout] wrap
// dependency checks (the redis rate limit store) so one slow dependency
// cannot hang a probe request. [ShutdownGate] fails readiness as soon as a
// drain begins so load balancers stop routing before in-flight requests
// finish.
package health
