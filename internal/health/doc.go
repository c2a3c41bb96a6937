// Package health provides composable probes and the HTTP handlers that
// expose them as /-/healthy and /-/ready.
//
// Probes combine with [All] and [Any]; [Fixed] and [DirProbe] are the
// leaves. [ShutdownGate] flips readiness off at the start of a drain so
// traffic moves elsewhere before the listeners close.
package health
