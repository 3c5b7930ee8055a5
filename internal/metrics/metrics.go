// Package metrics exposes a small recorder abstraction so services can emit
// counters and latencies without binding to a metrics backend.
package metrics

import "time"

// Recorder records operational metrics. Label maps use the "target" key for
// the chain, rate pair or settlement backend the event applies to.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
