package metrics

import "time"

// NoopRecorder discards all metrics. Used in tests and tools.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
