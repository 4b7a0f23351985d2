package wifi

// Metrics receives subsystem counters. internal/metrics provides the
// Prometheus implementation.
type Metrics interface {
	AttemptStarted()
	AttemptFinished(outcome EventType)
	ActivationRequested(newProfile bool)
	VisibleAccessPoints(n int)
}

type nopMetrics struct{}

func (nopMetrics) AttemptStarted()           {}
func (nopMetrics) AttemptFinished(EventType) {}
func (nopMetrics) ActivationRequested(bool)  {}
func (nopMetrics) VisibleAccessPoints(int)   {}
