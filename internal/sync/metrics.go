package sync

// Metrics captures engine-level telemetry.
type Metrics interface {
	// AddSynced increments the count of successfully replayed mutations.
	AddSynced(count int)
	// AddFailed increments the count of permanently failed mutations.
	AddFailed(count int)
	// AddRetries increments the count of replay retries.
	AddRetries(count int)
	// SetPending updates the current not-yet-confirmed record count.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// AddSynced implements Metrics.
func (NopMetrics) AddSynced(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
