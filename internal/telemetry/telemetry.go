// Package telemetry records sync engine counters in memory. Nothing is
// transmitted anywhere; the counters are exposed over the local admin API
// only.
package telemetry

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the recorded counters.
type Snapshot struct {
	Synced     int64     `json:"synced"`
	Failed     int64     `json:"failed"`
	Retries    int64     `json:"retries"`
	Pending    int       `json:"pending"`
	LastSyncAt time.Time `json:"last_sync_at"`
}

// Recorder accumulates sync counters. It satisfies the engine's metrics
// interface and is safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	synced     int64
	failed     int64
	retries    int64
	pending    int
	lastSyncAt time.Time
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// AddSynced records n successfully replayed mutations.
func (r *Recorder) AddSynced(n int) {
	r.mu.Lock()
	r.synced += int64(n)
	r.lastSyncAt = time.Now()
	r.mu.Unlock()
}

// AddFailed records n permanently failed mutations.
func (r *Recorder) AddFailed(n int) {
	r.mu.Lock()
	r.failed += int64(n)
	r.lastSyncAt = time.Now()
	r.mu.Unlock()
}

// AddRetries records n replay retries.
func (r *Recorder) AddRetries(n int) {
	r.mu.Lock()
	r.retries += int64(n)
	r.mu.Unlock()
}

// SetPending records the current queue backlog.
func (r *Recorder) SetPending(n int) {
	r.mu.Lock()
	r.pending = n
	r.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Synced:     r.synced,
		Failed:     r.failed,
		Retries:    r.retries,
		Pending:    r.pending,
		LastSyncAt: r.lastSyncAt,
	}
}
