// Package connectivity tracks whether the dashboard API is reachable and
// notifies subscribers of online/offline transitions.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/finboard/finboard/internal/logging"
)

// Tracker holds the current online state. Transitions are pushed to
// subscribers; only edges are delivered, not repeated states.
type Tracker struct {
	mu     sync.RWMutex
	online bool
	subs   []chan bool
}

// NewTracker creates a Tracker with the given initial state.
func NewTracker(initiallyOnline bool) *Tracker {
	return &Tracker{online: initiallyOnline}
}

// IsOnline reports the current state.
func (t *Tracker) IsOnline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online
}

// SetOnline updates the state and notifies subscribers on a transition.
func (t *Tracker) SetOnline(online bool) {
	t.mu.Lock()
	changed := t.online != online
	t.online = online
	subs := t.subs
	t.mu.Unlock()

	if !changed {
		return
	}

	logging.Info("Connectivity changed", logging.Fields{"online": online})

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			// Slow subscriber; drop rather than block the transition.
		}
	}
}

// Subscribe returns a channel receiving online/offline transitions. The
// channel is buffered; a subscriber that falls behind misses intermediate
// edges but always eventually observes the latest state via IsOnline.
func (t *Tracker) Subscribe() <-chan bool {
	ch := make(chan bool, 4)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}

// Prober periodically checks a health URL and flips the tracker state.
type Prober struct {
	tracker  *Tracker
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProber creates a Prober against the given health URL.
func NewProber(tracker *Tracker, url string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		tracker:  tracker,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Run probes until the context is cancelled. An immediate probe runs before
// the first tick.
func (p *Prober) Run(ctx context.Context) {
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// ProbeOnce runs a single probe and updates the tracker.
func (p *Prober) ProbeOnce(ctx context.Context) {
	p.probe(ctx)
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.tracker.SetOnline(false)
		return
	}
	resp.Body.Close()

	p.tracker.SetOnline(resp.StatusCode < 500)
}
