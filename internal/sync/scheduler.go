package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/finboard/finboard/internal/connectivity"
	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/logging"
)

// Scheduler runs background sync passes: periodically while online, and
// immediately on an offline-to-online transition.
type Scheduler struct {
	engine   *Engine
	tracker  *connectivity.Tracker
	interval time.Duration

	mu        stdsync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        stdsync.WaitGroup
}

// NewScheduler creates a Scheduler. interval <= 0 selects 5 minutes.
func NewScheduler(engine *Engine, tracker *connectivity.Tracker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		engine:   engine,
		tracker:  tracker,
		interval: interval,
	}
}

// Start launches the background loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Background sync scheduler started", logging.Fields{
		"interval": s.interval.String(),
	})
}

// Stop stops the background loop and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	transitions := s.tracker.Subscribe()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case online := <-transitions:
			if online {
				s.run(ctx, "reconnect")
			}
		case <-ticker.C:
			if s.tracker.IsOnline() {
				s.run(ctx, "periodic")
			}
		}
	}
}

func (s *Scheduler) run(ctx context.Context, trigger string) {
	result, err := s.engine.SyncAll(ctx)
	if err != nil {
		// Another pass in flight or a race with connectivity; both resolve
		// themselves by the next trigger.
		if apperrors.Is(err, apperrors.ErrSyncInProgress) || apperrors.Is(err, apperrors.ErrSyncOffline) {
			logging.Debug("Scheduled sync skipped", logging.Fields{
				"trigger": trigger,
				"reason":  string(apperrors.Code(err)),
			})
			return
		}
		logging.Error("Scheduled sync failed", err, logging.Fields{"trigger": trigger})
		return
	}

	if result.Total > 0 {
		logging.Info("Scheduled sync completed", logging.Fields{
			"trigger": trigger,
			"synced":  result.Synced,
			"failed":  result.Failed,
		})
	}
}

// IsRunning reports whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
