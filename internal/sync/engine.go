// Package sync drains the mutation queue against the dashboard API.
//
// The engine replays queued mutations strictly sequentially in enqueue order
// (ordering over throughput: one slow mutation head-of-line-blocks the rest
// of the pass). Each record gets a bounded retry loop with exponential
// backoff; permanent failures mark the record failed and never abort the
// pass. At most one pass runs at a time, enforced by an explicit guard.
package sync

import (
	"context"
	"math"
	stdsync "sync"
	"time"

	"github.com/finboard/finboard/internal/classify"
	"github.com/finboard/finboard/internal/conflict"
	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/invalidate"
	"github.com/finboard/finboard/internal/logging"
	"github.com/finboard/finboard/internal/models"
	"github.com/finboard/finboard/internal/queue"
	"github.com/finboard/finboard/internal/transport"
)

const (
	// DefaultMaxRetries caps failed replay attempts per record.
	DefaultMaxRetries = 5
	// DefaultInitialDelay is the first backoff delay; it doubles per retry
	// (1s, 2s, 4s, 8s, 16s).
	DefaultInitialDelay = time.Second
)

// Progress is broadcast at the start of a pass, after each attempted record,
// and at completion.
type Progress struct {
	Total      int  `json:"total"`
	Synced     int  `json:"synced"`
	Failed     int  `json:"failed"`
	Percentage int  `json:"percentage"`
	InProgress bool `json:"in_progress"`
}

// ProgressFunc observes progress events.
type ProgressFunc func(Progress)

// StaleFunc observes view sets invalidated by successful replays.
type StaleFunc func(invalidate.ViewSet)

// Connectivity answers whether the dashboard API is currently reachable.
type Connectivity interface {
	IsOnline() bool
}

// Sleeper waits for a backoff delay, honoring context cancellation.
// Injectable for deterministic tests.
type Sleeper func(ctx context.Context, d time.Duration) error

// Result summarizes a completed pass.
type Result struct {
	Total    int
	Synced   int
	Failed   int
	Duration time.Duration
}

// Engine orchestrates queue draining.
type Engine struct {
	store       *queue.Store
	classifier  *classify.Classifier
	transport   transport.Client
	conn        Connectivity
	invalidator *invalidate.Invalidator

	maxRetries   int
	initialDelay time.Duration
	sleep        Sleeper
	metrics      Metrics

	obsMu     stdsync.RWMutex
	observers []ProgressFunc
	staleObs  []StaleFunc

	// Single-flight guard: concurrent SyncAll invocations are rejected
	// rather than racing on the store.
	passMu stdsync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetries overrides the per-record retry cap.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithInitialDelay overrides the first backoff delay.
func WithInitialDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.initialDelay = d
		}
	}
}

// WithSleeper overrides the backoff sleep, for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithInvalidator attaches the cache invalidator consulted after successful
// replays.
func WithInvalidator(inv *invalidate.Invalidator) Option {
	return func(e *Engine) {
		e.invalidator = inv
	}
}

// NewEngine creates an Engine.
func NewEngine(store *queue.Store, classifier *classify.Classifier,
	client transport.Client, conn Connectivity, opts ...Option) *Engine {

	e := &Engine{
		store:        store,
		classifier:   classifier,
		transport:    client,
		conn:         conn,
		maxRetries:   DefaultMaxRetries,
		initialDelay: DefaultInitialDelay,
		sleep:        ctxSleep,
		metrics:      NopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnProgress registers a progress observer.
func (e *Engine) OnProgress(fn ProgressFunc) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, fn)
}

// OnStale registers an observer for invalidated views.
func (e *Engine) OnStale(fn StaleFunc) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.staleObs = append(e.staleObs, fn)
}

// SyncAll drains the queue once. Offline, it does nothing: no store writes,
// no progress events, and a SYNC_OFFLINE error. A pass already in flight
// yields SYNC_IN_PROGRESS.
func (e *Engine) SyncAll(ctx context.Context) (*Result, error) {
	if !e.passMu.TryLock() {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.passMu.Unlock()

	if !e.conn.IsOnline() {
		return nil, apperrors.New(apperrors.ErrSyncOffline, "device is offline")
	}

	records, err := e.store.GetPending()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &Result{}, nil
	}

	start := time.Now()
	total := len(records)
	synced, failed := 0, 0

	logging.Info("Sync pass started", logging.Fields{"total": total})
	e.broadcast(Progress{Total: total, InProgress: true})

	var passErr error
	for _, rec := range records {
		// Connectivity is re-checked before every attempt; records not yet
		// attempted when the device goes offline are deferred to the next
		// pass instead of being left in a stale syncing state.
		if !e.conn.IsOnline() {
			if err := e.store.SetStatus(rec.ID, models.StatusPending, ""); err != nil {
				logging.Error("Failed to defer mutation", err, logging.Fields{"mutation_id": rec.ID})
			}
			continue
		}

		err := e.syncOne(ctx, rec)
		if err == nil {
			synced++
		} else {
			failed++
			if ctx.Err() != nil {
				passErr = ctx.Err()
			}
		}

		done := synced + failed
		e.broadcast(Progress{
			Total:      total,
			Synced:     synced,
			Failed:     failed,
			Percentage: percentage(done, total),
			InProgress: done < total,
		})

		if passErr != nil {
			break
		}
	}

	e.broadcast(Progress{
		Total:      total,
		Synced:     synced,
		Failed:     failed,
		Percentage: 100,
		InProgress: false,
	})

	e.metrics.AddSynced(synced)
	e.metrics.AddFailed(failed)
	if stats, err := e.store.GetStats(); err == nil {
		e.metrics.SetPending(stats.Pending + stats.Syncing + stats.Failed)
	}

	result := &Result{
		Total:    total,
		Synced:   synced,
		Failed:   failed,
		Duration: time.Since(start),
	}

	logging.Info("Sync pass completed", logging.Fields{
		"total":  result.Total,
		"synced": result.Synced,
		"failed": result.Failed,
	})

	return result, passErr
}

// syncOne replays a single record with bounded retries. An explicit loop
// with an awaited sleep replaces recursion so the call stack stays flat
// across backoff rounds.
func (e *Engine) syncOne(ctx context.Context, rec *models.QueuedMutation) error {
	for {
		if err := e.store.SetStatus(rec.ID, models.StatusSyncing, ""); err != nil {
			return err
		}

		req, err := e.classifier.Deserialize(rec)
		if err != nil {
			// Unreadable payloads never retry; the record is parked failed.
			e.store.SetStatus(rec.ID, models.StatusFailed, err.Error())
			logging.Error("Mutation payload unreadable", err, logging.Fields{"mutation_id": rec.ID})
			return err
		}

		resp, replayErr := e.transport.Do(ctx, &transport.Request{
			URL:     req.URL,
			Method:  req.Method,
			Payload: req.Payload,
		})

		if replayErr == nil {
			e.resolveConflict(rec, req, resp)
			if err := e.store.Remove(rec.ID); err != nil {
				return err
			}
			e.notifyStale(rec)
			logging.Info("Mutation synced", logging.Fields{
				"mutation_id": rec.ID,
				"kind":        rec.Kind,
				"status_code": resp.StatusCode,
			})
			return nil
		}

		retries, err := e.store.IncrementRetry(rec.ID)
		if err != nil {
			return err
		}
		e.metrics.AddRetries(1)

		if retries >= e.maxRetries {
			if err := e.store.SetStatus(rec.ID, models.StatusFailed, replayErr.Error()); err != nil {
				return err
			}
			logging.Warn("Mutation failed permanently", logging.Fields{
				"mutation_id": rec.ID,
				"kind":        rec.Kind,
				"retries":     retries,
				"error":       replayErr.Error(),
			})
			return apperrors.Wrap(apperrors.ErrMaxRetriesExceeded, "mutation replay exhausted retries", replayErr)
		}

		delay := e.initialDelay << uint(retries-1)
		logging.Debug("Mutation replay failed, backing off", logging.Fields{
			"mutation_id": rec.ID,
			"retries":     retries,
			"delay_ms":    delay.Milliseconds(),
			"error":       replayErr.Error(),
		})

		if err := e.sleep(ctx, delay); err != nil {
			// Cancelled mid-backoff; defer the record to the next pass.
			e.store.SetStatus(rec.ID, models.StatusPending, "")
			return err
		}
	}
}

// resolveConflict compares the server timestamp from the replay response
// with any client timestamp embedded in the payload. A server verdict needs
// no action here: invalidation causes dependent views to re-fetch truth.
func (e *Engine) resolveConflict(rec *models.QueuedMutation, req *classify.ReplayRequest, resp *transport.Response) {
	serverTS := resp.UpdatedAt()
	clientTS := transport.ParseTimestamp(req.Payload["updated_at"])

	winner := conflict.Resolve(serverTS, clientTS)
	if winner == conflict.WinnerServer && clientTS != nil {
		logging.Debug("Conflict resolved in favor of server", logging.Fields{
			"mutation_id": rec.ID,
			"url":         rec.TargetURL,
		})
	}
}

// notifyStale fans out the views invalidated by a successful replay.
func (e *Engine) notifyStale(rec *models.QueuedMutation) {
	if e.invalidator == nil {
		return
	}

	views := e.invalidator.ForURL(rec.TargetURL)

	e.obsMu.RLock()
	obs := e.staleObs
	e.obsMu.RUnlock()
	for _, fn := range obs {
		fn(views)
	}
}

func (e *Engine) broadcast(p Progress) {
	e.obsMu.RLock()
	obs := e.observers
	e.obsMu.RUnlock()
	for _, fn := range obs {
		fn(p)
	}
}

func percentage(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// ctxSleep waits for d or until the context is done.
func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
