// Package offline is the application-facing entry point for mutations.
//
// Callers describe what they want to change; the facade decides whether the
// mutation goes straight to the dashboard API or into the durable queue,
// based on current connectivity. UI state hooks run around either path so
// optimistic updates appear immediately and roll back when nothing was
// persisted anywhere.
package offline

import (
	"context"

	"github.com/finboard/finboard/internal/classify"
	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/invalidate"
	"github.com/finboard/finboard/internal/logging"
	"github.com/finboard/finboard/internal/models"
	"github.com/finboard/finboard/internal/queue"
	syncengine "github.com/finboard/finboard/internal/sync"
	"github.com/finboard/finboard/internal/transport"
)

// Request describes a mutation plus optional UI hooks. OnOptimisticUpdate
// runs before any persistence attempt; OnRollback runs only when the
// mutation ended up neither on the server nor in the queue.
type Request struct {
	Method  string
	URL     string
	Payload map[string]interface{}

	OnOptimisticUpdate func()
	OnRollback         func()
}

// Outcome reports where a performed mutation landed.
type Outcome struct {
	// Queued is true when the mutation was stored for later sync instead
	// of being applied directly.
	Queued bool
	// MutationID is set only when Queued.
	MutationID models.UUID
	// Response is set only on the direct path.
	Response *transport.Response
	// StaleViews lists cached views the caller should re-fetch.
	StaleViews invalidate.ViewSet
}

// Facade routes mutations between the direct transport and the queue.
type Facade struct {
	store       *queue.Store
	classifier  *classify.Classifier
	transport   transport.Client
	conn        syncengine.Connectivity
	engine      *syncengine.Engine
	invalidator *invalidate.Invalidator
}

// NewFacade creates a Facade.
func NewFacade(store *queue.Store, classifier *classify.Classifier,
	client transport.Client, conn syncengine.Connectivity,
	engine *syncengine.Engine, inv *invalidate.Invalidator) *Facade {

	return &Facade{
		store:       store,
		classifier:  classifier,
		transport:   client,
		conn:        conn,
		engine:      engine,
		invalidator: inv,
	}
}

// Perform applies a mutation: directly against the API when online, into
// the queue when offline. The optimistic hook always runs first; the
// rollback hook runs when both paths failed to persist anything.
func (f *Facade) Perform(ctx context.Context, req *Request) (*Outcome, error) {
	if req.OnOptimisticUpdate != nil {
		req.OnOptimisticUpdate()
	}

	if f.conn.IsOnline() {
		return f.performDirect(ctx, req)
	}
	return f.performQueued(req)
}

func (f *Facade) performDirect(ctx context.Context, req *Request) (*Outcome, error) {
	resp, err := f.transport.Do(ctx, &transport.Request{
		URL:     req.URL,
		Method:  req.Method,
		Payload: req.Payload,
	})
	if err != nil {
		rollback(req)
		return nil, err
	}

	views := f.invalidator.ForURL(req.URL)
	logging.Debug("Mutation applied directly", logging.Fields{
		"method": req.Method,
		"url":    req.URL,
	})

	return &Outcome{Response: resp, StaleViews: views}, nil
}

func (f *Facade) performQueued(req *Request) (*Outcome, error) {
	draft, err := f.classifier.Serialize(req.Method, req.URL, req.Payload)
	if err != nil {
		// Unclassifiable mutations are rejected up front instead of being
		// stored as records that could never replay.
		rollback(req)
		return nil, err
	}

	payload, err := draft.MarshalPayload()
	if err != nil {
		rollback(req)
		return nil, err
	}

	id, err := f.store.Enqueue(&models.QueuedMutation{
		Kind:       draft.Kind,
		TargetURL:  draft.TargetURL,
		HTTPMethod: draft.HTTPMethod,
		Payload:    payload,
	})
	if err != nil {
		rollback(req)
		return nil, err
	}

	// The optimistic update stands; views derived from the mutated entity
	// must refresh from local state rather than keep serving cached data.
	views := f.invalidator.ForKind(draft.Kind)

	logging.Info("Mutation queued for sync", logging.Fields{
		"mutation_id": id,
		"kind":        draft.Kind,
	})

	return &Outcome{Queued: true, MutationID: id, StaleViews: views}, nil
}

func rollback(req *Request) {
	if req.OnRollback != nil {
		req.OnRollback()
	}
}

// GetPendingMutations returns every queued record awaiting sync, in replay
// order.
func (f *Facade) GetPendingMutations() ([]*models.QueuedMutation, error) {
	return f.store.GetPending()
}

// GetQueueSize returns the number of stored records across all statuses.
func (f *Facade) GetQueueSize() (int, error) {
	return f.store.Size()
}

// GetQueueStats returns per-status record counts.
func (f *Facade) GetQueueStats() (*queue.Stats, error) {
	return f.store.GetStats()
}

// Sync runs one sync pass. Offline, it fails with SYNC_OFFLINE without
// touching the queue.
func (f *Facade) Sync(ctx context.Context) (*syncengine.Result, error) {
	if !f.conn.IsOnline() {
		return nil, apperrors.New(apperrors.ErrSyncOffline, "cannot sync while offline")
	}
	return f.engine.SyncAll(ctx)
}

// Clear drops every queued record regardless of status.
func (f *Facade) Clear() error {
	return f.store.Clear()
}
