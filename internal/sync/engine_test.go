package sync

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finboard/finboard/internal/classify"
	"github.com/finboard/finboard/internal/db"
	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/invalidate"
	"github.com/finboard/finboard/internal/models"
	"github.com/finboard/finboard/internal/queue"
	"github.com/finboard/finboard/internal/transport"
)

// fakeTransport records replay calls and answers them via a scripted handler.
type fakeTransport struct {
	mu      stdsync.Mutex
	calls   []transport.Request
	handler func(call int, req *transport.Request) (*transport.Response, error)
}

func (f *fakeTransport) Do(_ context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.handler(n, req)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) callURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	urls := make([]string, len(f.calls))
	for i, c := range f.calls {
		urls[i] = c.URL
	}
	return urls
}

func alwaysOK(status int) func(int, *transport.Request) (*transport.Response, error) {
	return func(int, *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: status}, nil
	}
}

func alwaysFail() func(int, *transport.Request) (*transport.Response, error) {
	return func(_ int, req *transport.Request) (*transport.Response, error) {
		return nil, apperrors.Newf(apperrors.ErrTransportFailure,
			"%s %s returned HTTP 500", req.Method, req.URL)
	}
}

// fakeConn is a settable connectivity signal.
type fakeConn struct {
	online atomic.Bool
}

func newFakeConn(online bool) *fakeConn {
	c := &fakeConn{}
	c.online.Store(online)
	return c
}

func (c *fakeConn) IsOnline() bool { return c.online.Load() }

// recordedSleeper captures backoff delays without actually waiting.
type recordedSleeper struct {
	mu     stdsync.Mutex
	delays []time.Duration
}

func (r *recordedSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func testEngineClassifier() *classify.Classifier {
	rules := []classify.Rule{
		{Method: "POST", Prefix: "/items", Shape: classify.ShapeCollection, Kind: "item.create"},
		{Method: "PATCH", Prefix: "/items", Shape: classify.ShapeItem, Kind: "item.update"},
		{Method: "DELETE", Prefix: "/items", Shape: classify.ShapeItem, Kind: "item.delete"},
	}
	return classify.NewClassifier(rules, map[string]classify.EntityKind{"/items": "item"})
}

func newEngineStore(t *testing.T) *queue.Store {
	t.Helper()

	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.NewMigrator(database.DB).Up())

	return queue.NewStore(database.DB, 100)
}

func enqueue(t *testing.T, s *queue.Store, kind, method, url, payload string) models.UUID {
	t.Helper()
	if payload == "" {
		payload = "{}"
	}
	id, err := s.Enqueue(&models.QueuedMutation{
		Kind:       models.MutationKind(kind),
		TargetURL:  url,
		HTTPMethod: method,
		Payload:    json.RawMessage(payload),
	})
	require.NoError(t, err)
	return id
}

func collectProgress(e *Engine) *[]Progress {
	var events []Progress
	e.OnProgress(func(p Progress) { events = append(events, p) })
	return &events
}

func TestSyncAllOfflineShortCircuit(t *testing.T) {
	store := newEngineStore(t)
	id := enqueue(t, store, "item.create", "POST", "/items", `{"name":"x"}`)

	ft := &fakeTransport{handler: alwaysOK(200)}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(false))
	events := collectProgress(e)

	_, err := e.SyncAll(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncOffline))

	// Zero attempts, zero events, zero store mutations
	assert.Equal(t, 0, ft.callCount())
	assert.Empty(t, *events)

	rec, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Retries)
}

func TestSyncAllEmptyQueue(t *testing.T) {
	store := newEngineStore(t)
	ft := &fakeTransport{handler: alwaysOK(200)}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true))
	events := collectProgress(e)

	result, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Empty(t, *events)
}

func TestSyncAllFIFOOrdering(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.create", "POST", "/items", `{"name":"a"}`)
	enqueue(t, store, "item.update", "PATCH", "/items/1", `{"name":"b"}`)
	enqueue(t, store, "item.delete", "DELETE", "/items/2", "")

	ft := &fakeTransport{handler: alwaysOK(200)}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true))

	result, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Synced)

	assert.Equal(t, []string{"/items", "/items/1", "/items/2"}, ft.callURLs())
}

func TestSyncAllSuccessDeletesRecord(t *testing.T) {
	store := newEngineStore(t)
	id := enqueue(t, store, "item.create", "POST", "/items", `{"name":"x"}`)

	ft := &fakeTransport{handler: alwaysOK(201)}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true))

	_, err := e.SyncAll(context.Background())
	require.NoError(t, err)

	rec, err := store.Get(id)
	require.NoError(t, err)
	assert.Nil(t, rec)

	size, _ := store.Size()
	assert.Equal(t, 0, size)
}

func TestSyncAllScenarioCreateSucceeds(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.create", "POST", "/items", `{"name":"x"}`)

	size, _ := store.Size()
	require.Equal(t, 1, size)

	ft := &fakeTransport{handler: alwaysOK(201)}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true))
	events := collectProgress(e)

	_, err := e.SyncAll(context.Background())
	require.NoError(t, err)

	size, _ = store.Size()
	assert.Equal(t, 0, size)

	require.NotEmpty(t, *events)
	last := (*events)[len(*events)-1]
	assert.Equal(t, Progress{Total: 1, Synced: 1, Failed: 0, Percentage: 100, InProgress: false}, last)
}

func TestSyncOneRetryCap(t *testing.T) {
	store := newEngineStore(t)
	id := enqueue(t, store, "item.create", "POST", "/items", `{"name":"x"}`)

	ft := &fakeTransport{handler: alwaysFail()}
	sleeper := &recordedSleeper{}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true),
		WithSleeper(sleeper.sleep))

	result, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	rec, err := store.Get(id)
	require.NoError(t, err)
	require.NotNil(t, rec, "permanently failed record must not be deleted")
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, 5, rec.Retries)
	assert.Contains(t, rec.LastError, "HTTP 500")

	// 5 attempts, with doubling backoff between them
	assert.Equal(t, 5, ft.callCount())
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, sleeper.delays)

	size, _ := store.Size()
	assert.Equal(t, 1, size)
}

func TestSyncAllReentryGrantsOneAttempt(t *testing.T) {
	store := newEngineStore(t)
	id := enqueue(t, store, "item.create", "POST", "/items", `{"name":"x"}`)

	ft := &fakeTransport{handler: alwaysFail()}
	sleeper := &recordedSleeper{}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true),
		WithSleeper(sleeper.sleep))

	// First pass exhausts the retry budget.
	_, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, ft.callCount())

	// A later pass picks the failed record up again, grants exactly one
	// fresh attempt, and re-fails immediately without more backoff.
	firstPassSleeps := len(sleeper.delays)
	_, err = e.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, ft.callCount())
	assert.Len(t, sleeper.delays, firstPassSleeps)

	rec, _ := store.Get(id)
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusFailed, rec.Status)
}

func TestSyncAllProgressSequence(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.create", "POST", "/items", `{"name":"a"}`)
	enqueue(t, store, "item.update", "PATCH", "/items/1", `{"name":"b"}`)

	// First record succeeds, second fails permanently.
	ft := &fakeTransport{handler: func(_ int, req *transport.Request) (*transport.Response, error) {
		if req.Method == "POST" {
			return &transport.Response{StatusCode: 201}, nil
		}
		return nil, apperrors.New(apperrors.ErrTransportFailure, "HTTP 500")
	}}
	sleeper := &recordedSleeper{}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true),
		WithSleeper(sleeper.sleep))
	events := collectProgress(e)

	_, err := e.SyncAll(context.Background())
	require.NoError(t, err)

	require.Len(t, *events, 4)
	assert.Equal(t, Progress{Total: 2, Synced: 0, Failed: 0, Percentage: 0, InProgress: true}, (*events)[0])
	assert.Equal(t, Progress{Total: 2, Synced: 1, Failed: 0, Percentage: 50, InProgress: true}, (*events)[1])
	assert.Equal(t, Progress{Total: 2, Synced: 1, Failed: 1, Percentage: 100, InProgress: false}, (*events)[2])
	assert.Equal(t, Progress{Total: 2, Synced: 1, Failed: 1, Percentage: 100, InProgress: false}, (*events)[3])
}

func TestSyncAllPermanentFailureDoesNotBlockBatch(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.update", "PATCH", "/items/1", `{"name":"a"}`)
	idB := enqueue(t, store, "item.create", "POST", "/items", `{"name":"b"}`)

	// The first (PATCH) record always fails; the later POST must still sync.
	ft := &fakeTransport{handler: func(_ int, req *transport.Request) (*transport.Response, error) {
		if req.Method == "PATCH" {
			return nil, apperrors.New(apperrors.ErrTransportFailure, "HTTP 503")
		}
		return &transport.Response{StatusCode: 201}, nil
	}}
	sleeper := &recordedSleeper{}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true),
		WithSleeper(sleeper.sleep))

	result, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)

	rec, _ := store.Get(idB)
	assert.Nil(t, rec, "record behind a failing one must still be replayed")
}

func TestSyncAllMidPassOfflineDefersRecords(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.create", "POST", "/items", `{"name":"a"}`)
	idB := enqueue(t, store, "item.update", "PATCH", "/items/1", `{"name":"b"}`)
	idC := enqueue(t, store, "item.delete", "DELETE", "/items/2", "")

	conn := newFakeConn(true)

	// Connectivity drops right after the first replay.
	ft := &fakeTransport{handler: func(call int, _ *transport.Request) (*transport.Response, error) {
		conn.online.Store(false)
		return &transport.Response{StatusCode: 200}, nil
	}}
	e := NewEngine(store, testEngineClassifier(), ft, conn)
	events := collectProgress(e)

	result, err := e.SyncAll(context.Background())
	require.NoError(t, err)

	// Only the first record was attempted; the rest were deferred.
	assert.Equal(t, 1, ft.callCount())
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Failed)

	for _, id := range []models.UUID{idB, idC} {
		rec, _ := store.Get(id)
		require.NotNil(t, rec)
		assert.Equal(t, models.StatusPending, rec.Status)
		assert.Equal(t, 0, rec.Retries)
	}

	last := (*events)[len(*events)-1]
	assert.Equal(t, 100, last.Percentage)
	assert.False(t, last.InProgress)
}

func TestSyncAllSingleFlight(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.create", "POST", "/items", `{"name":"a"}`)

	started := make(chan struct{})
	release := make(chan struct{})
	ft := &fakeTransport{handler: func(int, *transport.Request) (*transport.Response, error) {
		close(started)
		<-release
		return &transport.Response{StatusCode: 200}, nil
	}}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true))

	done := make(chan error, 1)
	go func() {
		_, err := e.SyncAll(context.Background())
		done <- err
	}()

	<-started
	_, err := e.SyncAll(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncInProgress))

	close(release)
	require.NoError(t, <-done)
}

func TestSyncAllNotifiesStaleViews(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.create", "POST", "/items", `{"name":"a"}`)

	classifier := testEngineClassifier()
	inv := invalidate.NewInvalidator(classifier,
		map[models.MutationKind]invalidate.ViewSet{
			"item.create": invalidate.NewViewSet("items.list", "dashboard.stats"),
		},
		map[classify.EntityKind]invalidate.ViewSet{
			"item": invalidate.NewViewSet("items.list", "dashboard.stats"),
		})

	ft := &fakeTransport{handler: alwaysOK(201)}
	e := NewEngine(store, classifier, ft, newFakeConn(true), WithInvalidator(inv))

	var stale []invalidate.ViewKey
	e.OnStale(func(views invalidate.ViewSet) {
		stale = append(stale, views.Keys()...)
	})

	_, err := e.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []invalidate.ViewKey{"dashboard.stats", "items.list"}, stale)
}

func TestSyncOneAttachesServerTimestampConflict(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.update", "PATCH", "/items/1",
		`{"name":"x","updated_at":"2026-08-01T10:00:00Z"}`)

	// Server timestamp is later; its verdict triggers no special action
	// beyond cache invalidation, and the record is still removed.
	ft := &fakeTransport{handler: func(int, *transport.Request) (*transport.Response, error) {
		return &transport.Response{
			StatusCode: 200,
			Body:       map[string]interface{}{"updated_at": "2026-08-01T12:00:00Z"},
		}, nil
	}}
	e := NewEngine(store, testEngineClassifier(), ft, newFakeConn(true))

	result, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	size, _ := store.Size()
	assert.Equal(t, 0, size)
}
