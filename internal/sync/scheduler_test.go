package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finboard/finboard/internal/connectivity"
	"github.com/finboard/finboard/internal/transport"
)

func TestSchedulerStartStop(t *testing.T) {
	store := newEngineStore(t)
	tracker := connectivity.NewTracker(false)
	ft := &fakeTransport{handler: alwaysOK(200)}
	e := NewEngine(store, testEngineClassifier(), ft, tracker)

	s := NewScheduler(e, tracker, time.Hour)
	assert.False(t, s.IsRunning())

	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	// Second Start is a no-op.
	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	s.Stop()
	assert.False(t, s.IsRunning())

	// Stop on a stopped scheduler is a no-op.
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestSchedulerSyncsOnReconnect(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.create", "POST", "/items", `{"name":"x"}`)

	tracker := connectivity.NewTracker(false)

	synced := make(chan struct{})
	ft := &fakeTransport{handler: func(int, *transport.Request) (*transport.Response, error) {
		close(synced)
		return &transport.Response{StatusCode: 201}, nil
	}}
	e := NewEngine(store, testEngineClassifier(), ft, tracker)

	s := NewScheduler(e, tracker, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	// Give the loop time to subscribe before the edge fires.
	time.Sleep(50 * time.Millisecond)
	tracker.SetOnline(true)

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not trigger a sync pass")
	}
}

func TestSchedulerPeriodicRespectsOffline(t *testing.T) {
	store := newEngineStore(t)
	enqueue(t, store, "item.create", "POST", "/items", `{"name":"x"}`)

	tracker := connectivity.NewTracker(false)
	ft := &fakeTransport{handler: alwaysOK(200)}
	e := NewEngine(store, testEngineClassifier(), ft, tracker)

	s := NewScheduler(e, tracker, 10*time.Millisecond)
	s.Start(context.Background())

	time.Sleep(60 * time.Millisecond)
	s.Stop()

	require.Equal(t, 0, ft.callCount(), "ticker must not sync while offline")
}
