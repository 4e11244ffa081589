package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTrackerInitialState(t *testing.T) {
	if !NewTracker(true).IsOnline() {
		t.Error("Expected tracker to start online")
	}
	if NewTracker(false).IsOnline() {
		t.Error("Expected tracker to start offline")
	}
}

func TestTrackerNotifiesOnTransition(t *testing.T) {
	tr := NewTracker(false)
	ch := tr.Subscribe()

	tr.SetOnline(true)

	select {
	case online := <-ch:
		if !online {
			t.Error("Expected online transition")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a transition notification")
	}
}

func TestTrackerSkipsRepeatedState(t *testing.T) {
	tr := NewTracker(true)
	ch := tr.Subscribe()

	tr.SetOnline(true) // no transition

	select {
	case <-ch:
		t.Error("Expected no notification for repeated state")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProberFlipsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewTracker(false)
	p := NewProber(tr, srv.URL+"/api/health", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !tr.IsOnline() {
		select {
		case <-deadline:
			t.Fatal("Expected prober to mark tracker online")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestProberMarksOfflineOnError(t *testing.T) {
	tr := NewTracker(true)
	p := NewProber(tr, "http://127.0.0.1:1/api/health", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	p.probe(ctx)

	if tr.IsOnline() {
		t.Error("Expected tracker offline after failed probe")
	}
}
