package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherInitialFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"high":"0.45","last":"0.4102","low":"0.39"}`))
	}))
	defer srv.Close()

	w := NewWatcher(srv.URL, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		cancel()
		w.Stop()
	}()

	info := w.Current()
	if info.Last != 0.4102 {
		t.Errorf("last = %v, want 0.4102", info.Last)
	}
	if info.FetchedAt == 0 {
		t.Error("FetchedAt should be set after the initial fetch")
	}
}

func TestWatcherKeepsValueOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"last":"0.50"}`))
	}))
	defer srv.Close()

	w := NewWatcher(srv.URL, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		cancel()
		w.Stop()
	}()

	if w.Current().Last != 0.5 {
		t.Fatalf("initial last = %v, want 0.5", w.Current().Last)
	}

	fail.Store(true)
	time.Sleep(80 * time.Millisecond)

	if w.Current().Last != 0.5 {
		t.Errorf("failed polls should keep the previous price, got %v", w.Current().Last)
	}
}
