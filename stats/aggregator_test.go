package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvincs/ODL-Live/models"
)

func newTestAggregator(t *testing.T, now int64) *Aggregator {
	t.Helper()
	a := NewAggregator(filepath.Join(t.TempDir(), "stats.json"), 300*time.Second, nil)
	a.now = func() time.Time { return time.Unix(now, 0) }
	return a
}

func TestRecomputeWindow(t *testing.T) {
	now := int64(1700000000)
	a := newTestAggregator(t, now)

	a.Record(models.ODLDetection{Quantity: 100, USDValue: 41, DetectedAt: now - 25*3600})
	a.Record(models.ODLDetection{Quantity: 250.5, USDValue: 102.71, DetectedAt: now - 23*3600})
	totals := a.Record(models.ODLDetection{Quantity: 1000, USDValue: 410, DetectedAt: now - 3600})

	if totals.Count != 2 {
		t.Fatalf("count = %d, want 2 (25h old detection evicted)", totals.Count)
	}
	if totals.TotalXRP != 1250.5 {
		t.Errorf("xrp total = %v, want 1250.5", totals.TotalXRP)
	}
	if totals.TotalUSD != 512.71 {
		t.Errorf("usd total = %v, want 512.71", totals.TotalUSD)
	}
}

func TestRecomputeBoundary(t *testing.T) {
	now := int64(1700000000)
	a := newTestAggregator(t, now)

	// Exactly 24h old is evicted, one second newer survives.
	a.Record(models.ODLDetection{Quantity: 1, USDValue: 1, DetectedAt: now - 86400})
	totals := a.Record(models.ODLDetection{Quantity: 2, USDValue: 2, DetectedAt: now - 86399})

	if totals.Count != 1 || totals.TotalXRP != 2 {
		t.Errorf("totals = %+v, want count 1 xrp 2", totals)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	now := int64(1700000000)
	path := filepath.Join(t.TempDir(), "stats.json")

	a := NewAggregator(path, 300*time.Second, nil)
	a.now = func() time.Time { return time.Unix(now, 0) }
	a.Record(models.ODLDetection{Quantity: 500.1234, USDValue: 205.05, DetectedAt: now - 100})
	a.Record(models.ODLDetection{Quantity: 10, USDValue: 4.1, DetectedAt: now - 50})

	b := NewAggregator(path, 300*time.Second, nil)
	b.now = func() time.Time { return time.Unix(now, 0) }
	b.Restore()

	got := b.Snapshot()
	want := a.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("restored %d detections, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("detection %d differs: %+v vs %+v", i, got[i], want[i])
		}
	}
	if b.Totals() != a.Totals() {
		t.Errorf("totals differ after restore: %+v vs %+v", b.Totals(), a.Totals())
	}
}

func TestRestoreMissingFileNonFatal(t *testing.T) {
	a := NewAggregator(filepath.Join(t.TempDir(), "absent.json"), 300*time.Second, nil)
	a.Restore()

	if a.Totals().Count != 0 {
		t.Errorf("window should start empty, got %+v", a.Totals())
	}
}

func TestPeriodicRecompute(t *testing.T) {
	now := time.Now().Unix()
	a := NewAggregator(filepath.Join(t.TempDir(), "stats.json"), 20*time.Millisecond, nil)
	a.Record(models.ODLDetection{Quantity: 1, USDValue: 1, DetectedAt: now - 86410})

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.Totals().Count == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	a.Stop()

	if a.Totals().Count != 0 {
		t.Error("periodic recompute should have evicted the stale detection")
	}
}
