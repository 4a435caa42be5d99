package market

import (
	"testing"
	"time"

	"github.com/calvincs/ODL-Live/models"
)

func TestEvictTTL(t *testing.T) {
	now := time.Now()
	q := NewVenueQueue("bitso", 120*time.Second)
	q.Push(
		models.MarketEvent{Side: models.SideBuy, Quantity: 1, Timestamp: now.Unix() - 300},
		models.MarketEvent{Side: models.SideBuy, Quantity: 2, Timestamp: now.Unix() - 121},
		models.MarketEvent{Side: models.SideBuy, Quantity: 3, Timestamp: now.Unix() - 120},
		models.MarketEvent{Side: models.SideSell, Quantity: 4, Timestamp: now.Unix() - 10},
		models.MarketEvent{Side: models.SideSell, Quantity: 5, Timestamp: now.Unix()},
	)

	removed := q.Evict(now)
	if removed != 3 {
		t.Fatalf("expected 3 evictions, got %d", removed)
	}

	horizon := now.Unix() - 120
	for _, e := range q.Snapshot() {
		if e.Timestamp <= horizon {
			t.Errorf("event with timestamp %d survived eviction (horizon %d)", e.Timestamp, horizon)
		}
	}
}

func TestEvictIdempotent(t *testing.T) {
	now := time.Now()
	q := NewVenueQueue("bitstamp", 120*time.Second)
	q.Push(
		models.MarketEvent{Side: models.SideBuy, Quantity: 1, Timestamp: now.Unix() - 200},
		models.MarketEvent{Side: models.SideBuy, Quantity: 2, Timestamp: now.Unix() - 30},
		models.MarketEvent{Side: models.SideSell, Quantity: 3, Timestamp: now.Unix()},
	)

	q.Evict(now)
	first := q.Snapshot()

	if removed := q.Evict(now); removed != 0 {
		t.Fatalf("second eviction removed %d events, expected 0", removed)
	}
	second := q.Snapshot()

	if len(first) != len(second) {
		t.Fatalf("queue changed between eviction passes: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("event %d changed between passes: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEvictPreservesOrder(t *testing.T) {
	now := time.Now()
	q := NewVenueQueue("bittrex", 120*time.Second)
	q.Push(
		models.MarketEvent{Quantity: 10, Timestamp: now.Unix() - 5},
		models.MarketEvent{Quantity: 20, Timestamp: now.Unix() - 500},
		models.MarketEvent{Quantity: 30, Timestamp: now.Unix() - 3},
		models.MarketEvent{Quantity: 40, Timestamp: now.Unix() - 1},
	)
	q.Evict(now)

	got := q.Snapshot()
	want := []float64{10, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.Quantity != want[i] {
			t.Errorf("position %d: got quantity %v, want %v", i, e.Quantity, want[i])
		}
	}
}

func TestClosest(t *testing.T) {
	events := []models.MarketEvent{
		{Quantity: 100},
		{Quantity: 150},
		{Quantity: 90},
	}

	// Tied distances (5 each for 100 and 90): the last minimum encountered wins.
	got, ok := Closest(events, 95)
	if !ok || got.Quantity != 90 {
		t.Errorf("Closest(95) = %v (ok=%v), want 90", got.Quantity, ok)
	}

	// Unambiguous: 100 is distance 2, 90 is distance 8.
	got, ok = Closest(events, 98)
	if !ok || got.Quantity != 100 {
		t.Errorf("Closest(98) = %v (ok=%v), want 100", got.Quantity, ok)
	}

	if _, ok := Closest(nil, 98); ok {
		t.Error("Closest on empty input reported a match")
	}
}

func TestEventsBetween(t *testing.T) {
	q := NewVenueQueue("btc markets", 120*time.Second)
	q.Push(
		models.MarketEvent{Side: models.SideBuy, Quantity: 1, Timestamp: 100},
		models.MarketEvent{Side: models.SideBuy, Quantity: 2, Timestamp: 110},
		models.MarketEvent{Side: models.SideSell, Quantity: 3, Timestamp: 110},
		models.MarketEvent{Side: models.SideBuy, Quantity: 4, Timestamp: 111},
	)

	got := q.EventsBetween(models.SideBuy, 100, 110)
	if len(got) != 2 {
		t.Fatalf("expected 2 buy events in [100,110], got %d", len(got))
	}
	if got[0].Quantity != 1 || got[1].Quantity != 2 {
		t.Errorf("wrong events returned: %+v", got)
	}

	if got := q.EventsBetween(models.SideSell, 0, 200); len(got) != 1 || got[0].Quantity != 3 {
		t.Errorf("sell filter returned %+v", got)
	}
}

func TestContainsID(t *testing.T) {
	q := NewVenueQueue("bittrex", 120*time.Second)
	q.Push(models.MarketEvent{Quantity: 1, Timestamp: 1, EventID: "abc"})

	if !q.ContainsID("abc") {
		t.Error("expected ContainsID to find abc")
	}
	if q.ContainsID("def") {
		t.Error("ContainsID matched an unknown id")
	}
	if q.ContainsID("") {
		t.Error("ContainsID matched the empty id")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	q := NewVenueQueue("bitso", 120*time.Second)
	q.Push(models.MarketEvent{Quantity: 1, Timestamp: 1})
	r.Add(q)

	if r.Get("bitso") != q {
		t.Error("registry did not return the registered queue")
	}
	if r.Get("unknown") != nil {
		t.Error("registry returned a queue for an unknown venue")
	}
	if depths := r.Depths(); depths["bitso"] != 1 {
		t.Errorf("Depths() = %v, want bitso:1", depths)
	}
}
