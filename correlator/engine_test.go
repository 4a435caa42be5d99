package correlator

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/market"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/stats"
	"github.com/calvincs/ODL-Live/wallet"
)

const (
	srcAddr = "rSourceWallet1111111111111111111111"
	dstAddr = "rDestWallet22222222222222222222222"
)

type fixedPrice struct{ last float64 }

func (p fixedPrice) Current() models.PriceInfo {
	return models.PriceInfo{Last: p.last, FetchedAt: 1}
}

type captureSink struct {
	mu         sync.Mutex
	detections []models.ODLDetection
	totals     []stats.Totals
}

func (s *captureSink) Notify(det models.ODLDetection, source, dest string, totals stats.Totals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = append(s.detections, det)
	s.totals = append(s.totals, totals)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.detections)
}

type fixture struct {
	engine   *Engine
	registry *market.Registry
	sink     *captureSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := wallet.NewDirectory(map[string]string{
		srcAddr: "bitstamp",
		dstAddr: "bitso",
	})

	registry := market.NewRegistry()
	registry.Add(market.NewVenueQueue("bitstamp", 120*time.Second))
	registry.Add(market.NewVenueQueue("bitso", 120*time.Second))

	agg := stats.NewAggregator(filepath.Join(t.TempDir(), "stats.json"), time.Hour, nil)

	cfg := config.CorrelationConfig{
		SettlementDelaySec: 0,
		DefaultDriftSec:    2,
		DriftSec:           map[string]int64{"bitso": 10},
		MatchRatio:         0.90,
	}
	tags := []config.ODLTag{{Tag: 744963217, Exchange: "bitso"}}

	sink := &captureSink{}
	engine := NewEngine(cfg, tags, dir, registry, fixedPrice{last: 0.4102}, agg, sink)
	return &fixture{engine: engine, registry: registry, sink: sink}
}

func payment(amount float64, ts int64, tag *int64) models.QualifyingPayment {
	return models.QualifyingPayment{
		SourceAddress:      srcAddr,
		DestinationAddress: dstAddr,
		DestinationTag:     tag,
		Amount:             amount,
		LedgerTimestamp:    ts,
	}
}

func tagOf(v int64) *int64 { return &v }

func TestBuyMatchBoundary(t *testing.T) {
	f := newFixture(t)
	ts := int64(1700000000)
	f.registry.Get("bitstamp").Push(models.MarketEvent{Side: models.SideBuy, Quantity: 100, Timestamp: ts + 1})

	// 90/100 = 90% meets the ratio.
	f.engine.Evaluate(payment(90, ts, nil))
	if f.sink.count() != 1 {
		t.Fatalf("90%% ratio should emit, got %d detections", f.sink.count())
	}

	// 89/100 = 89% misses it.
	f.engine.Evaluate(payment(89, ts, nil))
	if f.sink.count() != 1 {
		t.Fatalf("89%% ratio should not emit, got %d detections", f.sink.count())
	}
}

func TestBuyMatchRequiresLargerBuy(t *testing.T) {
	f := newFixture(t)
	ts := int64(1700000000)
	// Closest buy is below the payment amount, so no award even though the
	// ratio holds.
	f.registry.Get("bitstamp").Push(models.MarketEvent{Side: models.SideBuy, Quantity: 95, Timestamp: ts + 1})

	f.engine.Evaluate(payment(100, ts, nil))
	if f.sink.count() != 0 {
		t.Errorf("buy smaller than payment should not emit")
	}
}

func TestBuyWindowExcludesEarlyEvents(t *testing.T) {
	f := newFixture(t)
	ts := int64(1700000000)
	// Buys before the payment or past the drift are out of window.
	f.registry.Get("bitstamp").Push(
		models.MarketEvent{Side: models.SideBuy, Quantity: 100, Timestamp: ts - 1},
		models.MarketEvent{Side: models.SideBuy, Quantity: 100, Timestamp: ts + 3},
	)

	f.engine.Evaluate(payment(100, ts, nil))
	if f.sink.count() != 0 {
		t.Errorf("out-of-window buys should not emit")
	}
}

func TestSellMatch(t *testing.T) {
	f := newFixture(t)
	ts := int64(1700000000)
	// Destination venue bitso has a 10s drift; the sell sits inside
	// [ts-10, ts] and is under the payment amount within ratio.
	f.registry.Get("bitso").Push(models.MarketEvent{Side: models.SideSell, Quantity: 95, Timestamp: ts - 8})

	f.engine.Evaluate(payment(100, ts, nil))
	if f.sink.count() != 1 {
		t.Fatalf("sell match should emit, got %d detections", f.sink.count())
	}
}

func TestSellLargerThanPaymentNoMatch(t *testing.T) {
	f := newFixture(t)
	ts := int64(1700000000)
	f.registry.Get("bitso").Push(models.MarketEvent{Side: models.SideSell, Quantity: 105, Timestamp: ts - 1})

	f.engine.Evaluate(payment(100, ts, nil))
	if f.sink.count() != 0 {
		t.Errorf("sell above payment amount should not emit")
	}
}

func TestTagOnlyEmits(t *testing.T) {
	f := newFixture(t)

	f.engine.Evaluate(payment(5000, 1700000000, tagOf(744963217)))
	if f.sink.count() != 1 {
		t.Fatalf("known tag alone should emit, got %d detections", f.sink.count())
	}

	// Unknown tag, empty queues: score 0, no emission.
	f.engine.Evaluate(payment(5000, 1700000000, tagOf(999)))
	if f.sink.count() != 1 {
		t.Errorf("unknown tag with no market match should not emit")
	}
}

func TestFullScoreDetection(t *testing.T) {
	f := newFixture(t)
	ts := int64(1700000000)
	f.registry.Get("bitstamp").Push(models.MarketEvent{Side: models.SideBuy, Quantity: 5000, Timestamp: ts + 1})
	f.registry.Get("bitso").Push(models.MarketEvent{Side: models.SideSell, Quantity: 4900, Timestamp: ts - 5})

	f.engine.Evaluate(payment(5000, ts, tagOf(744963217)))
	if f.sink.count() != 1 {
		t.Fatalf("full score should emit exactly once, got %d", f.sink.count())
	}

	det := f.sink.detections[0]
	if det.Quantity != 5000 {
		t.Errorf("detection quantity = %v, want 5000", det.Quantity)
	}
	// usd = round2(round4(0.4102) * 5000)
	if det.USDValue != 2051 {
		t.Errorf("detection usd = %v, want 2051", det.USDValue)
	}
	if f.sink.totals[0].Count != 1 || f.sink.totals[0].TotalXRP != 5000 {
		t.Errorf("totals at emission = %+v", f.sink.totals[0])
	}
}

func TestHandlePaymentDefersEvaluation(t *testing.T) {
	f := newFixture(t)
	f.engine.HandlePayment(payment(5000, 1700000000, tagOf(744963217)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.sink.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if f.sink.count() != 1 {
		t.Fatalf("scheduled payment should have been evaluated, got %d detections", f.sink.count())
	}

	f.engine.Stop()
}

func TestStopCancelsPending(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.SettlementDelaySec = 3600

	f.engine.HandlePayment(payment(5000, 1700000000, tagOf(744963217)))
	f.engine.Stop()

	if f.sink.count() != 0 {
		t.Errorf("cancelled pending payment should not emit")
	}

	// After Stop new payments are ignored.
	f.engine.HandlePayment(payment(5000, 1700000000, tagOf(744963217)))
	if f.sink.count() != 0 {
		t.Errorf("payments after Stop should be dropped")
	}
}
