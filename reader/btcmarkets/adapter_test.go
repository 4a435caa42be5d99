package btcmarkets

import (
	"testing"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/reader"
)

func newTestAdapter() *Adapter {
	return New(config.BTCMarketsConfig{
		Server:     "wss://socket.btcmarkets.net/v2",
		MarketID:   "XRP-AUD",
		SilenceSec: 90,
		EvictEvery: 20,
	})
}

func TestHandleTrade(t *testing.T) {
	raw := []byte(`{"marketId":"XRP-AUD","timestamp":"2019-04-08T20:54:27Z","tradeId":3153171,"price":"0.499","volume":"2500.00009","side":"Bid","messageType":"trade"}`)

	events, sig, err := newTestAdapter().HandleMessage(raw)
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if sig != reader.SignalNone {
		t.Errorf("signal = %v, want none", sig)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Side != models.SideBuy || events[0].Quantity != 2500.0001 || events[0].Timestamp != 1554756867 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestHandleOrderbookSampled(t *testing.T) {
	// Timestamp lands on a ten second boundary, so the book is taken.
	raw := []byte(`{"marketId":"XRP-AUD","timestamp":"2019-04-08T20:54:30Z","messageType":"orderbook","bids":[["0.499","1000",1],["0.498","250.5",2]],"asks":[["0.501","770",1]]}`)

	events, _, err := newTestAdapter().HandleMessage(raw)
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Side != models.SideBuy || events[0].Quantity != 1000 {
		t.Errorf("first bid: %+v", events[0])
	}
	if events[2].Side != models.SideSell || events[2].Quantity != 770 {
		t.Errorf("ask should carry the ask volume: %+v", events[2])
	}
	for _, e := range events {
		if e.Timestamp != 1554756870 {
			t.Errorf("timestamp = %d, want 1554756870", e.Timestamp)
		}
	}
}

func TestHandleOrderbookOffBoundarySkipped(t *testing.T) {
	raw := []byte(`{"marketId":"XRP-AUD","timestamp":"2019-04-08T20:54:27Z","messageType":"orderbook","bids":[["0.499","1000",1]],"asks":[]}`)

	events, _, err := newTestAdapter().HandleMessage(raw)
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("off-boundary book should be skipped, got %d events", len(events))
	}
}

func TestHandleHeartbeat(t *testing.T) {
	events, sig, err := newTestAdapter().HandleMessage([]byte(`{"messageType":"heartbeat","channels":[]}`))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if sig != reader.SignalKeepAlive || len(events) != 0 {
		t.Errorf("heartbeat should be a keepalive with no events, got sig=%v events=%d", sig, len(events))
	}
}
