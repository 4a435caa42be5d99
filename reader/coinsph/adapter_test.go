package coinsph

import (
	"encoding/json"
	"testing"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/reader"
)

func newTestAdapter() *Adapter {
	return New(config.CoinsphConfig{
		Server: "wss://sapi.coins.ph/ws",
		Instruments: []config.CoinsphInstrument{
			{ID: 8, IncludeLastCount: 1},
			{ID: 3, IncludeLastCount: 0},
		},
		SilenceSec: 300,
		EvictEvery: 10,
	})
}

func TestSubscribeFrames(t *testing.T) {
	frames := newTestAdapter().SubscribeFrames()
	if len(frames) != 2 {
		t.Fatalf("expected 2 subscribe frames, got %d", len(frames))
	}

	var f struct {
		M int    `json:"m"`
		N string `json:"n"`
		O string `json:"o"`
	}
	if err := json.Unmarshal(frames[0], &f); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if f.N != "SubscribeTrades" {
		t.Errorf("frame n = %q, want SubscribeTrades", f.N)
	}

	var payload struct {
		OMSId        int `json:"OMSId"`
		InstrumentID int `json:"InstrumentId"`
	}
	if err := json.Unmarshal([]byte(f.O), &payload); err != nil {
		t.Fatalf("o member is not nested JSON: %v", err)
	}
	if payload.InstrumentID != 8 {
		t.Errorf("instrument = %d, want 8", payload.InstrumentID)
	}
}

func TestHandleTradeUpdate(t *testing.T) {
	// Double-encoded payload: o is a JSON string holding positional rows.
	raw := []byte(`{"m":3,"i":10,"n":"TradeDataUpdateEvent","o":"[[194,8,150.5000199,12.1,1562190000123,0,1,0,1],[195,8,7,12.2,1562190001000,0,0,0,1]]"}`)

	events, sig, err := newTestAdapter().HandleMessage(raw)
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if sig != reader.SignalNone {
		t.Errorf("signal = %v, want none", sig)
	}
	if len(events) != 1 {
		t.Fatalf("expected only the first row, got %d events", len(events))
	}
	if events[0].Side != models.SideSell {
		t.Errorf("side = %s, want sell", events[0].Side)
	}
	if events[0].Quantity != 150.5 {
		t.Errorf("quantity = %v, want 150.5", events[0].Quantity)
	}
	if events[0].Timestamp != 1562190000 {
		t.Errorf("timestamp = %d, want 1562190000", events[0].Timestamp)
	}
}

func TestHandleOtherFrameIsKeepAlive(t *testing.T) {
	events, sig, err := newTestAdapter().HandleMessage([]byte(`{"m":1,"i":0,"n":"SubscribeTrades","o":"[]"}`))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if sig != reader.SignalKeepAlive || len(events) != 0 {
		t.Errorf("ack should be a keepalive with no events, got sig=%v events=%d", sig, len(events))
	}
}
