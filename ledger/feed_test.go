package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/wallet"
)

func testFeed() *Feed {
	dir := wallet.NewDirectory(map[string]string{
		"rSourceWallet1111111111111111111111": "bitstamp",
		"rDestWallet22222222222222222222222":  "bitso",
	})
	return NewFeed("wss://s1.ripple.com", dir, 300*time.Second, 30*time.Second, nil)
}

func TestParseQualifyingPayment(t *testing.T) {
	raw := []byte(`{
		"type": "transaction",
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSourceWallet1111111111111111111111",
			"Destination": "rDestWallet22222222222222222222222",
			"Amount": "25000012345",
			"DestinationTag": 744963217,
			"date": 624489221
		},
		"meta": {"TransactionResult": "tesSUCCESS"}
	}`)

	payment, ok, err := testFeed().parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !ok {
		t.Fatal("payment should qualify")
	}
	if payment.Amount != 25000.0123 {
		t.Errorf("amount = %v, want 25000.0123", payment.Amount)
	}
	if payment.LedgerTimestamp != 624489221+946684800 {
		t.Errorf("timestamp = %d, want ripple epoch shifted", payment.LedgerTimestamp)
	}
	if payment.DestinationTag == nil || *payment.DestinationTag != 744963217 {
		t.Errorf("destination tag = %v", payment.DestinationTag)
	}
}

func TestParseNoTag(t *testing.T) {
	raw := []byte(`{
		"type": "transaction",
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSourceWallet1111111111111111111111",
			"Destination": "rDestWallet22222222222222222222222",
			"Amount": "1000000",
			"date": 624489221
		},
		"meta": {"TransactionResult": "tesSUCCESS"}
	}`)

	payment, ok, err := testFeed().parse(raw)
	if err != nil || !ok {
		t.Fatalf("parse = %v, ok=%v", err, ok)
	}
	if payment.DestinationTag != nil {
		t.Errorf("missing tag should stay nil, got %v", *payment.DestinationTag)
	}
	if payment.Amount != 1 {
		t.Errorf("amount = %v, want 1", payment.Amount)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{
			name: "issued currency amount",
			raw: `{"type":"transaction","transaction":{"TransactionType":"Payment",
				"Account":"rSourceWallet1111111111111111111111",
				"Destination":"rDestWallet22222222222222222222222",
				"Amount":{"currency":"USD","issuer":"rIssuer","value":"100"},
				"date":624489221},"meta":{"TransactionResult":"tesSUCCESS"}}`,
		},
		{
			name: "failed transaction",
			raw: `{"type":"transaction","transaction":{"TransactionType":"Payment",
				"Account":"rSourceWallet1111111111111111111111",
				"Destination":"rDestWallet22222222222222222222222",
				"Amount":"1000000","date":624489221},"meta":{"TransactionResult":"tecPATH_DRY"}}`,
		},
		{
			name: "unknown destination",
			raw: `{"type":"transaction","transaction":{"TransactionType":"Payment",
				"Account":"rSourceWallet1111111111111111111111",
				"Destination":"rUnknownWallet",
				"Amount":"1000000","date":624489221},"meta":{"TransactionResult":"tesSUCCESS"}}`,
		},
		{
			name: "not a payment",
			raw: `{"type":"transaction","transaction":{"TransactionType":"OfferCreate",
				"Account":"rSourceWallet1111111111111111111111",
				"Destination":"rDestWallet22222222222222222222222",
				"Amount":"1000000","date":624489221},"meta":{"TransactionResult":"tesSUCCESS"}}`,
		},
		{
			name: "ledger close notice",
			raw:  `{"type":"ledgerClosed","ledger_index":100}`,
		},
	}

	feed := testFeed()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, ok, err := feed.parse([]byte(c.raw))
			if err != nil {
				t.Fatalf("parse returned error: %v", err)
			}
			if ok {
				t.Error("message should not qualify")
			}
		})
	}
}

// When the directory fetch failed at startup the feed runs with no known
// wallets and must classify every payment as not qualifying.
func TestParseEmptyDirectory(t *testing.T) {
	feed := NewFeed("wss://s1.ripple.com", wallet.NewDirectory(nil), 300*time.Second, 30*time.Second, nil)

	raw := []byte(`{
		"type": "transaction",
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSourceWallet1111111111111111111111",
			"Destination": "rDestWallet22222222222222222222222",
			"Amount": "25000012345",
			"DestinationTag": 744963217,
			"date": 624489221
		},
		"meta": {"TransactionResult": "tesSUCCESS"}
	}`)

	_, ok, err := feed.parse(raw)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if ok {
		t.Error("no payment should qualify without known wallets")
	}
}

func TestFeedReaderGoroutineDrains(t *testing.T) {
	payment := []byte(`{"type":"transaction","transaction":{"TransactionType":"Payment",
		"Account":"rSourceWallet1111111111111111111111",
		"Destination":"rDestWallet22222222222222222222222",
		"Amount":"1000000","date":624489221},"meta":{"TransactionResult":"tesSUCCESS"}}`)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		// Flood faster than the pump consumes so the reader side is likely
		// mid-send when the pump returns.
		for {
			if err := conn.WriteMessage(websocket.TextMessage, payment); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var handled atomic.Int64
	dir := wallet.NewDirectory(map[string]string{
		"rSourceWallet1111111111111111111111": "bitstamp",
		"rDestWallet22222222222222222222222":  "bitso",
	})
	feed := NewFeed("ws"+strings.TrimPrefix(srv.URL, "http"), dir, 300*time.Second, 10*time.Millisecond,
		func(models.QualifyingPayment) { handled.Add(1) })

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && handled.Load() < 10 {
		time.Sleep(10 * time.Millisecond)
	}
	if handled.Load() < 10 {
		t.Fatalf("handled only %d payments before deadline", handled.Load())
	}

	cancel()
	feed.Stop()

	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && runtime.NumGoroutine() > before+2 {
		time.Sleep(10 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > before+2 {
		t.Errorf("goroutines did not drain after stop: %d, baseline %d", n, before)
	}
}
