package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calvincs/ODL-Live/internal/metrics"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/wallet"
)

// The XRP Ledger epoch starts at 2000-01-01T00:00:00Z.
const rippleEpochOffset = 946684800

const dropsPerXRP = 1e6

// Handler receives each qualifying payment as it is observed.
type Handler func(models.QualifyingPayment)

// Feed subscribes to the XRP Ledger websocket for transactions touching the
// known exchange wallets and forwards qualifying payments to the handler.
// Qualifying means a successful native-XRP Payment between two known wallets.
type Feed struct {
	server         string
	dir            *wallet.Directory
	silence        time.Duration
	reconnectDelay time.Duration
	handler        Handler
	ctx            context.Context
	wg             *sync.WaitGroup
	mu             sync.RWMutex
	running        bool
	log            *logger.Log
}

func NewFeed(server string, dir *wallet.Directory, silence, reconnectDelay time.Duration, handler Handler) *Feed {
	return &Feed{
		server:         server,
		dir:            dir,
		silence:        silence,
		reconnectDelay: reconnectDelay,
		handler:        handler,
		wg:             &sync.WaitGroup{},
		log:            logger.GetLogger(),
	}
}

// Start launches the subscription loop.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("ledger feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	log := f.log.WithComponent("ledger_feed")
	log.WithFields(logger.Fields{
		"server":  f.server,
		"wallets": f.dir.Len(),
	}).Info("starting ledger feed")

	f.wg.Add(1)
	go f.run()

	return nil
}

// Stop waits for the subscription loop to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	log := f.log.WithComponent("ledger_feed")
	log.Info("stopping ledger feed")
	f.wg.Wait()
	log.Info("ledger feed stopped")
}

func (f *Feed) run() {
	defer f.wg.Done()

	log := f.log.WithComponent("ledger_feed").WithFields(logger.Fields{"worker": "subscription_loop"})

	for {
		if f.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, f.server, nil)
		if err != nil {
			log.WithError(err).Warn("dial failed")
			if !f.sleep() {
				return
			}
			continue
		}

		sub, _ := json.Marshal(map[string]interface{}{
			"command":  "subscribe",
			"accounts": f.dir.Addresses(),
		})
		if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
			log.WithError(err).Warn("subscribe failed")
			conn.Close()
			if !f.sleep() {
				return
			}
			continue
		}

		log.Info("ledger feed connected")
		f.pump(conn, log)
		conn.Close()

		if f.ctx.Err() != nil {
			return
		}
		logger.IncrementReconnect()
		metrics.IncrementReconnect("xrpledger")
		if !f.sleep() {
			return
		}
	}
}

func (f *Feed) pump(conn *websocket.Conn, log *logger.Entry) {
	msgs := make(chan []byte, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			// Closing the socket only unblocks ReadMessage, so the send
			// must also give up once pump has returned.
			select {
			case msgs <- data:
			case <-done:
				return
			}
		}
	}()

	timer := time.NewTimer(f.silence)
	defer timer.Stop()

	for {
		select {
		case <-f.ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case err := <-readErr:
			log.WithError(err).Warn("ledger read failed")
			return

		case <-timer.C:
			log.WithFields(logger.Fields{"silence": f.silence.String()}).Warn("ledger feed silent past timeout, reconnecting")
			return

		case data, ok := <-msgs:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(f.silence)

			logger.IncrementLedgerRead(len(data))
			metrics.IncrementLedgerMessage()

			payment, ok, err := f.parse(data)
			if err != nil {
				log.WithError(err).Warn("failed to parse ledger message")
				continue
			}
			if ok {
				f.handler(payment)
			}
		}
	}
}

type ledgerMessage struct {
	Type        string `json:"type"`
	Transaction struct {
		TransactionType string          `json:"TransactionType"`
		Account         string          `json:"Account"`
		Destination     string          `json:"Destination"`
		Amount          json.RawMessage `json:"Amount"`
		DestinationTag  *int64          `json:"DestinationTag"`
		Date            int64           `json:"date"`
	} `json:"transaction"`
	Meta struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}

// parse filters a raw feed message down to a qualifying payment. The bool is
// false for anything that does not qualify.
func (f *Feed) parse(data []byte) (models.QualifyingPayment, bool, error) {
	var msg ledgerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.QualifyingPayment{}, false, fmt.Errorf("failed to decode ledger message: %w", err)
	}

	if msg.Type != "transaction" {
		return models.QualifyingPayment{}, false, nil
	}
	if msg.Transaction.TransactionType != "Payment" || msg.Meta.TransactionResult != "tesSUCCESS" {
		return models.QualifyingPayment{}, false, nil
	}
	if _, ok := f.dir.Resolve(msg.Transaction.Account); !ok {
		return models.QualifyingPayment{}, false, nil
	}
	if _, ok := f.dir.Resolve(msg.Transaction.Destination); !ok {
		return models.QualifyingPayment{}, false, nil
	}

	// Native XRP payments carry the amount as a string of drops. Issued
	// currencies use an object and are not ODL traffic.
	var drops string
	if err := json.Unmarshal(msg.Transaction.Amount, &drops); err != nil {
		return models.QualifyingPayment{}, false, nil
	}
	amount, err := strconv.ParseFloat(drops, 64)
	if err != nil {
		return models.QualifyingPayment{}, false, fmt.Errorf("bad drops amount %q: %w", drops, err)
	}

	payment := models.QualifyingPayment{
		SourceAddress:      msg.Transaction.Account,
		DestinationAddress: msg.Transaction.Destination,
		DestinationTag:     msg.Transaction.DestinationTag,
		Amount:             models.Round4(amount / dropsPerXRP),
		LedgerTimestamp:    msg.Transaction.Date + rippleEpochOffset,
	}
	return payment, true, nil
}

func (f *Feed) sleep() bool {
	select {
	case <-f.ctx.Done():
		return false
	case <-time.After(f.reconnectDelay):
		return true
	}
}
