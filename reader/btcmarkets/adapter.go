package btcmarkets

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/reader"
)

const VenueName = "btc markets"

// Adapter speaks the BTC Markets v2 websocket protocol for the XRP/AUD
// market. The orderbook channel resends the full book on every tick, so
// book messages are sampled down to the ten second boundary.
type Adapter struct {
	cfg config.BTCMarketsConfig
}

func New(cfg config.BTCMarketsConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Venue() string { return VenueName }
func (a *Adapter) URL() string   { return a.cfg.Server }

func (a *Adapter) SilenceTimeout() time.Duration {
	return time.Duration(a.cfg.SilenceSec) * time.Second
}

func (a *Adapter) EvictEvery() int { return a.cfg.EvictEvery }

func (a *Adapter) SubscribeFrames() [][]byte {
	frame, _ := json.Marshal(map[string]interface{}{
		"marketIds":   []string{a.cfg.MarketID},
		"channels":    []string{"orderbook", "trade", "heartbeat"},
		"messageType": "subscribe",
	})
	return [][]byte{frame}
}

type message struct {
	MessageType string            `json:"messageType"`
	Side        string            `json:"side"`
	Volume      string            `json:"volume"`
	Timestamp   string            `json:"timestamp"`
	Bids        [][]json.RawMessage `json:"bids"`
	Asks        [][]json.RawMessage `json:"asks"`
}

func (a *Adapter) HandleMessage(data []byte) ([]models.MarketEvent, reader.Signal, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, reader.SignalNone, fmt.Errorf("failed to decode btcmarkets message: %w", err)
	}

	switch msg.MessageType {
	case "heartbeat":
		return nil, reader.SignalKeepAlive, nil

	case "trade":
		ts, err := parseStamp(msg.Timestamp)
		if err != nil {
			return nil, reader.SignalNone, err
		}
		amount, err := strconv.ParseFloat(msg.Volume, 64)
		if err != nil {
			return nil, reader.SignalNone, fmt.Errorf("bad btcmarkets trade volume %q: %w", msg.Volume, err)
		}
		side := models.SideSell
		if msg.Side == "Bid" {
			side = models.SideBuy
		}
		ev := models.MarketEvent{
			Side:      side,
			Quantity:  models.Round4(amount),
			Timestamp: ts,
		}
		return []models.MarketEvent{ev}, reader.SignalNone, nil

	case "orderbook":
		ts, err := parseStamp(msg.Timestamp)
		if err != nil {
			return nil, reader.SignalNone, err
		}
		// Full book with no diffs; sample on the ten second boundary.
		if ts%10 != 0 {
			return nil, reader.SignalNone, nil
		}

		var events []models.MarketEvent
		for _, level := range msg.Bids {
			amount, err := levelVolume(level)
			if err != nil {
				continue
			}
			events = append(events, models.MarketEvent{Side: models.SideBuy, Quantity: models.Round4(amount), Timestamp: ts})
		}
		for _, level := range msg.Asks {
			amount, err := levelVolume(level)
			if err != nil {
				continue
			}
			events = append(events, models.MarketEvent{Side: models.SideSell, Quantity: models.Round4(amount), Timestamp: ts})
		}
		return events, reader.SignalNone, nil
	}

	return nil, reader.SignalNone, nil
}

func parseStamp(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("bad btcmarkets timestamp %q: %w", s, err)
	}
	return t.Unix(), nil
}

// levelVolume extracts the volume member of a [price, volume, count] book
// level, where price and volume arrive as JSON strings.
func levelVolume(level []json.RawMessage) (float64, error) {
	if len(level) < 2 {
		return 0, fmt.Errorf("book level too short")
	}
	var vol string
	if err := json.Unmarshal(level[1], &vol); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(vol, 64)
}
