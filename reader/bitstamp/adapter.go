package bitstamp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/reader"
)

const VenueName = "bitstamp"

// Adapter speaks the Bitstamp live websocket protocol for the XRP/USD pair,
// subscribing to both trades and order events for coverage.
type Adapter struct {
	cfg config.BitstampConfig
}

func New(cfg config.BitstampConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Venue() string { return VenueName }
func (a *Adapter) URL() string   { return a.cfg.Server }

func (a *Adapter) SilenceTimeout() time.Duration {
	return time.Duration(a.cfg.SilenceSec) * time.Second
}

func (a *Adapter) EvictEvery() int { return a.cfg.EvictEvery }

func (a *Adapter) SubscribeFrames() [][]byte {
	var frames [][]byte
	for _, channel := range []string{a.cfg.OrdersChannel, a.cfg.TradesChannel} {
		frame, _ := json.Marshal(map[string]interface{}{
			"event": "bts:subscribe",
			"data":  map[string]string{"channel": channel},
		})
		frames = append(frames, frame)
	}
	return frames
}

type message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type trade struct {
	Type      int     `json:"type"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp"`
}

type order struct {
	OrderType int     `json:"order_type"`
	Amount    float64 `json:"amount"`
	Datetime  string  `json:"datetime"`
}

func (a *Adapter) HandleMessage(data []byte) ([]models.MarketEvent, reader.Signal, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, reader.SignalNone, fmt.Errorf("failed to decode bitstamp message: %w", err)
	}

	if msg.Event == "bts:request_reconnect" {
		return nil, reader.SignalReconnect, nil
	}
	if len(msg.Data) == 0 || string(msg.Data) == "{}" {
		return nil, reader.SignalKeepAlive, nil
	}

	switch {
	case msg.Channel == a.cfg.TradesChannel && msg.Event == "trade":
		var t trade
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			return nil, reader.SignalNone, fmt.Errorf("failed to decode bitstamp trade: %w", err)
		}
		ts, err := strconv.ParseInt(t.Timestamp, 10, 64)
		if err != nil {
			return nil, reader.SignalNone, fmt.Errorf("bad bitstamp trade timestamp %q: %w", t.Timestamp, err)
		}
		side := models.SideSell
		if t.Type == 0 {
			side = models.SideBuy
		}
		ev := models.MarketEvent{
			Side:      side,
			Quantity:  models.Round4(t.Amount),
			Timestamp: ts,
		}
		return []models.MarketEvent{ev}, reader.SignalNone, nil

	case msg.Channel == a.cfg.OrdersChannel && (msg.Event == "order_created" || msg.Event == "order_changed"):
		var o order
		if err := json.Unmarshal(msg.Data, &o); err != nil {
			return nil, reader.SignalNone, fmt.Errorf("failed to decode bitstamp order: %w", err)
		}
		ts, err := strconv.ParseInt(o.Datetime, 10, 64)
		if err != nil {
			return nil, reader.SignalNone, fmt.Errorf("bad bitstamp order datetime %q: %w", o.Datetime, err)
		}
		side := models.SideSell
		if o.OrderType == 0 {
			side = models.SideBuy
		}
		ev := models.MarketEvent{
			Side:      side,
			Quantity:  models.Round4(o.Amount),
			Timestamp: ts,
		}
		return []models.MarketEvent{ev}, reader.SignalNone, nil
	}

	return nil, reader.SignalNone, nil
}
