package bitso

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/reader"
)

// VenueName is the canonical venue key used in queues and wallet lookups.
const VenueName = "bitso"

// Adapter speaks the Bitso websocket protocol for the XRP/MXN book. Bitso
// does not publish every fill on either channel alone, so both trades and
// diff-orders are subscribed.
type Adapter struct {
	cfg config.BitsoConfig
}

func New(cfg config.BitsoConfig) *Adapter {
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
	for _, typ := range []string{"diff-orders", "trades"} {
		frame, _ := json.Marshal(map[string]string{
			"action": "subscribe",
			"book":   a.cfg.Book,
			"type":   typ,
		})
		frames = append(frames, frame)
	}
	return frames
}

type message struct {
	Type    string            `json:"type"`
	Payload []json.RawMessage `json:"payload"`
}

type entry struct {
	Kind   int    `json:"t"`
	Amount string `json:"a"`
	Status string `json:"s"`
	Stamp  int64  `json:"d"`
}

func (a *Adapter) HandleMessage(data []byte) ([]models.MarketEvent, reader.Signal, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, reader.SignalNone, fmt.Errorf("failed to decode bitso message: %w", err)
	}

	if msg.Type == "ka" {
		return nil, reader.SignalKeepAlive, nil
	}
	if len(msg.Payload) == 0 {
		return nil, reader.SignalNone, nil
	}

	// Only the first payload entry is taken, same as the book deltas are
	// only partially observable anyway.
	var e entry
	if err := json.Unmarshal(msg.Payload[0], &e); err != nil {
		return nil, reader.SignalNone, fmt.Errorf("failed to decode bitso payload: %w", err)
	}

	side := models.SideSell
	if e.Kind == 0 {
		side = models.SideBuy
	}

	switch msg.Type {
	case "trades":
		amount, err := strconv.ParseFloat(e.Amount, 64)
		if err != nil {
			return nil, reader.SignalNone, fmt.Errorf("bad bitso trade amount %q: %w", e.Amount, err)
		}
		ev := models.MarketEvent{
			Side:      side,
			Quantity:  models.Round4(amount),
			Timestamp: time.Now().Unix(),
		}
		return []models.MarketEvent{ev}, reader.SignalNone, nil

	case "diff-orders":
		if e.Status == "cancelled" {
			return nil, reader.SignalNone, nil
		}
		amount, err := strconv.ParseFloat(e.Amount, 64)
		if err != nil {
			// Orders without an amount show up routinely; skip quietly.
			return nil, reader.SignalNone, nil
		}
		ev := models.MarketEvent{
			Side:      side,
			Quantity:  models.Round4(amount),
			Timestamp: e.Stamp / 1000,
		}
		return []models.MarketEvent{ev}, reader.SignalNone, nil
	}

	return nil, reader.SignalNone, nil
}
