package coinsph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/reader"
)

const VenueName = "coins.ph"

// Adapter speaks the Coins.ph (AlphaPoint) websocket frame protocol. Trade
// payloads arrive double-encoded: the frame's "o" member is itself a JSON
// document in string form.
type Adapter struct {
	cfg config.CoinsphConfig
}

func New(cfg config.CoinsphConfig) *Adapter {
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
	for _, inst := range a.cfg.Instruments {
		payload, _ := json.Marshal(map[string]int{
			"OMSId":            1,
			"InstrumentId":     inst.ID,
			"IncludeLastCount": inst.IncludeLastCount,
		})
		frame, _ := json.Marshal(map[string]interface{}{
			"m": 0,
			"i": 0,
			"n": "SubscribeTrades",
			"o": string(payload),
		})
		frames = append(frames, frame)
	}
	return frames
}

type frame struct {
	M int    `json:"m"`
	N string `json:"n"`
	O string `json:"o"`
}

func (a *Adapter) HandleMessage(data []byte) ([]models.MarketEvent, reader.Signal, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, reader.SignalNone, fmt.Errorf("failed to decode coins.ph frame: %w", err)
	}

	if f.M != 3 || f.N != "TradeDataUpdateEvent" {
		// Subscription acks and other events still count as life signs.
		return nil, reader.SignalKeepAlive, nil
	}

	// Rows are positional: [tradeId, instrumentId, quantity, price, timeMs,
	// orderId, takerSide, ...].
	var rows [][]float64
	if err := json.Unmarshal([]byte(f.O), &rows); err != nil {
		return nil, reader.SignalNone, fmt.Errorf("failed to decode coins.ph trade rows: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) < 7 {
		return nil, reader.SignalNone, nil
	}

	row := rows[0]
	side := models.SideSell
	if int(row[6]) == 0 {
		side = models.SideBuy
	}
	ev := models.MarketEvent{
		Side:      side,
		Quantity:  models.Round4(row[2]),
		Timestamp: int64(row[4]) / 1000,
	}
	return []models.MarketEvent{ev}, reader.SignalNone, nil
}
