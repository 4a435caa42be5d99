package mercado

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/reader"
)

const VenueName = "mercado bitcoin"

// Adapter polls the Mercado Bitcoin public REST API for XRP trades and the
// order book. The trades endpoint takes a from-timestamp path segment; each
// poll asks for the interval plus a small overlap.
type Adapter struct {
	cfg config.MercadoConfig
	now func() time.Time
}

func New(cfg config.MercadoConfig) *Adapter {
	return &Adapter{cfg: cfg, now: time.Now}
}

// TTLInterval is how often the venue queue is swept for expired events.
func (a *Adapter) TTLInterval() time.Duration {
	return time.Duration(a.cfg.TTLIntervalSec) * time.Second
}

// Tasks returns the periodic fetches for this venue.
func (a *Adapter) Tasks() []reader.PollTask {
	return []reader.PollTask{
		{
			Name:     "trades",
			URL:      a.tradesURL,
			Interval: time.Duration(a.cfg.TradesIntervalSec) * time.Second,
			Handle:   a.handleTrades,
		},
		{
			Name:     "orderbook",
			URL:      func() string { return a.cfg.OrderbookURL },
			Interval: time.Duration(a.cfg.OrderbookIntervalSec) * time.Second,
			Handle:   a.handleOrderbook,
		},
	}
}

func (a *Adapter) tradesURL() string {
	since := a.now().Unix() - a.cfg.TradesLookbackSec
	return a.cfg.TradesURL + strconv.FormatInt(since, 10)
}

type trade struct {
	Date   int64   `json:"date"`
	Amount float64 `json:"amount"`
	Type   string  `json:"type"`
}

func (a *Adapter) handleTrades(data []byte) ([]models.MarketEvent, error) {
	var trades []trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("failed to decode mercado trades: %w", err)
	}

	events := make([]models.MarketEvent, 0, len(trades))
	for _, t := range trades {
		side := models.SideSell
		if t.Type == "buy" {
			side = models.SideBuy
		}
		events = append(events, models.MarketEvent{
			Side:      side,
			Quantity:  models.Round4(t.Amount),
			Timestamp: t.Date,
		})
	}
	return events, nil
}

type orderbook struct {
	Bids [][]float64 `json:"bids"`
	Asks [][]float64 `json:"asks"`
}

func (a *Adapter) handleOrderbook(data []byte) ([]models.MarketEvent, error) {
	var book orderbook
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("failed to decode mercado orderbook: %w", err)
	}

	// The book carries no timestamps; stamp levels at receipt time.
	now := a.now().Unix()
	events := make([]models.MarketEvent, 0, len(book.Bids)+len(book.Asks))
	for _, level := range book.Bids {
		if len(level) < 2 {
			continue
		}
		events = append(events, models.MarketEvent{Side: models.SideBuy, Quantity: models.Round4(level[1]), Timestamp: now})
	}
	for _, level := range book.Asks {
		if len(level) < 2 {
			continue
		}
		events = append(events, models.MarketEvent{Side: models.SideSell, Quantity: models.Round4(level[1]), Timestamp: now})
	}
	return events, nil
}
