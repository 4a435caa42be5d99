package bittrex

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/market"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/reader"
)

const VenueName = "bittrex"

// Trade timestamps come without a zone designator and are wall clock time
// in US Pacific.
var pacific = mustLoadPacific()

func mustLoadPacific() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}

// Adapter polls the Bittrex public REST API for XRP trades and the order
// book. The trades endpoint returns a sliding history window, so rows are
// de-duplicated against the venue queue by their Uuid.
type Adapter struct {
	cfg   config.BittrexConfig
	queue *market.VenueQueue
	now   func() time.Time
}

func New(cfg config.BittrexConfig, queue *market.VenueQueue) *Adapter {
	return &Adapter{cfg: cfg, queue: queue, now: time.Now}
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
			URL:      func() string { return a.cfg.TradesURL },
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

type tradesResponse struct {
	Success bool    `json:"success"`
	Result  []trade `json:"result"`
}

type trade struct {
	Uuid      string  `json:"Uuid"`
	TimeStamp string  `json:"TimeStamp"`
	Quantity  float64 `json:"Quantity"`
	OrderType string  `json:"OrderType"`
}

func (a *Adapter) handleTrades(data []byte) ([]models.MarketEvent, error) {
	var resp tradesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bittrex trades: %w", err)
	}

	var events []models.MarketEvent
	for _, t := range resp.Result {
		if a.queue.ContainsID(t.Uuid) {
			continue
		}
		ts, err := parseStamp(t.TimeStamp)
		if err != nil {
			continue
		}
		side := models.SideSell
		if t.OrderType == "BUY" {
			side = models.SideBuy
		}
		events = append(events, models.MarketEvent{
			Side:      side,
			Quantity:  models.Round4(t.Quantity),
			Timestamp: ts,
			EventID:   t.Uuid,
		})
	}
	return events, nil
}

type orderbookResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Buy  []level `json:"buy"`
		Sell []level `json:"sell"`
	} `json:"result"`
}

type level struct {
	Quantity float64 `json:"Quantity"`
}

func (a *Adapter) handleOrderbook(data []byte) ([]models.MarketEvent, error) {
	var resp orderbookResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bittrex orderbook: %w", err)
	}

	now := a.now().Unix()
	events := make([]models.MarketEvent, 0, len(resp.Result.Buy)+len(resp.Result.Sell))
	for _, l := range resp.Result.Buy {
		events = append(events, models.MarketEvent{Side: models.SideBuy, Quantity: models.Round4(l.Quantity), Timestamp: now})
	}
	for _, l := range resp.Result.Sell {
		events = append(events, models.MarketEvent{Side: models.SideSell, Quantity: models.Round4(l.Quantity), Timestamp: now})
	}
	return events, nil
}

func parseStamp(s string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, pacific)
	if err != nil {
		return 0, fmt.Errorf("bad bittrex timestamp %q: %w", s, err)
	}
	return t.Unix(), nil
}
