package models

import "math"

// Side marks a market event as buy-side or sell-side activity.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// MarketEvent is one normalized trade or order observed on a venue.
// Quantity is always the venue-native XRP amount rounded to four decimal
// places, matching the ledger's precision. Timestamp is epoch seconds,
// venue-reported when available and local receipt time otherwise.
// EventID carries the venue's own identifier when the venue supplies one;
// polling connectors use it to de-duplicate across fetch cycles.
type MarketEvent struct {
	Side      Side
	Quantity  float64
	Timestamp int64
	EventID   string
}

// QualifyingPayment is a successful native-XRP ledger payment between two
// known exchange wallets. DestinationTag is nil when the transaction
// carried no tag.
type QualifyingPayment struct {
	SourceAddress      string
	DestinationAddress string
	DestinationTag     *int64
	Amount             float64
	LedgerTimestamp    int64
}

// ODLDetection is one reported ODL transfer. The JSON field names are the
// persisted snapshot format and must stay stable across restarts.
type ODLDetection struct {
	Quantity   float64 `json:"xrp"`
	USDValue   float64 `json:"usd"`
	DetectedAt int64   `json:"time"`
}

// PriceInfo holds the most recent XRP/USD ticker reading.
type PriceInfo struct {
	Last      float64
	FetchedAt int64
}

// Round4 rounds to the ledger's four decimal places of precision.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Round2 rounds to whole cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
