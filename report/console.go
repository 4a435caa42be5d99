package report

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/stats"
)

// ConsoleSink prints each detection with the rolling 24 hour totals. This is
// the operator-facing feed; structured logs carry the same event for
// machines.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{out: os.Stdout}
}

func (s *ConsoleSink) Notify(det models.ODLDetection, source, dest string, totals stats.Totals) {
	ts := time.Unix(det.DetectedAt, 0).UTC().Format("2006-01-02 15:04:05")

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s ODL %s -> %s: %.4f XRP ($%.2f) | 24h: %d transfers, %.4f XRP, $%.2f\n",
		ts, source, dest, det.Quantity, det.USDValue,
		totals.Count, totals.TotalXRP, totals.TotalUSD)
}
