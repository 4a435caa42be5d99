package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/calvincs/ODL-Live/internal/metrics"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/models"
)

// windowSeconds is the rolling aggregation window.
const windowSeconds = 86400

// Totals is the rolling 24 hour summary handed to reporting sinks.
type Totals struct {
	Count    int     `json:"count"`
	TotalXRP float64 `json:"xrp"`
	TotalUSD float64 `json:"usd"`
}

// SnapshotUploader receives the serialized window on every persistence pass.
// Optional; used for off-host backup.
type SnapshotUploader interface {
	Upload(ctx context.Context, data []byte) error
}

// Aggregator keeps the rolling 24 hour window of detections, recomputes the
// summary totals and persists the window as a JSON snapshot. The in-memory
// window is authoritative; persistence is best-effort backup.
type Aggregator struct {
	filePath string
	interval time.Duration
	uploader SnapshotUploader
	now      func() time.Time

	mu     sync.Mutex
	window []models.ODLDetection
	totals Totals

	ctx     context.Context
	wg      *sync.WaitGroup
	runMu   sync.Mutex
	running bool
	log     *logger.Log
}

func NewAggregator(filePath string, interval time.Duration, uploader SnapshotUploader) *Aggregator {
	return &Aggregator{
		filePath: filePath,
		interval: interval,
		uploader: uploader,
		now:      time.Now,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Restore loads the last persisted window. Absence or a parse failure is not
// fatal; the window simply starts empty.
func (a *Aggregator) Restore() {
	log := a.log.WithComponent("stats")

	data, err := os.ReadFile(a.filePath)
	if err != nil {
		log.WithError(err).Warn("no stats snapshot to restore, starting empty")
		return
	}

	var window []models.ODLDetection
	if err := json.Unmarshal(data, &window); err != nil {
		log.WithError(err).Warn("stats snapshot unreadable, starting empty")
		return
	}

	a.mu.Lock()
	a.window = window
	a.mu.Unlock()

	a.Recompute()
	log.WithFields(logger.Fields{"detections": len(window)}).Info("restored stats snapshot")
}

// Record appends a detection and synchronously recomputes, returning the
// totals as of this detection.
func (a *Aggregator) Record(det models.ODLDetection) Totals {
	a.mu.Lock()
	a.window = append(a.window, det)
	a.mu.Unlock()
	return a.Recompute()
}

// Totals returns the last computed summary.
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// Snapshot copies the current window.
func (a *Aggregator) Snapshot() []models.ODLDetection {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ODLDetection, len(a.window))
	copy(out, a.window)
	return out
}

// Recompute evicts detections older than 24 hours, recomputes the totals and
// rewrites the persisted snapshot.
func (a *Aggregator) Recompute() Totals {
	horizon := a.now().Unix() - windowSeconds

	a.mu.Lock()
	kept := a.window[:0]
	for _, det := range a.window {
		if det.DetectedAt > horizon {
			kept = append(kept, det)
		}
	}
	a.window = kept

	totals := Totals{Count: len(kept)}
	for _, det := range kept {
		totals.TotalXRP = models.Round4(totals.TotalXRP + det.Quantity)
		totals.TotalUSD = models.Round2(totals.TotalUSD + det.USDValue)
	}
	a.totals = totals
	metrics.SetWindow(totals.Count, totals.TotalXRP, totals.TotalUSD)

	data, err := json.MarshalIndent(a.window, "", "  ")
	a.mu.Unlock()

	log := a.log.WithComponent("stats")
	log.WithFields(logger.Fields{
		"count": totals.Count,
		"xrp":   totals.TotalXRP,
		"usd":   totals.TotalUSD,
	}).Info("recomputed rolling window")

	if err != nil {
		log.WithError(err).Error("failed to serialize stats snapshot")
		return totals
	}
	a.persist(data, log)
	return totals
}

func (a *Aggregator) persist(data []byte, log *logger.Entry) {
	if err := os.WriteFile(a.filePath, data, 0o644); err != nil {
		log.WithError(err).Warn("failed to write stats snapshot")
	} else {
		log.WithFields(logger.Fields{"path": a.filePath}).Debug("stats snapshot written")
	}

	if a.uploader != nil {
		ctx := a.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := a.uploader.Upload(ctx, data); err != nil {
			log.WithError(err).Warn("failed to upload stats snapshot")
		}
	}
}

// Start runs the periodic recompute so the window stays fresh even with no
// new detections.
func (a *Aggregator) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return fmt.Errorf("stats aggregator already running")
	}
	a.running = true
	a.ctx = ctx
	a.runMu.Unlock()

	a.wg.Add(1)
	go a.loop()

	a.log.WithComponent("stats").WithFields(logger.Fields{"interval": a.interval.String()}).Info("stats aggregator started")
	return nil
}

// Stop waits for the periodic worker to exit.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	a.running = false
	a.runMu.Unlock()
	a.wg.Wait()
	a.log.WithComponent("stats").Info("stats aggregator stopped")
}

func (a *Aggregator) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.Recompute()
		}
	}
}
