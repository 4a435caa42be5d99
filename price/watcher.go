package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvincs/ODL-Live/internal/metrics"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/models"
)

// Watcher keeps the current XRP/USD price fresh by polling the Bitstamp
// ticker. Readers get the last good value; a failed poll never clears it.
type Watcher struct {
	url      string
	interval time.Duration
	client   *http.Client
	current  atomic.Value // models.PriceInfo
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewWatcher(url string, interval time.Duration) *Watcher {
	w := &Watcher{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 15 * time.Second},
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
	w.current.Store(models.PriceInfo{})
	return w
}

// Current returns the most recent price reading. FetchedAt is zero when no
// fetch has succeeded yet.
func (w *Watcher) Current() models.PriceInfo {
	return w.current.Load().(models.PriceInfo)
}

// Start performs one synchronous fetch so the price is available before any
// detection, then polls on the configured interval.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("price watcher already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("price_watcher")

	if err := w.fetch(); err != nil {
		log.WithError(err).Warn("initial price fetch failed")
	}

	w.wg.Add(1)
	go w.poll()

	log.WithFields(logger.Fields{"interval": w.interval.String()}).Info("price watcher started")
	return nil
}

// Stop waits for the polling worker to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.wg.Wait()
	w.log.WithComponent("price_watcher").Info("price watcher stopped")
}

func (w *Watcher) poll() {
	defer w.wg.Done()

	log := w.log.WithComponent("price_watcher")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.fetch(); err != nil {
				log.WithError(err).Warn("price fetch failed, keeping previous value")
			}
		}
	}
}

type ticker struct {
	Last string `json:"last"`
}

func (w *Watcher) fetch() error {
	req, err := http.NewRequestWithContext(w.ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build ticker request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch ticker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ticker fetch returned status %d", resp.StatusCode)
	}

	var t ticker
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return fmt.Errorf("failed to decode ticker: %w", err)
	}

	last, err := strconv.ParseFloat(t.Last, 64)
	if err != nil {
		return fmt.Errorf("bad ticker last price %q: %w", t.Last, err)
	}

	w.current.Store(models.PriceInfo{Last: last, FetchedAt: time.Now().Unix()})
	metrics.SetPrice(last)
	w.log.WithComponent("price_watcher").WithFields(logger.Fields{"last": last}).Debug("price updated")
	return nil
}
