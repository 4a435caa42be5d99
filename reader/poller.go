package reader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/calvincs/ODL-Live/internal/metrics"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/market"
	"github.com/calvincs/ODL-Live/models"
)

// maxPollBody caps REST response reads.
const maxPollBody = 4 << 20

// PollTask is one periodic REST fetch. Handle parses the raw body into
// normalized events; de-duplication against the queue is the adapter's job.
type PollTask struct {
	Name     string
	URL      func() string
	Interval time.Duration
	Handle   func(data []byte) ([]models.MarketEvent, error)
}

// Poller runs a set of REST fetch tasks for one venue and a timer-driven
// eviction pass over the venue queue. Used for venues without a usable
// websocket feed.
type Poller struct {
	venue       string
	queue       *market.VenueQueue
	tasks       []PollTask
	ttlInterval time.Duration
	limiter     *rate.Limiter
	client      *http.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
}

// NewPoller creates a poller sharing one rate limiter across all tasks.
func NewPoller(venue string, queue *market.VenueQueue, tasks []PollTask, ttlInterval time.Duration, rps float64, burst int) *Poller {
	return &Poller{
		venue:       venue,
		queue:       queue,
		tasks:       tasks,
		ttlInterval: ttlInterval,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		client:      &http.Client{Timeout: 15 * time.Second},
		wg:          &sync.WaitGroup{},
		log:         logger.GetLogger(),
	}
}

// Start launches one worker per task plus the eviction worker.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("%s poller already running", p.venue)
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("poll_reader").WithFields(logger.Fields{"venue": p.venue})
	log.WithFields(logger.Fields{"tasks": len(p.tasks)}).Info("starting poll reader")

	for _, task := range p.tasks {
		p.wg.Add(1)
		go p.pollWorker(task)
	}

	if p.ttlInterval > 0 {
		p.wg.Add(1)
		go p.evictWorker()
	}

	return nil
}

// Stop waits for all workers to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	log := p.log.WithComponent("poll_reader").WithFields(logger.Fields{"venue": p.venue})
	log.Info("stopping poll reader")
	p.wg.Wait()
	log.Info("poll reader stopped")
}

func (p *Poller) pollWorker(task PollTask) {
	defer p.wg.Done()

	log := p.log.WithComponent("poll_reader").WithFields(logger.Fields{
		"venue":  p.venue,
		"worker": task.Name,
	})

	now := time.Now()
	nextTick := now.Truncate(task.Interval).Add(task.Interval)
	timer := time.NewTimer(nextTick.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-timer.C:
			start := time.Now()
			p.fetch(task, log)
			duration := time.Since(start)

			if duration > task.Interval {
				log.WithFields(logger.Fields{
					"duration": duration.Milliseconds(),
					"interval": task.Interval.Milliseconds(),
				}).Warn("fetch took longer than interval")
			}

			nextTick = start.Truncate(task.Interval).Add(task.Interval)
			timer.Reset(time.Until(nextTick))
		}
	}
}

func (p *Poller) fetch(task PollTask, log *logger.Entry) {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return
	}

	reqURL := task.URL()
	req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		log.WithError(err).Warn("failed to build request")
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("fetch failed")
		return
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "poll_reader", task.Name, time.Since(start), logger.Fields{"venue": p.venue})

	if resp.StatusCode != http.StatusOK {
		log.WithFields(logger.Fields{"status": resp.StatusCode, "url": reqURL}).Warn("unexpected response status")
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
	if err != nil {
		log.WithError(err).Warn("failed to read response body")
		return
	}

	logger.IncrementVenueRead(p.venue, len(body))
	metrics.IncrementVenueMessage(p.venue)

	events, err := task.Handle(body)
	if err != nil {
		log.WithError(err).Warn("failed to parse response")
		return
	}
	if len(events) > 0 {
		p.queue.Push(events...)
		metrics.SetQueueDepth(p.venue, p.queue.Len())
	}
}

func (p *Poller) evictWorker() {
	defer p.wg.Done()

	log := p.log.WithComponent("poll_reader").WithFields(logger.Fields{
		"venue":  p.venue,
		"worker": "eviction",
	})

	ticker := time.NewTicker(p.ttlInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if removed := p.queue.Evict(time.Now()); removed > 0 {
				logger.IncrementEvictions(removed)
				metrics.AddEvictions(p.venue, removed)
				log.WithFields(logger.Fields{"removed": removed, "depth": p.queue.Len()}).Debug("evicted expired events")
			}
		}
	}
}
