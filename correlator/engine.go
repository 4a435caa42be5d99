package correlator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/internal/metrics"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/market"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/stats"
	"github.com/calvincs/ODL-Live/wallet"
)

// Score awarded by each independent corroboration signal.
const signalScore = 30

// PriceSource supplies the current XRP/USD price.
type PriceSource interface {
	Current() models.PriceInfo
}

// Sink receives every emitted detection together with the venue names and
// the rolling totals at that moment.
type Sink interface {
	Notify(det models.ODLDetection, source, dest string, totals stats.Totals)
}

type tagKey struct {
	tag      int64
	exchange string
}

// Engine scores ledger payments between exchange wallets against the market
// activity seen on the source and destination venues. Each payment waits a
// settlement delay before evaluation so the final sell leg has time to land.
type Engine struct {
	cfg      config.CorrelationConfig
	tags     map[tagKey]struct{}
	dir      *wallet.Directory
	registry *market.Registry
	price    PriceSource
	stats    *stats.Aggregator
	sinks    []Sink
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
	closed  bool

	log *logger.Log
}

func NewEngine(cfg config.CorrelationConfig, tags []config.ODLTag, dir *wallet.Directory, registry *market.Registry, price PriceSource, agg *stats.Aggregator, sinks ...Sink) *Engine {
	tagTable := make(map[tagKey]struct{}, len(tags))
	for _, t := range tags {
		tagTable[tagKey{tag: t.Tag, exchange: t.Exchange}] = struct{}{}
	}
	return &Engine{
		cfg:      cfg,
		tags:     tagTable,
		dir:      dir,
		registry: registry,
		price:    price,
		stats:    agg,
		sinks:    sinks,
		now:      time.Now,
		pending:  make(map[string]*time.Timer),
		log:      logger.GetLogger(),
	}
}

// HandlePayment schedules a payment for evaluation after the settlement
// delay. It never blocks; multiple payments ride out their delay windows
// concurrently.
func (e *Engine) HandlePayment(payment models.QualifyingPayment) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	id := uuid.New().String()
	e.wg.Add(1)
	timer := time.AfterFunc(e.cfg.SettlementDelay(), func() {
		defer e.wg.Done()
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		e.Evaluate(payment)
	})
	e.pending[id] = timer
	e.mu.Unlock()

	e.log.WithComponent("correlator").WithFields(logger.Fields{
		"payment": id,
		"amount":  payment.Amount,
		"delay":   e.cfg.SettlementDelay().String(),
	}).Debug("payment scheduled for evaluation")
}

// Stop cancels pending settlement timers and waits for in-flight
// evaluations to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.closed = true
	for id, timer := range e.pending {
		if timer.Stop() {
			e.wg.Done()
		}
		delete(e.pending, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.log.WithComponent("correlator").Info("correlator stopped")
}

// Evaluate scores one payment immediately. Exposed for the settlement timer
// and for direct use in tests.
func (e *Engine) Evaluate(payment models.QualifyingPayment) {
	log := e.log.WithComponent("correlator")

	source, ok := e.dir.Resolve(payment.SourceAddress)
	if !ok {
		return
	}
	dest, ok := e.dir.Resolve(payment.DestinationAddress)
	if !ok {
		return
	}

	score := 0
	if e.tagMatches(payment.DestinationTag, dest) {
		score += signalScore
	}
	if e.buyMatches(source, payment) {
		score += signalScore
	}
	if e.sellMatches(dest, payment) {
		score += signalScore
	}

	log.WithFields(logger.Fields{
		"source": source,
		"dest":   dest,
		"amount": payment.Amount,
		"score":  score,
	}).Debug("payment evaluated")

	if score < signalScore {
		return
	}

	e.emit(payment, source, dest, score)
}

func (e *Engine) tagMatches(tag *int64, dest string) bool {
	if tag == nil {
		return false
	}
	_, ok := e.tags[tagKey{tag: *tag, exchange: dest}]
	return ok
}

// buyMatches looks for a buy on the source venue shortly after the payment
// timestamp that is at least the payment amount and within the match ratio.
func (e *Engine) buyMatches(source string, payment models.QualifyingPayment) bool {
	queue := e.registry.Get(source)
	if queue == nil {
		return false
	}
	drift := e.cfg.Drift(source)
	candidates := queue.EventsBetween(models.SideBuy, payment.LedgerTimestamp, payment.LedgerTimestamp+drift)
	match, ok := market.Closest(candidates, payment.Amount)
	if !ok {
		return false
	}
	return match.Quantity >= payment.Amount && payment.Amount/match.Quantity >= e.cfg.MatchRatio
}

// sellMatches is the symmetric search on the destination venue shortly
// before the payment timestamp.
func (e *Engine) sellMatches(dest string, payment models.QualifyingPayment) bool {
	queue := e.registry.Get(dest)
	if queue == nil {
		return false
	}
	drift := e.cfg.Drift(dest)
	candidates := queue.EventsBetween(models.SideSell, payment.LedgerTimestamp-drift, payment.LedgerTimestamp)
	match, ok := market.Closest(candidates, payment.Amount)
	if !ok {
		return false
	}
	return match.Quantity <= payment.Amount && match.Quantity/payment.Amount >= e.cfg.MatchRatio
}

func (e *Engine) emit(payment models.QualifyingPayment, source, dest string, score int) {
	price := e.price.Current()
	det := models.ODLDetection{
		Quantity:   payment.Amount,
		USDValue:   models.Round2(models.Round4(price.Last) * payment.Amount),
		DetectedAt: e.now().Unix(),
	}

	totals := e.stats.Record(det)
	logger.IncrementDetection()
	metrics.IncrementDetection()

	e.log.WithComponent("correlator").WithFields(logger.Fields{
		"source": source,
		"dest":   dest,
		"xrp":    det.Quantity,
		"usd":    det.USDValue,
		"score":  score,
	}).Info(fmt.Sprintf("ODL transfer detected: %s -> %s", source, dest))

	for _, sink := range e.sinks {
		sink.Notify(det, source, dest, totals)
	}
}
