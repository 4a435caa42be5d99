package reader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calvincs/ODL-Live/internal/metrics"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/market"
	"github.com/calvincs/ODL-Live/models"
)

// Signal lets an adapter influence the connection loop from inside a
// message handler.
type Signal int

const (
	// SignalNone means the message was ordinary market data.
	SignalNone Signal = iota
	// SignalKeepAlive marks a heartbeat. It resets the silence timer but
	// produces no events.
	SignalKeepAlive
	// SignalReconnect means the venue asked us to drop and redial.
	SignalReconnect
)

// StreamAdapter is the venue-specific half of a websocket connection. It
// owns the wire format; StreamConn owns the lifecycle.
type StreamAdapter interface {
	// Venue returns the canonical lowercase venue name.
	Venue() string
	// URL returns the websocket endpoint to dial.
	URL() string
	// SubscribeFrames returns the frames sent after every (re)connect.
	SubscribeFrames() [][]byte
	// HandleMessage parses one frame into zero or more normalized events.
	HandleMessage(data []byte) ([]models.MarketEvent, Signal, error)
	// SilenceTimeout is how long the stream may stay quiet before the
	// connection is considered dead.
	SilenceTimeout() time.Duration
	// EvictEvery is the message count between queue eviction passes.
	// Zero disables message-count driven eviction.
	EvictEvery() int
}

// StreamConn drives one venue websocket: dial, subscribe, pump messages
// into the venue queue, watch for silence and redial forever until the
// context is cancelled.
type StreamConn struct {
	adapter        StreamAdapter
	queue          *market.VenueQueue
	reconnectDelay time.Duration
	ctx            context.Context
	wg             *sync.WaitGroup
	mu             sync.RWMutex
	running        bool
	state          atomic.Int32
	log            *logger.Log
}

// NewStreamConn wires an adapter to its venue queue.
func NewStreamConn(adapter StreamAdapter, queue *market.VenueQueue, reconnectDelay time.Duration) *StreamConn {
	return &StreamConn{
		adapter:        adapter,
		queue:          queue,
		reconnectDelay: reconnectDelay,
		wg:             &sync.WaitGroup{},
		log:            logger.GetLogger(),
	}
}

// State reports the current connection state.
func (c *StreamConn) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *StreamConn) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// Start launches the connection loop.
func (c *StreamConn) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("%s reader already running", c.adapter.Venue())
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	log := c.log.WithComponent("stream_reader").WithFields(logger.Fields{"venue": c.adapter.Venue()})
	log.WithFields(logger.Fields{"url": c.adapter.URL()}).Info("starting stream reader")

	c.wg.Add(1)
	go c.run()

	return nil
}

// Stop waits for the connection loop to exit. The context passed to Start
// must already be cancelled.
func (c *StreamConn) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	log := c.log.WithComponent("stream_reader").WithFields(logger.Fields{"venue": c.adapter.Venue()})
	log.Info("stopping stream reader")
	c.wg.Wait()
	log.Info("stream reader stopped")
}

func (c *StreamConn) run() {
	defer c.wg.Done()
	defer c.setState(StateClosed)

	log := c.log.WithComponent("stream_reader").WithFields(logger.Fields{
		"venue":  c.adapter.Venue(),
		"worker": "connection_loop",
	})

	for {
		if c.ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.adapter.URL(), nil)
		if err != nil {
			log.WithError(err).Warn("dial failed")
			if !c.sleep() {
				return
			}
			continue
		}

		if err := c.subscribe(conn); err != nil {
			log.WithError(err).Warn("subscribe failed")
			conn.Close()
			if !c.sleep() {
				return
			}
			continue
		}

		c.setState(StateOpen)
		log.Info("stream connected")

		c.pump(conn, log)
		conn.Close()
		c.setState(StateClosed)

		if c.ctx.Err() != nil {
			return
		}
		logger.IncrementReconnect()
		metrics.IncrementReconnect(c.adapter.Venue())
		if !c.sleep() {
			return
		}
	}
}

func (c *StreamConn) subscribe(conn *websocket.Conn) error {
	for _, frame := range c.adapter.SubscribeFrames() {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("failed to send subscription: %w", err)
		}
	}
	return nil
}

// pump reads frames until the connection errors out, the venue requests a
// reconnect, the silence timeout elapses or the context is cancelled.
func (c *StreamConn) pump(conn *websocket.Conn, log *logger.Entry) {
	msgs := make(chan []byte, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			// Closing the socket only unblocks ReadMessage, so the send
			// must also give up once pump has returned.
			select {
			case msgs <- data:
			case <-done:
				return
			}
		}
	}()

	silence := c.adapter.SilenceTimeout()
	timer := time.NewTimer(silence)
	defer timer.Stop()

	msgCount := 0
	evictEvery := c.adapter.EvictEvery()

	for {
		select {
		case <-c.ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case err := <-readErr:
			log.WithError(err).Warn("stream read failed")
			return

		case <-timer.C:
			c.setState(StateDegraded)
			log.WithFields(logger.Fields{"silence": silence.String()}).Warn("stream silent past timeout, reconnecting")
			return

		case data, ok := <-msgs:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(silence)

			logger.IncrementVenueRead(c.adapter.Venue(), len(data))
			metrics.IncrementVenueMessage(c.adapter.Venue())

			events, sig, err := c.adapter.HandleMessage(data)
			if err != nil {
				log.WithError(err).Warn("failed to parse stream message")
				continue
			}
			if len(events) > 0 {
				c.queue.Push(events...)
				metrics.SetQueueDepth(c.adapter.Venue(), c.queue.Len())
			}

			msgCount++
			if evictEvery > 0 && msgCount%evictEvery == 0 {
				if removed := c.queue.Evict(time.Now()); removed > 0 {
					logger.IncrementEvictions(removed)
					metrics.AddEvictions(c.adapter.Venue(), removed)
					log.WithFields(logger.Fields{"removed": removed, "depth": c.queue.Len()}).Debug("evicted expired events")
				}
			}

			if sig == SignalReconnect {
				log.Info("venue requested reconnect")
				return
			}
		}
	}
}

// sleep waits the reconnect delay, returning false when the context was
// cancelled first.
func (c *StreamConn) sleep() bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}
