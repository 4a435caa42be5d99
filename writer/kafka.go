package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/stats"
)

// detectionMessage is the Kafka payload for one detection. The rolling
// window totals are included so downstream consumers do not need to keep
// their own aggregation state.
type detectionMessage struct {
	Source      string  `json:"source"`
	Dest        string  `json:"dest"`
	XRP         float64 `json:"xrp"`
	USD         float64 `json:"usd"`
	DetectedAt  int64   `json:"time"`
	WindowCount int     `json:"window_count"`
	WindowXRP   float64 `json:"window_xrp"`
	WindowUSD   float64 `json:"window_usd"`
}

// DetectionKafkaWriter publishes detections to a Kafka topic. Notify only
// enqueues; a single worker goroutine owns the producer so a slow broker
// never stalls the detection path.
type DetectionKafkaWriter struct {
	writer  *kafka.Writer
	queue   chan detectionMessage
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewDetectionKafkaWriter(cfg config.KafkaConfig) (*DetectionKafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := &DetectionKafkaWriter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		queue: make(chan detectionMessage, 256),
		wg:    &sync.WaitGroup{},
		log:   logger.GetLogger(),
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

// Notify implements the detection sink contract.
func (kw *DetectionKafkaWriter) Notify(det models.ODLDetection, source, dest string, totals stats.Totals) {
	msg := detectionMessage{
		Source:      source,
		Dest:        dest,
		XRP:         det.Quantity,
		USD:         det.USDValue,
		DetectedAt:  det.DetectedAt,
		WindowCount: totals.Count,
		WindowXRP:   totals.TotalXRP,
		WindowUSD:   totals.TotalUSD,
	}
	select {
	case kw.queue <- msg:
	default:
		kw.log.WithComponent("kafka_writer").Warn("detection queue full, dropping message")
	}
}

func (kw *DetectionKafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *DetectionKafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case msg := <-kw.queue:
			data, err := json.Marshal(msg)
			if err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to marshal detection")
				continue
			}
			out := kafka.Message{
				Key:   []byte(msg.Dest),
				Value: data,
			}
			if err := kw.writer.WriteMessages(kw.ctx, out); err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to write message")
			} else {
				kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
					"source": msg.Source,
					"dest":   msg.Dest,
					"xrp":    msg.XRP,
				}).Debug("detection written to kafka")
			}
		}
	}
}

func (kw *DetectionKafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	kw.writer.Close()
	kw.wg.Wait()
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}
