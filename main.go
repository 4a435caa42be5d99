package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/correlator"
	"github.com/calvincs/ODL-Live/internal/dashboard"
	"github.com/calvincs/ODL-Live/internal/metrics"
	"github.com/calvincs/ODL-Live/ledger"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/market"
	"github.com/calvincs/ODL-Live/price"
	"github.com/calvincs/ODL-Live/reader"
	"github.com/calvincs/ODL-Live/reader/bitso"
	"github.com/calvincs/ODL-Live/reader/bitstamp"
	"github.com/calvincs/ODL-Live/reader/bittrex"
	"github.com/calvincs/ODL-Live/reader/btcmarkets"
	"github.com/calvincs/ODL-Live/reader/coinsph"
	"github.com/calvincs/ODL-Live/reader/mercado"
	"github.com/calvincs/ODL-Live/report"
	"github.com/calvincs/ODL-Live/stats"
	"github.com/calvincs/ODL-Live/wallet"
	"github.com/calvincs/ODL-Live/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.ODLLive.Name,
		"version": cfg.ODLLive.Version,
	}).Info("starting odl-live")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	logger.StartReport(ctx, log, 30*time.Second)

	// A failed directory fetch degrades the run instead of killing it: with
	// no known wallets the ledger feed simply sees no qualifying payments.
	fetcher := wallet.NewFetcher(cfg.Bithomp.UserInfo, cfg.ExchangeNames)
	dir, err := fetcher.Fetch(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch exchange wallet directory, continuing without address resolution")
		dir = wallet.NewDirectory(nil)
	} else {
		log.WithFields(logger.Fields{"wallets": dir.Len()}).Info("exchange wallet directory loaded")
	}

	var uploader stats.SnapshotUploader
	if cfg.Storage.S3.Enabled && cfg.Storage.S3.BackupSnapshots {
		up, err := writer.NewSnapshotUploader(cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create snapshot uploader")
			os.Exit(1)
		}
		uploader = up
	}

	aggregator := stats.NewAggregator(cfg.StatsBackup.FilePath, cfg.StatsBackup.Interval(), uploader)
	aggregator.Restore()

	priceWatcher := price.NewWatcher(cfg.Price.Ticker, cfg.Price.Interval())

	registry := market.NewRegistry()
	for _, venue := range []string{
		bitso.VenueName,
		bitstamp.VenueName,
		coinsph.VenueName,
		btcmarkets.VenueName,
		mercado.VenueName,
		bittrex.VenueName,
	} {
		registry.Add(market.NewVenueQueue(venue, cfg.Queue.TTL()))
	}

	sinks := []correlator.Sink{report.NewConsoleSink()}

	var kafkaWriter *writer.DetectionKafkaWriter
	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err = writer.NewDetectionKafkaWriter(cfg.Storage.Kafka)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
		sinks = append(sinks, kafkaWriter)
	}

	var archiver *writer.DetectionArchiver
	if cfg.Storage.S3.Enabled {
		archiver, err = writer.NewDetectionArchiver(cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create S3 archiver")
			os.Exit(1)
		}
		sinks = append(sinks, archiver)
	}

	engine := correlator.NewEngine(cfg.Correlation, cfg.ExchangeODLTags, dir, registry, priceWatcher, aggregator, sinks...)

	streams := map[string]*reader.StreamConn{
		bitso.VenueName:      reader.NewStreamConn(bitso.New(cfg.Source.Bitso), registry.Get(bitso.VenueName), cfg.Reconnect.Delay()),
		bitstamp.VenueName:   reader.NewStreamConn(bitstamp.New(cfg.Source.Bitstamp), registry.Get(bitstamp.VenueName), cfg.Reconnect.Delay()),
		coinsph.VenueName:    reader.NewStreamConn(coinsph.New(cfg.Source.Coinsph), registry.Get(coinsph.VenueName), cfg.Reconnect.Delay()),
		btcmarkets.VenueName: reader.NewStreamConn(btcmarkets.New(cfg.Source.BTCMarkets), registry.Get(btcmarkets.VenueName), cfg.Reconnect.Delay()),
	}

	mercadoAdapter := mercado.New(cfg.Source.Mercado)
	mercadoPoller := reader.NewPoller(mercado.VenueName, registry.Get(mercado.VenueName),
		mercadoAdapter.Tasks(), mercadoAdapter.TTLInterval(),
		cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)

	bittrexAdapter := bittrex.New(cfg.Source.Bittrex, registry.Get(bittrex.VenueName))
	bittrexPoller := reader.NewPoller(bittrex.VenueName, registry.Get(bittrex.VenueName),
		bittrexAdapter.Tasks(), bittrexAdapter.TTLInterval(),
		cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)

	ledgerFeed := ledger.NewFeed(cfg.XRPLedger.Server, dir,
		time.Duration(cfg.XRPLedger.SilenceSec)*time.Second,
		cfg.Reconnect.Delay(), engine.HandlePayment)

	dashboardServer := dashboard.NewServer(cfg.Dashboard, cfg.ODLLive.Name, cfg.ODLLive.Version, dashboard.Sources{
		States: func() map[string]string {
			out := make(map[string]string, len(streams))
			for venue, conn := range streams {
				out[venue] = conn.State().String()
			}
			return out
		},
		Depths:     registry.Depths,
		Totals:     aggregator.Totals,
		Price:      priceWatcher.Current,
		Detections: aggregator.Snapshot,
	})

	if err := aggregator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start stats aggregator")
		os.Exit(1)
	}
	if err := priceWatcher.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start price watcher")
		os.Exit(1)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start kafka writer")
			os.Exit(1)
		}
	}
	if archiver != nil {
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start S3 archiver")
			os.Exit(1)
		}
	}

	for venue, conn := range streams {
		if err := conn.Start(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{"venue": venue}).Error("failed to start stream reader")
			os.Exit(1)
		}
	}
	if err := mercadoPoller.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start mercado poller")
		os.Exit(1)
	}
	if err := bittrexPoller.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start bittrex poller")
		os.Exit(1)
	}
	if err := ledgerFeed.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start ledger feed")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if dashboardServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dashboardServer.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard server failed")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		ledgerFeed.Stop()
		for _, conn := range streams {
			conn.Stop()
		}
		mercadoPoller.Stop()
		bittrexPoller.Stop()
		engine.Stop()
		priceWatcher.Stop()
		aggregator.Stop()
		if archiver != nil {
			archiver.Stop()
		}
		if kafkaWriter != nil {
			kafkaWriter.Stop()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("odl-live stopped")
}
