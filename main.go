package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradedeck/adapter"
	"tradedeck/config"
	"tradedeck/logger"
	"tradedeck/models"
	"tradedeck/recorder"
	"tradedeck/rest"
	"tradedeck/stream"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradedeck.Name,
		"version": cfg.Tradedeck.Version,
	}).Info("starting tradedeck")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.CloudWatch {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.New(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create tick recorder")
			os.Exit(1)
		}
		if err := rec.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start tick recorder")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("tick recorder disabled")
	}

	opts := adapter.Options{
		REST: rest.Options{
			Timeout:           cfg.REST.Timeout,
			RequestsPerSecond: cfg.REST.RequestsPerSecond,
			BurstSize:         cfg.REST.BurstSize,
		},
		Stream: stream.Options{
			PingInterval: cfg.Stream.PingInterval,
		},
	}

	names := cfg.EnabledVenues()
	sort.Strings(names)

	adapters := make([]*adapter.Adapter, 0, len(names))
	for _, name := range names {
		vs := cfg.Venues[name]

		ad, err := adapter.ForVenue(name, opts)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"venue": name}).Error("failed to create adapter")
			os.Exit(1)
		}

		vc := vs.VenueConfig
		if err := ad.Configure(&vc); err != nil {
			log.WithError(err).WithFields(logger.Fields{"venue": name}).Error("failed to configure adapter")
			os.Exit(1)
		}

		venueName := name
		ad.OnMarketData(func(tick *models.MarketTick) {
			log.WithComponent("ticker").WithFields(logger.Fields{
				"venue":  venueName,
				"symbol": tick.Symbol,
				"price":  tick.Price,
			}).Debug("tick")
			if rec != nil {
				rec.Add(venueName, *tick)
			}
		})
		ad.OnOrderUpdate(func(order *models.Order) {
			log.WithComponent("orders").WithFields(logger.Fields{
				"venue":    venueName,
				"order_id": order.ID,
				"symbol":   order.Symbol,
				"state":    string(order.State),
			}).Info("order update")
		})

		if err := ad.ConnectMarketData(ctx, vs.Symbols); err != nil {
			log.WithError(err).WithFields(logger.Fields{"venue": name}).Error("failed to connect market data")
			os.Exit(1)
		}

		log.WithComponent("main").WithFields(logger.Fields{
			"venue":   name,
			"symbols": len(vs.Symbols),
			"sandbox": vs.Sandbox,
		}).Info("venue adapter connected")

		adapters = append(adapters, ad)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	for _, ad := range adapters {
		log.WithFields(logger.Fields{"venue": ad.Venue()}).Info("disconnecting adapter")
		ad.Disconnect()
	}

	if rec != nil {
		log.Info("stopping tick recorder")
		done := make(chan struct{})
		go func() {
			rec.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			log.Warn("recorder shutdown timeout exceeded")
		}
	}

	log.Info("tradedeck stopped")
}
