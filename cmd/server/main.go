package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/calloway-trading/strikestream/internal/broker"
	"github.com/calloway-trading/strikestream/internal/config"
	"github.com/calloway-trading/strikestream/internal/orders"
	"github.com/calloway-trading/strikestream/internal/session"
	"github.com/calloway-trading/strikestream/internal/storage"
	"github.com/calloway-trading/strikestream/internal/ws"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Closing storage")
		}
	}()

	api := broker.NewAPI(cfg.Broker.BaseURL, cfg.Broker.Insecure,
		broker.WithRateLimits(broker.RateLimits{
			MarketData: cfg.Broker.MarketDataRPS,
			Trading:    cfg.Broker.TradingRPS,
		}),
		broker.WithLogger(log.New(logger.Writer(), "broker: ", 0)))
	client := broker.NewCircuitBreakerClient(api)

	coord := orders.NewCoordinator(client, store, logger)
	sup := session.NewSupervisor(client, store, coord, cfg.Intervals(), logger)
	server := ws.NewServer(ws.Config{Port: cfg.Server.Port}, sup, coord, store, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		return server.Start()
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	// Venue session keep-alive.
	group.Go(func() error {
		keepCfg := broker.DefaultKeepAliveConfig
		keepCfg.Interval = cfg.Broker.TickleInterval.Std()
		broker.KeepAlive(gctx, client, keepCfg, log.New(logger.Writer(), "", 0))
		return nil
	})

	// Order-gate countdown: consume one tick per second from today's timers.
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Streaming.OrderGateInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := store.DecrementTimers(gctx, time.Now().UTC()); err != nil {
					logger.WithError(err).Warn("Decrementing timers")
				}
			}
		}
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("Server exited")
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
