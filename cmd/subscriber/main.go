// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/replayflow/broker"
	"github.com/absmach/replayflow/broker/memory"
	"github.com/absmach/replayflow/config"
	"github.com/absmach/replayflow/health"
	"github.com/absmach/replayflow/otel"
	"github.com/absmach/replayflow/subscriber"
)

const usage = `Usage: subscriber [flags] <broker-address> <message-vpn> <username> <password> <queue>

Consumes a durable queue with replay, acknowledging each delivered message,
and exits once the configured threshold of messages has been received.

Flags:
`

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	demoPublish := flag.Bool("demo-publish", true, "Publish demo messages to the queue")
	demoReplay := flag.Duration("demo-replay", 0, "Trigger a broker replay after this delay (0 disables)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 5 {
		flag.Usage()
		os.Exit(1)
	}
	host, vpn, username, password, queueName := flag.Arg(0), flag.Arg(1), flag.Arg(2), flag.Arg(3), flag.Arg(4)

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.Broker = config.BrokerConfig{Host: host, VPN: vpn, Username: username, Password: password}
	cfg.Queue.Name = queueName

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting replay subscriber", "version", "0.1.0")
	slog.Info("Configuration loaded",
		"broker", cfg.Broker.Host,
		"vpn", cfg.Broker.VPN,
		"queue", cfg.Queue.Name,
		"replay_mode", cfg.Replay.Mode,
		"threshold", cfg.Subscriber.Threshold,
		"storage", cfg.Storage.Type,
		"health_enabled", cfg.Health.Enabled,
		"log_level", cfg.Log.Level)

	var store memory.LogStore
	switch cfg.Storage.Type {
	case "", "memory":
		store = memory.NewMemoryStore()
		slog.Info("Using in-memory replay log")
	case "badger":
		badgerStore, err := memory.OpenBadgerStore(cfg.Storage.Dir, cfg.Storage.Compress)
		if err != nil {
			slog.Error("Failed to initialize BadgerDB replay log", "error", err)
			os.Exit(1)
		}
		store = badgerStore
		slog.Info("Using BadgerDB persistent replay log", "dir", cfg.Storage.Dir, "compress", cfg.Storage.Compress)
	default:
		slog.Error("Unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}

	instanceID := uuid.NewString()

	var otelShutdown func(context.Context) error
	var metrics *otel.Metrics
	if cfg.Otel.Enabled {
		shutdown, err := otel.InitProvider(cfg.Otel, instanceID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Otel.Endpoint)

		m, err := otel.NewMetrics()
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		metrics = m
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	bkr := memory.NewBroker(memory.Config{
		DeliveryRate: float64(cfg.Subscriber.Threshold) * 10,
		Store:        store,
		Logger:       logger,
	})
	defer bkr.Close()

	spec, err := cfg.ReplaySpec()
	if err != nil {
		slog.Error("Invalid replay configuration", "error", err)
		os.Exit(1)
	}

	opts := subscriber.NewOptions().
		SetBroker(cfg.Broker.Host, cfg.Broker.VPN, cfg.Broker.Username, cfg.Broker.Password).
		SetQueue(cfg.Queue.Name).
		SetReplay(spec).
		SetThreshold(cfg.Subscriber.Threshold).
		SetTickInterval(cfg.Subscriber.TickInterval).
		SetProvision(cfg.Queue.Provision).
		SetLogger(logger).
		SetMetrics(metrics)
	opts.ChannelSize = cfg.Subscriber.ChannelSize
	opts.ProvisionQuotaMB = cfg.Queue.QuotaMB
	opts.ProvisionPermission = cfg.Queue.Permission

	sub, err := subscriber.New(bkr, opts)
	if err != nil {
		slog.Error("Failed to create subscriber", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	if cfg.Health.Enabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Health.Addr,
			ShutdownTimeout: cfg.Health.ShutdownTimeout,
		}, sub, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				slog.Error("Health check server error", "error", err)
			}
		}()
	}

	if *demoPublish {
		wg.Add(1)
		go func() {
			defer wg.Done()
			publishDemo(ctx, bkr, cfg.Queue.Name)
		}()
	}

	if *demoReplay > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
			case <-time.After(*demoReplay):
				if err := bkr.TriggerReplay(cfg.Queue.Name); err != nil {
					slog.Warn("Failed to trigger replay", "error", err)
				}
			}
		}()
	}

	runErr := sub.Run(ctx)
	cancel()
	wg.Wait()

	if otelShutdown != nil {
		otelCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}

	switch {
	case runErr == nil:
		slog.Info("Replay subscriber finished", "delivered", sub.Delivered())
	case errors.Is(runErr, context.Canceled):
		slog.Info("Replay subscriber interrupted", "delivered", sub.Delivered())
	default:
		slog.Error("Replay subscriber failed", "error", runErr)
		os.Exit(1)
	}
}

// publishDemo feeds the queue so the subscriber has something to consume.
// Publishing starts once the queue has been provisioned.
func publishDemo(ctx context.Context, bkr *memory.Broker, queueName string) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			payload := fmt.Appendf(nil, "Sample message %d", n)
			if _, err := bkr.Publish(queueName, payload); err != nil {
				if errors.Is(err, broker.ErrQueueNotFound) {
					n--
					continue
				}
				slog.Warn("Demo publish failed", "error", err)
			}
		}
	}
}
