package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/params"
	"github.com/uhyunpark/papertrade/pkg/api"
	"github.com/uhyunpark/papertrade/pkg/app/exchange"
	"github.com/uhyunpark/papertrade/pkg/events"
	"github.com/uhyunpark/papertrade/pkg/metrics"
	"github.com/uhyunpark/papertrade/pkg/quote"
	"github.com/uhyunpark/papertrade/pkg/storage"
	"github.com/uhyunpark/papertrade/pkg/util"
)

type flags struct {
	envPath  string
	addr     string
	memory   bool
	simulate bool
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:          "papertrade",
		Short:        "Paper-trading limit order exchange with synthetic liquidity",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, cmd.Flags().Changed("simulate"))
		},
	}
	root.Flags().StringVar(&f.envPath, "env", "", "path to a .env file (default: ./.env if present)")
	root.Flags().StringVar(&f.addr, "addr", "", "listen address, overrides API_ADDR")
	root.Flags().BoolVar(&f.memory, "memory", false, "keep state in memory instead of pebble")
	root.Flags().BoolVar(&f.simulate, "simulate", false, "run the liquidity simulator, overrides SIMULATION_ENABLED")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags, simulateSet bool) error {
	cfg := params.LoadFromEnv(f.envPath)
	if f.addr != "" {
		cfg.API.Addr = f.addr
	}
	if simulateSet {
		cfg.Simulation.Enabled = f.simulate
	}

	logger, err := util.NewLoggerWithFile(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		log.Printf("logger: %v", err)
		return err
	}
	defer logger.Sync()

	// ---- Storage ----
	var store exchange.Store
	if f.memory {
		store = storage.NewInMemoryStore()
		logger.Warn("storage_in_memory", zap.String("note", "state is lost on exit"))
	} else {
		db, err := storage.NewPebbleStore(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("open store %s: %w", cfg.Storage.DBPath, err)
		}
		defer db.Close()
		store = db
		logger.Info("storage_opened", zap.String("path", cfg.Storage.DBPath))
	}

	// ---- Event sinks ----
	m := metrics.New()
	hub := api.NewHub(logger.Named("ws"))
	sinks := events.Multi{m, hub}

	if len(cfg.Events.KafkaBrokers) > 0 {
		k := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger.Named("kafka"))
		defer k.Close()
		sinks = append(sinks, k)
		logger.Info("kafka_sink_enabled", zap.Strings("brokers", cfg.Events.KafkaBrokers), zap.String("topic", cfg.Events.KafkaTopic))
	}
	if cfg.Events.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Events.JournalPath), 0755); err != nil {
			return err
		}
		j, err := events.NewJournal(cfg.Events.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		sinks = append(sinks, j)
		logger.Info("journal_enabled", zap.String("path", cfg.Events.JournalPath))
	}

	// ---- Exchange ----
	app := exchange.NewApp(store, exchange.Config{StartingBalance: cfg.Accounts.StartingBalance},
		sinks, util.RealClock{}, logger.Named("exchange"))

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	// ---- Liquidity simulator (optional) ----
	if cfg.Simulation.Enabled {
		yahoo := quote.NewYahooSource(cfg.Quotes.URL, 5*time.Second)
		sim := exchange.NewSimulator(app, quote.NewCached(yahoo, 256, cfg.Quotes.TTL), exchange.SimulatorConfig{
			Interval:  cfg.Simulation.Interval,
			Symbols:   cfg.Simulation.Symbols,
			MinSpread: cfg.Simulation.MinSpread,
			MaxSpread: cfg.Simulation.MaxSpread,
			MinQty:    cfg.Simulation.MinQty,
			MaxQty:    cfg.Simulation.MaxQty,
		}, logger.Named("simulator"))
		cancelSim := sim.Start(ctx)
		defer cancelSim()
	} else {
		logger.Info("simulator_disabled")
	}

	// ---- API Server ----
	srv := api.NewServer(app, hub, m, cfg.API, logger.Named("api"))
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(cfg.API.Addr) }()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("api_server_failed", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
