package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/halcyondex/halcyon/params"
	"github.com/halcyondex/halcyon/pkg/api"
	"github.com/halcyondex/halcyon/pkg/exchange"
	"github.com/halcyondex/halcyon/pkg/relay"
	"github.com/halcyondex/halcyon/pkg/storage"
	"github.com/halcyondex/halcyon/pkg/util"
	"github.com/halcyondex/halcyon/pkg/vault"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/node.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Ledger persistence ----
	var ledger *exchange.FillLedger
	if cfg.Storage.DBPath != "" {
		store, err := storage.NewLedgerStore(cfg.Storage.DBPath)
		if err != nil {
			sugar.Fatalw("ledger_store_open_failed", "path", cfg.Storage.DBPath, "err", err)
		}
		defer store.Close()

		ledger = exchange.NewFillLedger(store)
		if err := store.Restore(ledger); err != nil {
			sugar.Fatalw("ledger_restore_failed", "err", err)
		}
		sugar.Infow("ledger_restored", "path", cfg.Storage.DBPath)
	} else {
		ledger = exchange.NewFillLedger(nil)
		sugar.Info("ledger persistence disabled - in-memory only")
	}

	// ---- Settlement core ----
	assets := vault.New(cfg.FeeAsset)
	core := exchange.NewCore(cfg.Venue, ledger, assets, util.RealClock{})
	core.Logger = sugar
	gate := exchange.NewMetaTransactionGate(core)
	gate.Logger = sugar

	sugar.Infow("settlement_core_ready",
		"venue", cfg.Venue.Hex(),
		"fee_asset", cfg.FeeAsset.Hex())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API server ----
	apiServer := api.NewServer(core, gate, sugar)

	// ---- Event sinks: WebSocket stream plus optional journal ----
	sinks := exchange.MultiSink{apiServer.Hub()}
	if cfg.Storage.JournalPath != "" {
		journal, err := storage.NewEventJournal(cfg.Storage.JournalPath)
		if err != nil {
			sugar.Fatalw("event_journal_open_failed", "path", cfg.Storage.JournalPath, "err", err)
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		sugar.Infow("event_journal_enabled", "path", cfg.Storage.JournalPath)
	}
	core.Sink = sinks

	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Relay ingress (optional) ----
	if cfg.Relay.Enabled {
		r, err := relay.New(ctx, gate, relay.Config{
			ListenAddr: cfg.Relay.ListenAddr,
			Bootstrap:  cfg.Relay.Bootstrap,
			Topic:      cfg.Relay.Topic,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("relay_init_failed", "err", err)
		}
		defer r.Close()
		go r.Run(ctx)
	} else {
		sugar.Info("relay disabled - REST ingress only")
	}

	<-ctx.Done()
	sugar.Info("shutting down")
}
