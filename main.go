package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"gridlock/gameserver/internal/config"
	"gridlock/gameserver/internal/engine"
	"gridlock/gameserver/internal/httpapi"
	"gridlock/gameserver/internal/journal"
	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/roster"
	"gridlock/gameserver/internal/tick"
)

func main() {
	addrFlag := flag.String("addr", "", "listen address, overrides GAMESERVER_ADDR")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Address = *addrFlag
	}
	// A bare port may also be passed as the first positional argument.
	if port := flag.Arg(0); port != "" {
		cfg.Address = ":" + strings.TrimPrefix(port, ":")
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging setup error:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//1.- Open the optional roster index before any connection can land.
	var index *roster.SQLiteIndex
	if cfg.RosterDBPath != "" {
		index, err = roster.OpenSQLite(cfg.RosterDBPath)
		if err != nil {
			logger.Fatal("failed to open roster index", logging.Error(err))
		}
		defer index.Close()
	}
	store := roster.NewStore(roster.WithIndex(index))

	//2.- Start the journal and its retention sweeper when a directory is set.
	var journalSink engine.Journal
	if cfg.JournalDir != "" {
		writer, manifest, err := journal.NewWriter(cfg.JournalDir, uuid.NewString(), nil)
		if err != nil {
			logger.Fatal("failed to open journal", logging.Error(err))
		}
		defer writer.Close()
		journalSink = writer
		logger.Info("journal enabled",
			logging.String("directory", writer.Directory()),
			logging.String("events", manifest.EventsPath))
		cleaner := journal.NewCleaner(cfg.JournalDir, journal.RetentionPolicy{MaxAge: cfg.JournalRetention}, logger)
		go cleaner.Run(ctx, time.Hour)
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		logger.Fatal("failed to configure auth", logging.Error(err))
	}

	server := NewGameServer(cfg, logger, store, journalSink, verifier)

	//3.- Drive the engine from the one fixed-rate loop.
	monitor := tick.NewMonitor()
	loop := tick.NewLoop(cfg.Tuning.TickRateHz, server.Step, monitor)
	loop.Start(ctx)
	defer loop.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWebSocket)
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   server,
		Stats:       server.Engine(),
		TickMetrics: monitor,
	})
	handlers.Register(mux)

	httpServer := &http.Server{Addr: cfg.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("game server listening",
		logging.String("address", cfg.Address),
		logging.Int("tick_rate_hz", cfg.Tuning.TickRateHz))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		server.SetStartupError(err)
		logger.Fatal("server terminated", logging.Error(err))
	}
	logger.Info("game server stopped")
}
