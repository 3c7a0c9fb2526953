package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/chore-rpg-backend/internal/auth"
	"github.com/DoyleJ11/chore-rpg-backend/internal/config"
	"github.com/DoyleJ11/chore-rpg-backend/internal/httpapi"
	"github.com/DoyleJ11/chore-rpg-backend/internal/hub"
	"github.com/DoyleJ11/chore-rpg-backend/internal/ledger"
	"github.com/DoyleJ11/chore-rpg-backend/internal/logging"
	"github.com/DoyleJ11/chore-rpg-backend/internal/room"
	"github.com/DoyleJ11/chore-rpg-backend/internal/storage"
	"github.com/DoyleJ11/chore-rpg-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, storage.Close(db)) }()
	repo := storage.NewRepository(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The ledger outlives the signal so queued damage still drains on shutdown.
	writer := ledger.NewWriter(context.Background(), repo, ledger.Options{
		QueueSize:     cfg.Ledger.QueueSize,
		MaxAttempts:   cfg.Ledger.MaxAttempts,
		RetryInterval: cfg.Ledger.RetryInterval,
		WriteTimeout:  cfg.Ledger.WriteTimeout,
	}, log)
	defer writer.Close()

	h := hub.NewHub(context.Background(), repo, room.Deps{
		Stats:  repo,
		Ledger: writer,
		Log:    log,
	})
	defer h.Shutdown()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if verifier == nil {
		log.Warn("JWT_SECRET unset, accepting unauthenticated connections")
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Rooms:         h,
			Contributions: repo,
			Verifier:      verifier,
			WS: ws.Options{
				Verifier:       verifier,
				OriginPatterns: cfg.AllowedOrigins,
				PingInterval:   cfg.Websocket.PingInterval,
				PingTimeout:    cfg.Websocket.PingTimeout,
				WriteTimeout:   cfg.Websocket.WriteTimeout,
				OutboxSize:     cfg.Websocket.OutboxSize,
				Log:            log.Named("ws"),
			},
			Log: log.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
