package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/limen/internal/db"
	"github.com/BrandonDHaskell/limen/internal/grpcapi"
	"github.com/BrandonDHaskell/limen/internal/httpapi"
	"github.com/BrandonDHaskell/limen/internal/limen/service"
	"github.com/BrandonDHaskell/limen/internal/limen/store"
	"github.com/BrandonDHaskell/limen/internal/limen/store/memory"
	sqlitestore "github.com/BrandonDHaskell/limen/internal/limen/store/sqlite"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	requests, events, closeStore, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.NewRequestService(requests, events, service.Options{
		BusinessTZ:           cfg.BusinessTZ,
		RequiredApprovals:    cfg.RequiredApprovals,
		DefaultDurationHours: cfg.DefaultDurationHours,
		MaxDurationHours:     cfg.MaxDurationHours,
		RetentionDays:        cfg.RequestRetentionDays,
		Logger:               logger.With("component", "requests"),
	})

	sweeper := service.NewExpirySweeper(svc, service.SweeperConfig{
		Interval: time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
	}, logger.With("component", "sweeper"))
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
		Requests: svc,
	})

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.Store)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(cfg.GRPCAddr, logger.With("component", "grpc"))
		go func() {
			if err := grpcSrv.Start(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	return runErr
}

// openStores builds the configured backend.  The returned func releases it.
func (a *app) openStores(ctx context.Context) (store.RequestStore, store.DecisionEventStore, func(), error) {
	if a.cfg.Store == "memory" {
		a.logger.Warn("using in-memory store; requests are lost on restart")
		return memory.NewRequestStore(), memory.NewDecisionEventStore(), func() {}, nil
	}

	conn, err := db.Open(ctx, db.Config{Path: a.cfg.DBPath, Env: a.cfg.Env}, a.logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if a.cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
			_ = conn.Close()
			return nil, nil, nil, fmt.Errorf("seed dev data: %w", err)
		}
	}

	writer := db.NewWorker(conn)
	closeFn := func() {
		writer.Close()
		_ = conn.Close()
	}
	return sqlitestore.NewRequestStore(conn, writer), sqlitestore.NewDecisionEventStore(conn, writer), closeFn, nil
}
