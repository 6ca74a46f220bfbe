package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/auth"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/intake"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/monitoring"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/server"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and pipeline workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeServe, cfg.Queue)
		if err != nil {
			return err
		}
		defer env.Close()

		authn, err := auth.New(ctx, cfg.Auth)
		if err != nil {
			return eris.Wrap(err, "init auth")
		}
		email, err := intake.NewEmail(env.Coordinator, cfg.Webhook.Secret)
		if err != nil {
			return err
		}
		collector := monitoring.NewCollector(env.Store, env.Queue, cfg.Monitoring, cfg.Queue.Capacity)

		// Workers stop only after the HTTP server has shut down.
		workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
		defer stopWorkers()
		workersDone := make(chan error, 1)
		go func() { workersDone <- env.Queue.Run(workerCtx, env.Coordinator.Process) }()

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := server.New(cfg.Server, server.Deps{
			Jobs:          env.Store,
			Deleter:       env.Coordinator,
			Archive:       env.Archive,
			Auth:          authn,
			Manual:        intake.NewManual(env.Coordinator, cfg.Server.MaxUploadBytes),
			Email:         email,
			Collector:     collector,
			LookbackHours: cfg.Monitoring.LookbackWindowHours,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case <-ctx.Done():
		case err := <-serveErr:
			if err != nil {
				stopWorkers()
				<-workersDone
				env.abandonBuffered(context.WithoutCancel(ctx))
				return eris.Wrap(err, "server listen")
			}
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}

		zap.L().Info("draining pipeline workers")
		stopWorkers()
		err = <-workersDone
		env.abandonBuffered(shutdownCtx)
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
