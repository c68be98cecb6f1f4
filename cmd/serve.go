package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/api"
)

type serveFlags struct {
	requestTimeout time.Duration
	drainTimeout   time.Duration
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API for submitting and inspecting runs",
		Long: `Starts the HTTP API. Runs submitted with POST /v1/runs execute in the
background. On SIGINT/SIGTERM the server stops accepting runs, waits up to
--drain-timeout for in-flight runs, then shuts down. PORT overrides server.port.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeCommand(cmd, flags)
		},
	}
	cmd.Flags().DurationVar(&flags.requestTimeout, "request-timeout", 30*time.Second, "per-request handler timeout")
	cmd.Flags().DurationVar(&flags.drainTimeout, "drain-timeout", 10*time.Minute, "how long to wait for in-flight runs on shutdown")
	return cmd
}

func runServeCommand(cmd *cobra.Command, flags serveFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := appInstance.Logger.Named("api")
	cfg := appInstance.Config

	// Runs outlive the signal; they are canceled only when draining times out.
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	deps := api.Deps{
		Runner: appInstance.Pipeline,
		Runs:   appInstance.Runs,
		Store:  appInstance.Store,
		Layout: appInstance.Layout,
		IDs:    appInstance.IDs,
		Clock:  appInstance.Clock,
		Logger: logger,
	}
	if appInstance.Status != nil {
		deps.Progress = appInstance.Status
	}
	apiServer := api.NewServer(runCtx, api.Config{
		DefaultCategories: cfg.Pipeline.Categories,
		DefaultMaxResults: cfg.Pipeline.MaxResults,
		RequestTimeout:    flags.requestTimeout,
	}, deps)

	port := cfg.Server.Port
	if env := os.Getenv("PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil && p > 0 {
			port = p
		}
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), flags.drainTimeout)
	defer cancelDrain()
	if err := apiServer.Drain(drainCtx); err != nil {
		logger.Warn("in-flight runs did not finish, canceling", zap.Error(err))
		cancelRuns()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
