package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nftmarket/internal/app"

	"github.com/spf13/cobra"

	_ "net/http/pprof" // For pprof profiling
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the marketplace daemon",
	Long:  `Start the HTTP API, the event feed and the command sequencer.`,
	RunE:  runServe,
}

var (
	listenAddr string
	devChain   bool
	pprofAddr  string
)

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override listen address")
	serveCmd.Flags().BoolVar(&devChain, "dev-chain", false, "expose mint/approve routes for the in-memory chain")
	serveCmd.Flags().StringVar(&pprofAddr, "pprof", "", "pprof listen address (e.g. localhost:6060)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.LoadConfig(configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := bootstrap.Config
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		return err
	}

	// 3. Pprof Server (for performance profiling)
	if pprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 4. Start Sequencer in its own goroutine
	seqCtx, stopSeq := context.WithCancel(context.Background())
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		bootstrap.Sequencer.Run(seqCtx)
	}()
	slog.InfoContext(ctx, "✅ Sequencer started")

	// 5. HTTP API
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           bootstrap.Handler(devChain),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()
	slog.InfoContext(ctx, "✨ Marketplace operational. Press Ctrl+C to exit.",
		slog.String("addr", cfg.Server.Addr),
		slog.Bool("dev_chain", devChain))

	// Wait for shutdown signal
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		slog.Error("HTTP server failed", slog.Any("error", runErr))
	}

	slog.Info("👋 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.Any("error", err))
	}

	// Commands in flight finish before storage closes.
	stopSeq()
	<-seqDone

	return errors.Join(runErr, bootstrap.Shutdown())
}
