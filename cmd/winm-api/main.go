// Package main implements the WinM API tier: the REST gateway, the command
// validator and the in-memory result store with its llm.results subscriber.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/EKaterinaTR/winm/command"
	"github.com/EKaterinaTR/winm/config"
	"github.com/EKaterinaTR/winm/event"
	"github.com/EKaterinaTR/winm/gateway"
	"github.com/EKaterinaTR/winm/graphstore"
	"github.com/EKaterinaTR/winm/llmtask"
	"github.com/EKaterinaTR/winm/metric"
	"github.com/EKaterinaTR/winm/natsclient"
	"github.com/EKaterinaTR/winm/resultstore"
)

const (
	Version = "0.1.0"
	appName = "winm-api"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "log format: json or text")
	flag.Parse()

	logger := setupLogger(*logLevel, *logFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting WinM API tier", "version", Version, "addr", cfg.HTTPAddr)

	registry := metric.NewRegistry()

	client := natsclient.NewClient(cfg.NATSURL,
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry.Metrics),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
	)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to queue: %w", err)
	}
	defer client.Close(context.Background())

	// The API tier publishes to graph.tasks and llm.tasks and consumes
	// llm.results, so it ensures all three streams exist.
	for _, stream := range []struct{ name, subject string }{
		{event.StreamGraphTasks, event.SubjectGraphTasks},
		{event.StreamLLMTasks, event.SubjectLLMTasks},
		{event.StreamLLMResults, event.SubjectLLMResults},
	} {
		if err := client.EnsureStream(ctx, stream.name, stream.subject); err != nil {
			return fmt.Errorf("ensure stream %s: %w", stream.name, err)
		}
	}

	bucket, err := client.KeyValue(ctx, cfg.GraphBucket)
	if err != nil {
		return fmt.Errorf("open graph bucket: %w", err)
	}
	store := graphstore.NewKV(bucket, registry.Metrics)

	results := resultstore.New(cfg.ResultTTL)
	subscriber := resultstore.NewSubscriber(results, registry.Metrics, logger)

	server := gateway.New(
		command.NewHandler(store, client, registry.Metrics, logger),
		store,
		llmtask.NewDispatcher(client, logger),
		results,
		registry,
		rate.NewLimiter(rate.Limit(cfg.SearchRatePerSec), cfg.SearchRateBurst),
		logger,
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Consume(gctx, event.StreamLLMResults, cfg.ResultSubDurable, subscriber.Handle)
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("WinM API tier stopped")
	return err
}
