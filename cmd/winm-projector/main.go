// Package main implements the WinM graph projector: the sole writer of graph
// state, consuming graph.tasks in delivery order.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/EKaterinaTR/winm/config"
	"github.com/EKaterinaTR/winm/event"
	"github.com/EKaterinaTR/winm/graphstore"
	"github.com/EKaterinaTR/winm/metric"
	"github.com/EKaterinaTR/winm/natsclient"
	"github.com/EKaterinaTR/winm/projector"
)

const (
	Version = "0.1.0"
	appName = "winm-projector"
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

	logger.Info("Starting WinM projector", "version", Version)

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

	if err := client.EnsureStream(ctx, event.StreamGraphTasks, event.SubjectGraphTasks); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	bucket, err := client.KeyValue(ctx, cfg.GraphBucket)
	if err != nil {
		return fmt.Errorf("open graph bucket: %w", err)
	}
	store := graphstore.NewKV(bucket, registry.Metrics)

	exporter, err := projector.NewExporter(cfg.ExportDir)
	if err != nil {
		return fmt.Errorf("init event journal: %w", err)
	}
	if exporter != nil {
		logger.Info("Event journal enabled", "dir", cfg.ExportDir)
	}

	p := projector.New(store, exporter, registry.Metrics, logger)

	err = client.Consume(ctx, event.StreamGraphTasks, cfg.ProjectorDurable, p.Handle)
	logger.Info("WinM projector stopped")
	return err
}
