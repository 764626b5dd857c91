// Package main implements the WinM task worker: it consumes llm.tasks,
// drives the language model and publishes results to llm.results.
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
	"github.com/EKaterinaTR/winm/llmtask"
	"github.com/EKaterinaTR/winm/metric"
	"github.com/EKaterinaTR/winm/natsclient"
)

const (
	Version = "0.1.0"
	appName = "winm-worker"
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
	if cfg.LLMAPIKey == "" {
		logger.Warn("WINM_LLM_API_KEY is empty, model calls will be rejected by the backend")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting WinM task worker", "version", Version, "model", cfg.LLMModel)

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

	for _, stream := range []struct{ name, subject string }{
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

	backend := llmtask.NewOpenAIBackend(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	worker := llmtask.NewWorker(backend, store, client, registry.Metrics, logger)

	err = client.Consume(ctx, event.StreamLLMTasks, cfg.WorkerDurable, worker.Handle)
	logger.Info("WinM task worker stopped")
	return err
}
