package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pinger-sim/internal/config"
	"pinger-sim/internal/logging"
	"pinger-sim/internal/observability"
	"pinger-sim/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/pinger.yaml", "Path to YAML config")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pinger-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session := uuid.NewString()
	logs := web.NewLogBuffer(2000)
	log := logging.NewWithWriter(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}, io.MultiWriter(os.Stdout, logs)).With(logging.String("session", session))

	for _, w := range cfg.Warnings {
		log.Warn(ctx, "config value replaced", logging.String("detail", w))
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Trace.Enable,
		SampleRatio: cfg.Trace.SampleRatio,
		Session:     session,
	}, log)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewPingerCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}

	rt, err := newSimRuntime(cfg, session, log, metrics)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.logs = logs

	log.Info(ctx, "pinger-sim starting",
		logging.String("config", configPath),
		logging.String("frame_id", cfg.Pinger.FrameID),
		logging.String("topic", cfg.Pinger.TopicName),
		logging.Float("update_rate_hz", cfg.Pinger.UpdateRate),
	)
	if err := rt.Run(ctx); err != nil {
		return err
	}
	log.Info(context.Background(), "pinger-sim stopping")
	return nil
}
