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

	"github.com/Swind/go-loopsched/core"
	obs "github.com/Swind/go-loopsched/observability/prometheus"
	"github.com/Swind/go-loopsched/observability/zaplog"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run periodic demo workers until interrupted",

		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Value:   3,
				Usage:   "Number of periodic workers",
			},
			&cli.DurationFlag{
				Name:    "period",
				Aliases: []string{"p"},
				Value:   500 * time.Millisecond,
				Usage:   "Period of each worker's task",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Value: 5 * time.Second,
				Usage: "How long a graceful shutdown may take before pending work is dropped",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Value: ":2112",
				Usage: "Listen address of the /metrics endpoint (empty disables it)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "console",
				Usage: "Log output: console, json or zap",
			},
			&cli.StringFlag{
				Name:  "cron",
				Usage: "Optional cron expression of an extra heartbeat task, e.g. \"*/5 * * * * *\"",
			},
			&cli.BoolFlag{
				Name:  "sync",
				Usage: "Post tasks in sync mode so loop barriers hold them",
			},
		},

		Action: RunAction,
	}
}

func RunAction(c *cli.Context) error {
	// 1. Get flags
	workers := c.Int("workers")
	period := c.Duration("period")

	// 2. Validate (format only)
	if workers < 1 {
		return cli.Exit("workers must be at least 1", 1)
	}
	if period <= 0 {
		return cli.Exit("period must be positive", 1)
	}

	logger, err := newLogger(c.String("log-format"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	// 3. Wire loop, scheduler and metrics
	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("", reg, obs.ExporterOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	poller, err := obs.NewSnapshotPoller(reg, time.Second)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	loop := core.NewEventLoop(core.WithLoopName("demo"), core.WithLoopLogger(logger))
	defer loop.Stop()

	cfg := core.DefaultSchedulerConfig()
	cfg.Name = "demo"
	cfg.Metrics = exporter
	cfg.Logger = logger
	if c.Bool("sync") {
		cfg.PostingMode = core.PostSync
	}
	scheduler := core.NewLoopScheduler(loop, cfg)

	poller.AddScheduler(scheduler.Name(), scheduler)
	poller.AddLoop(loop.Name(), loop)
	poller.Start(c.Context)
	defer poller.Stop()

	if addr := c.String("metrics-addr"); addr != "" {
		stop := serveMetrics(addr, reg, logger)
		defer stop()
	}

	for i := range workers {
		w, err := scheduler.NewWorker()
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
		ticks := 0
		name := w.Name()
		_, err = w.SchedulePeriodically(func(ctx context.Context) {
			ticks++
			logger.Info("tick", core.F("worker", name), core.F("count", ticks))
		}, time.Duration(i)*period/time.Duration(workers), period)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}

	if expr := c.String("cron"); expr != "" {
		if _, err := scheduler.ScheduleCron(expr, func(ctx context.Context) {
			logger.Info("cron heartbeat", core.F("expr", expr))
		}); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}

	// 4. Wait for a stop signal, then drain
	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if d := c.Duration("duration"); d > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d)
		defer cancelTimeout()
	}
	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), c.Duration("shutdown-timeout"))
	defer cancelShutdown()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown timed out, pending work dropped", core.F("error", err))
	}

	stats := scheduler.Stats()
	fmt.Printf("✓ Executed %d tasks (%d failed, %d rejected)\n", stats.Executed, stats.Failed, stats.Rejected)
	return nil
}

func newLogger(format string) (core.Logger, error) {
	switch format {
	case "console":
		return core.NewDefaultLogger(), nil
	case "json":
		return core.NewJSONLogger(os.Stderr, zerolog.InfoLevel), nil
	case "zap":
		l, err := zaplog.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func serveMetrics(addr string, reg *prom.Registry, logger core.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", core.F("error", err))
		}
	}()
	logger.Info("metrics endpoint listening", core.F("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
