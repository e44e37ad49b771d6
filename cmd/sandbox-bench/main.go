package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-sandbox/bench"
	"github.com/wippyai/wasm-sandbox/config"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/metrics"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to a YAML config file")
		groups      = flag.StringSlice("group", nil, "Workload groups to run (context, modules, seq, par)")
		filter      = flag.String("filter", "", "Only run workloads whose id contains this string")
		iterations  = flag.IntP("iterations", "n", 0, "Iterations per workload")
		instances   = flag.Int("instances", 0, "Instances per seq/par batch")
		concurrency = flag.IntP("concurrency", "c", 0, "Workers for the par group")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
		list        = flag.Bool("list", false, "List workloads and exit")
		interactive = flag.BoolP("interactive", "i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *list {
		for _, w := range bench.Registry() {
			fmt.Println(w.ID())
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flag.CommandLine.Changed("group") {
		cfg.Bench.Groups = *groups
	}
	if flag.CommandLine.Changed("filter") {
		cfg.Bench.Filter = *filter
	}
	if *iterations > 0 {
		cfg.Bench.Iterations = *iterations
	}
	if *instances > 0 {
		cfg.Bench.Instances = *instances
	}
	if *concurrency > 0 {
		cfg.Scheduler.Concurrency = *concurrency
	}
	if *metricsAddr != "" {
		cfg.Bench.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, interactive bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Scheduler.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Scheduler.Timeout)
		defer cancel()
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	engine.SetLogger(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Bench.MetricsAddr != "" {
		srv := serveMetrics(cfg.Bench.MetricsAddr, reg, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	env, err := bench.NewEnv(ctx, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("create environment: %w", err)
	}
	defer env.Close(context.Background())

	workloads := bench.Select(cfg.Bench.Groups, cfg.Bench.Filter)
	if len(workloads) == 0 {
		return fmt.Errorf("no workloads match groups %v and filter %q", cfg.Bench.Groups, cfg.Bench.Filter)
	}

	if interactive && term.IsTerminal(int(os.Stdout.Fd())) {
		return runInteractive(ctx, env, workloads, cfg.Bench.Iterations)
	}

	var results []bench.Result
	for _, w := range workloads {
		logger.Info("running workload", zap.String("workload", w.ID()), zap.Int("iterations", cfg.Bench.Iterations))
		res := bench.Measure(ctx, env, w, cfg.Bench.Iterations, nil)
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Println(renderResults(results))
	fmt.Println(renderTotals(m.Snapshot(), env.Runtime.Allocator().Stats()))

	for _, res := range results {
		if res.Err != nil {
			return fmt.Errorf("%s: %w", res.Workload.ID(), res.Err)
		}
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
