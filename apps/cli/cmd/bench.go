package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitwire/packages/bench"
	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/core/descriptor"
	"github.com/abdul-hamid-achik/hitwire/packages/observability"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

var benchCmd = &cobra.Command{
	Use:   "bench <request-file|URL>",
	Short: "Send one request repeatedly and report latency percentiles",
	Long: `Send one request many times through the raw socket transport (or the
net/http one with --native) and summarize latency percentiles, throughput
and the status code distribution.

Examples:
  # 500 requests, 20 at a time
  hitwire bench https://example.com --count 500 --concurrency 20

  # Fixed rate for one minute
  hitwire bench api.yaml --request login --duration 1m --rate 50

  # With thresholds for CI/CD
  hitwire bench api.yaml -n 1000 --threshold "p95<200ms,errors<1%"

  # Expose prometheus metrics while running
  hitwire bench api.yaml --duration 5m --metrics-port 9090`,
	Args: cobra.ExactArgs(1),
	RunE: benchCommand,
}

var (
	benchFlags           requestFlags
	benchRequestFlag     string
	benchCountFlag       int
	benchDurationFlag    string
	benchRateFlag        float64
	benchConcurrencyFlag int
	benchThresholdFlag   string
	benchMetricsPortFlag int
	benchMetricsFileFlag string
	benchOutputFlag      string
)

func init() {
	addRequestFlags(benchCmd.Flags(), &benchFlags)

	benchCmd.Flags().StringVar(&benchRequestFlag, "request", "", "Name of the descriptor request to send (default: the first one)")
	benchCmd.Flags().IntVarP(&benchCountFlag, "count", "n", getEnvInt("HITWIRE_BENCH_COUNT", 100), "Number of requests, 0 for no limit (env: HITWIRE_BENCH_COUNT)")
	benchCmd.Flags().StringVar(&benchDurationFlag, "duration", getEnvString("HITWIRE_BENCH_DURATION", ""), "Stop after this long (e.g. 30s, 5m) (env: HITWIRE_BENCH_DURATION)")
	benchCmd.Flags().Float64VarP(&benchRateFlag, "rate", "r", 0, "Target requests per second, 0 for unlimited")
	benchCmd.Flags().IntVarP(&benchConcurrencyFlag, "concurrency", "c", getEnvInt("HITWIRE_BENCH_CONCURRENCY", 10), "Maximum requests in flight (env: HITWIRE_BENCH_CONCURRENCY)")
	benchCmd.Flags().StringVar(&benchThresholdFlag, "threshold", "", "Pass/fail thresholds (e.g., \"p95<200ms,errors<0.1%\")")
	benchCmd.Flags().IntVar(&benchMetricsPortFlag, "metrics-port", getEnvInt("HITWIRE_METRICS_PORT", 0), "Serve prometheus metrics on this port while running, 0 disables (env: HITWIRE_METRICS_PORT)")
	benchCmd.Flags().StringVar(&benchMetricsFileFlag, "metrics-file", getEnvString("HITWIRE_METRICS_FILE", ""), "Write prometheus metrics to this textfile at the end (env: HITWIRE_METRICS_FILE)")
	benchCmd.Flags().StringVarP(&benchOutputFlag, "output", "o", "console", "Output format: console, json")
}

// benchConfig builds the run settings from the flags.
func benchConfig() (*bench.Config, error) {
	cfg := bench.DefaultConfig()
	cfg.Count = benchCountFlag
	cfg.Rate = benchRateFlag
	cfg.Concurrency = benchConcurrencyFlag
	if benchDurationFlag != "" {
		d, err := time.ParseDuration(benchDurationFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %w", err)
		}
		cfg.Duration = d
	}
	if benchThresholdFlag != "" {
		t, err := bench.ParseThresholds(benchThresholdFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid thresholds: %w", err)
		}
		cfg.Thresholds = t
	}
	return cfg, cfg.Validate()
}

// pickRequest returns the descriptor named name, or the first one.
func pickRequest(file *descriptor.File, name string) (*descriptor.Descriptor, error) {
	if name == "" {
		return file.Requests[0], nil
	}
	var names []string
	for _, d := range file.Requests {
		if d.Name == name {
			return d, nil
		}
		names = append(names, d.Name)
	}
	return nil, fmt.Errorf("request %q not found (have %s)", name, strings.Join(names, ", "))
}

func benchCommand(cmd *cobra.Command, args []string) error {
	target := args[0]
	log := logger(cmd)

	cfg, err := benchConfig()
	if err != nil {
		return exitWith(ExitUsageError, err)
	}
	opts, err := benchFlags.options(log)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}

	file, err := loadTarget(target)
	if err != nil {
		return exitWith(ExitParseError, err)
	}
	d, err := pickRequest(file, benchRequestFlag)
	if err != nil {
		return exitWith(ExitUsageError, err)
	}
	r, err := benchFlags.resolver(file, log)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}
	req, err := d.Build(r, file.Dir())
	if err != nil {
		return exitWith(ExitConfigError, err)
	}
	if err := benchFlags.apply(req); err != nil {
		return exitWith(ExitConfigError, err)
	}

	metrics := observability.NewMetrics()
	metrics.SetVersion(version)
	if benchMetricsPortFlag > 0 {
		stopServer, err := serveMetrics(metrics, benchMetricsPortFlag)
		if err != nil {
			return exitWith(ExitConfigError, err)
		}
		defer stopServer()
		log.Info().Int("port", benchMetricsPortFlag).Msg("serving prometheus metrics on /metrics")
	}

	reporter := bench.NewReporter(
		bench.WithWriter(cmd.OutOrStdout()),
		bench.WithNoColor(noColorFlag),
	)
	jsonOutput := strings.EqualFold(benchOutputFlag, "json")
	if !jsonOutput {
		reporter.Header(version, req.URL, cfg)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := bench.NewRunner(cfg, benchFactory(opts),
		bench.WithPrometheus(metrics),
		bench.WithLogger(*log),
	)
	summary, err := runner.Run(ctx, req)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}

	if benchMetricsFileFlag != "" {
		if err := metrics.WriteTextfile(benchMetricsFileFlag); err != nil {
			log.Warn().Err(err).Str("path", benchMetricsFileFlag).Msg("failed to write metrics")
		}
	}

	var results []bench.ThresholdResult
	if cfg.Thresholds.HasThresholds() {
		results = summary.EvaluateThresholds(cfg.Thresholds)
	}
	if jsonOutput {
		if err := reporter.JSONSummary(summary, results); err != nil {
			return exitWith(ExitConfigError, err)
		}
	} else {
		reporter.Summary(summary, results)
	}

	if !bench.Passed(results) {
		return exitWith(ExitCheckFailure, nil)
	}
	return nil
}

// benchFactory creates the transport of each bench request with opts.
func benchFactory(opts *config.Options) bench.Factory {
	return func(req *transport.Request, l transport.Listener) transport.Transport {
		return newTransport(req, "", opts, l)
	}
}

// serveMetrics serves the prometheus registry on port until the returned
// stop function is called.
func serveMetrics(m *observability.Metrics, port int) (func(), error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on metrics port: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
