// Command matbench times 4x4 matrix multiplication on one goroutine and on a
// worker pool and prints the speedup.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jzx17/gothreadpool/internal/bench"
	errs "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/pkg/worker"
)

const envPrefix = "MATBENCH"

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	workers         int
	arraySize       int
	repeat          int
	regenerateEvery int
	seed            uint64
	pollInterval    time.Duration
	lockThreads     bool
	pinCPUs         bool
	logLevel        string
	metrics         bool
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	defaults := bench.DefaultConfig()
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "matbench",
		Short: "Compare single threaded and worker pool matrix multiplication",
		Long: `matbench multiplies two arrays of random 4x4 matrices element-wise,
repeatedly, first on one goroutine and then split across a worker pool
with parallel-for, and reports both sums and the speedup.

Every flag can also be set from the environment as MATBENCH_<FLAG>, with
dashes replaced by underscores (e.g. MATBENCH_ARRAY_SIZE).`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindEnv(viper.New(), cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.workers, "workers", "w", 0, "worker count, hardware concurrency when 0")
	flags.IntVarP(&opts.arraySize, "array-size", "n", defaults.ArraySize, "matrices per operand array")
	flags.IntVarP(&opts.repeat, "repeat", "r", defaults.Repeat, "multiply-and-sum iterations")
	flags.IntVar(&opts.regenerateEvery, "regenerate-every", defaults.RegenerateEvery, "refill the right operand every n iterations, 0 disables")
	flags.Uint64Var(&opts.seed, "seed", defaults.Seed, "matrix generator seed")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 0, "sleep between WaitAll checks, 0 yields instead")
	flags.BoolVar(&opts.lockThreads, "lock-threads", false, "dedicate an OS thread to each worker")
	flags.BoolVar(&opts.pinCPUs, "pin-cpus", false, "pin worker threads to CPUs (linux)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.metrics, "metrics", false, "print pool metrics after the run")

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

// bindEnv fills every flag not set on the command line from its MATBENCH_
// environment variable, if present
func bindEnv(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			flagErr = fmt.Errorf("invalid value for %s from environment: %w", f.Name, err)
		}
	})
	return flagErr
}

func newLogger(level string, out io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(out),
		lvl,
	)
	return zap.New(core), nil
}

func run(cmd *cobra.Command, opts *options, stdout, stderr io.Writer) error {
	logger, err := newLogger(opts.logLevel, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	metrics, err := worker.NewMetrics(registry, "matbench")
	if err != nil {
		return err
	}

	failures := errs.NewCountingHandler()
	pool, err := worker.NewPool(&worker.Config{
		Workers:         opts.workers,
		LockOSThread:    opts.lockThreads,
		PinCPUs:         opts.pinCPUs,
		Logger:          logger,
		Metrics:         metrics,
		FailureHandlers: []errs.Handler{failures},
	})
	if err != nil {
		return err
	}

	cfg := bench.DefaultConfig()
	cfg.ArraySize = opts.arraySize
	cfg.Repeat = opts.repeat
	cfg.RegenerateEvery = opts.regenerateEvery
	cfg.Seed = opts.seed
	cfg.PollInterval = opts.pollInterval
	cfg.Failures = failures

	report, runErr := bench.Run(cmd.Context(), cfg, pool, logger)
	if err := pool.Close(); err != nil {
		logger.Error("closing pool", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	printReport(stdout, report)
	if opts.metrics {
		return printMetrics(stdout, registry)
	}
	return nil
}

func printReport(w io.Writer, r bench.Report) {
	fmt.Fprintf(w, "workers:          %d\n", r.Workers)
	fmt.Fprintf(w, "array size:       %d\n", r.ArraySize)
	fmt.Fprintf(w, "repeat:           %d\n", r.Repeat)
	fmt.Fprintf(w, "single sum:       %g\n", r.Single.Sum)
	fmt.Fprintf(w, "single elapsed:   %s\n", r.Single.Elapsed)
	fmt.Fprintf(w, "parallel sum:     %g\n", r.Parallel.Sum)
	fmt.Fprintf(w, "parallel elapsed: %s\n", r.Parallel.Elapsed)
	fmt.Fprintf(w, "failed tasks:     %d\n", r.FailedTasks)
	fmt.Fprintf(w, "speedup:          %.2fx\n", r.Speedup())
}

func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", mf.GetName(), m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(w, "%s %g\n", mf.GetName(), m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s_count %d\n", mf.GetName(), h.GetSampleCount())
				fmt.Fprintf(w, "%s_sum %g\n", mf.GetName(), h.GetSampleSum())
			}
		}
	}
	return nil
}
