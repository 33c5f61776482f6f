// Package bench compares a single-threaded and a pool-parallel run of the
// 4x4 matrix kernel over the same seeded data.
package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	errs "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/internal/matrix"
	"github.com/jzx17/gothreadpool/pkg/types"
	"github.com/jzx17/gothreadpool/pkg/worker"
)

// ErrTasksFailed is returned when range tasks of the parallel run failed
var ErrTasksFailed = errors.New("parallel run had failed tasks")

// Config defines a benchmark run
type Config struct {
	// ArraySize is the number of matrices in each operand array
	ArraySize int

	// Repeat is the number of multiply-and-sum iterations
	Repeat int

	// RegenerateEvery refills the right operand every n iterations so values
	// stay finite; zero disables regeneration
	RegenerateEvery int

	// Seed for the matrix generator; both runs use the same data
	Seed uint64

	// PollInterval is passed to Pool.WaitAll after each parallel iteration
	PollInterval time.Duration

	// Clock measures elapsed time (optional, defaults to real clock)
	Clock types.Clock

	// Failures is the counting handler registered with the pool's
	// Config.FailureHandlers (optional). Range tasks that fail during the
	// parallel run make Run return an error.
	Failures *errs.CountingHandler
}

// DefaultConfig returns the default benchmark configuration
func DefaultConfig() *Config {
	return &Config{
		ArraySize:       100000,
		Repeat:          10000,
		RegenerateEvery: 20,
		Seed:            1,
		Clock:           types.NewRealClock(),
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.ArraySize <= 0 {
		return fmt.Errorf("%w: array size must be positive, got %d", types.ErrInvalidConfig, c.ArraySize)
	}
	if c.Repeat <= 0 {
		return fmt.Errorf("%w: repeat must be positive, got %d", types.ErrInvalidConfig, c.Repeat)
	}
	if c.RegenerateEvery < 0 {
		return fmt.Errorf("%w: regenerate interval must not be negative, got %d", types.ErrInvalidConfig, c.RegenerateEvery)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("%w: poll interval must not be negative, got %s", types.ErrInvalidConfig, c.PollInterval)
	}
	return nil
}

// Measurement is the outcome of one run
type Measurement struct {
	// Sum is the total of every element of b over all iterations
	Sum     float64
	Elapsed time.Duration
}

// Report compares the two runs
type Report struct {
	Workers   int
	ArraySize int
	Repeat    int
	Single    Measurement
	Parallel  Measurement

	// FailedTasks and PanickedTasks count range tasks that failed during the
	// parallel run; only known when Config.Failures is set
	FailedTasks   int64
	PanickedTasks int64
}

// Speedup returns single elapsed time over parallel elapsed time
func (r Report) Speedup() float64 {
	if r.Parallel.Elapsed <= 0 {
		return 0
	}
	return float64(r.Single.Elapsed) / float64(r.Parallel.Elapsed)
}

// Run executes the single-threaded run, then the parallel run on pool
func Run(ctx context.Context, cfg *Config, pool *worker.Pool, logger *zap.Logger) (Report, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.NewRealClock()
	}

	report := Report{
		Workers:   pool.Size(),
		ArraySize: cfg.ArraySize,
		Repeat:    cfg.Repeat,
	}

	logger.Info("running single threaded", zap.Int("array_size", cfg.ArraySize), zap.Int("repeat", cfg.Repeat))
	single, err := runSingle(ctx, cfg, clock)
	if err != nil {
		return report, err
	}
	report.Single = single
	logger.Info("single threaded done", zap.Float64("sum", single.Sum), zap.Duration("elapsed", single.Elapsed))

	var failedBefore, panickedBefore int64
	if cfg.Failures != nil {
		failedBefore, panickedBefore = cfg.Failures.Failures(), cfg.Failures.Panics()
	}

	logger.Info("running multi threaded", zap.Int("workers", pool.Size()))
	parallel, err := runParallel(ctx, cfg, clock, pool)
	if err != nil {
		return report, err
	}
	report.Parallel = parallel

	if cfg.Failures != nil {
		report.FailedTasks = cfg.Failures.Failures() - failedBefore
		report.PanickedTasks = cfg.Failures.Panics() - panickedBefore
		if err := checkFailures(report); err != nil {
			return report, err
		}
	}
	logger.Info("multi threaded done", zap.Float64("sum", parallel.Sum), zap.Duration("elapsed", parallel.Elapsed))

	return report, nil
}

// checkFailures rejects a parallel run in which some range task failed, since
// sum then holds a stale partial for that range
func checkFailures(r Report) error {
	if r.FailedTasks == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d range tasks failed (%d panicked)", ErrTasksFailed, r.FailedTasks, r.PanickedTasks)
}

// regenerate reports whether b is refilled after iteration i; iteration 0
// never regenerates
func regenerate(cfg *Config, i int) bool {
	return cfg.RegenerateEvery > 0 && i > 0 && i%cfg.RegenerateEvery == 0
}

func runSingle(ctx context.Context, cfg *Config, clock types.Clock) (Measurement, error) {
	gen := matrix.NewGenerator(cfg.Seed)
	a := gen.Generate(cfg.ArraySize)
	b := gen.Generate(cfg.ArraySize)
	sums := make([]float64, cfg.Repeat)

	start := clock.Now()
	for i := 0; i < cfg.Repeat; i++ {
		if err := ctx.Err(); err != nil {
			return Measurement{}, err
		}
		matrix.MultiplyRange(a, b, 0, cfg.ArraySize)
		sums[i] = matrix.SumRange(b, 0, cfg.ArraySize)
		if regenerate(cfg, i) {
			gen.Fill(b)
		}
	}
	elapsed := clock.Since(start)

	return Measurement{Sum: total(sums), Elapsed: elapsed}, nil
}

func runParallel(ctx context.Context, cfg *Config, clock types.Clock, pool *worker.Pool) (Measurement, error) {
	gen := matrix.NewGenerator(cfg.Seed)
	a := gen.Generate(cfg.ArraySize)
	b := gen.Generate(cfg.ArraySize)
	sums := make([]float64, cfg.Repeat)

	// ranges are fixed for the whole run; each writes its partial sum to its own slot
	ranges := worker.Partition(0, cfg.ArraySize, pool.Size())
	slot := make(map[int]int, len(ranges))
	for i, r := range ranges {
		slot[r.Begin] = i
	}
	partial := make([]float64, len(ranges))

	start := clock.Now()
	for i := 0; i < cfg.Repeat; i++ {
		if err := ctx.Err(); err != nil {
			pool.WaitAll(cfg.PollInterval)
			return Measurement{}, err
		}
		err := worker.ParallelFor(pool, 0, cfg.ArraySize, func(lo, hi int) {
			matrix.MultiplyRange(a, b, lo, hi)
			partial[slot[lo]] = matrix.SumRange(b, lo, hi)
		})
		if err != nil {
			pool.WaitAll(cfg.PollInterval)
			return Measurement{}, fmt.Errorf("iteration %d: %w", i, err)
		}
		pool.WaitAll(cfg.PollInterval)

		sums[i] = total(partial)
		if regenerate(cfg, i) {
			gen.Fill(b)
		}
	}
	elapsed := clock.Since(start)

	return Measurement{Sum: total(sums), Elapsed: elapsed}, nil
}

func total(values []float64) float64 {
	var t float64
	for _, v := range values {
		t += v
	}
	return t
}
