package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"hundred_prisoners/internal/aggregate"
	"hundred_prisoners/internal/config"
	"hundred_prisoners/internal/domain"
	"hundred_prisoners/internal/engine"
	"hundred_prisoners/internal/logging"
	sqlitestore "hundred_prisoners/internal/store/sqlite"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("prisoners", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.toml (default: ~/.prisoners/config.toml)")
	agentsFlag := fs.Int("p", 0, "number of prisoners to run the experiment with (default 100)")
	attemptsFlag := fs.Int("a", 0, "number of attempts to try (default 1000)")
	seedFlag := fs.Uint64("seed", 0, "random seed; 0 picks one and logs it")
	dbPathFlag := fs.String("db", "", "sqlite database path override")
	noStore := fs.Bool("no-store", false, "do not persist the run")
	traceTrials := fs.Int("trace", 0, "persist the step trace of the first N trials")
	verbose := fs.Bool("v", false, "debug logging, including every shuffled permutation")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}

	levelName := cfg.LogLevel
	if *verbose {
		levelName = "debug"
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	logger := logging.New(os.Stderr, level)

	set := setFlags(fs)
	agents := flagOr(set, "p", *agentsFlag, cfg.Agents)
	attempts := flagOr(set, "a", *attemptsFlag, cfg.Attempts)
	seed := *seedFlag
	if seed == 0 {
		seed = cfg.Seed
	}
	if seed == 0 {
		seed = rand.Uint64() >> 1
	}
	if attempts < 1 {
		logger.Error("attempts must be at least 1", "attempts", attempts)
		return 2
	}

	e, err := engine.New(agents, engine.WithSeed(seed))
	if err != nil {
		logger.Error("invalid number of prisoners", "prisoners", agents, "err", err)
		return 2
	}
	trials := &tracingTrials{
		engine: e,
		limit:  *traceTrials,
		logger: logger,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	every := attempts / 10
	if every == 0 {
		every = 1
	}
	agg := aggregate.New(trials,
		aggregate.WithLogger(logger),
		aggregate.WithProgress(every, func(done, successes int) {
			logger.Info("prison exercise attempts", "done", done, "of", attempts, "escapes", successes)
		}),
	)

	logger.Info("running exercise, please wait", "prisoners", agents, "attempts", attempts, "seed", seed)
	stats, err := agg.RunMany(ctx, attempts)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", "err", err)
		return 1
	}
	if err != nil {
		logger.Warn("interrupted, reporting partial result", "completed", stats.Attempts)
	}

	logger.Info("number of cycles tested", "attempts", stats.Attempts)
	logger.Info("how often did prisoners escape?",
		"rate", fmt.Sprintf("%.3f%%", stats.Percent()),
		"expected", fmt.Sprintf("%.3f%%", stats.Theoretical*100),
		"elapsed", stats.Elapsed,
	)

	if *noStore || stats.Attempts == 0 {
		return 0
	}
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.DBPath))
	if err := persist(ctx, logger, dbPath, stats, int64(seed), trials.traces); err != nil {
		logger.Error("persist run failed", "db", dbPath, "err", err)
		return 1
	}
	return 0
}

func persist(ctx context.Context, logger *slog.Logger, dbPath string, stats domain.Stats, seed int64, traces [][]domain.Step) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	// The signal context may already be done; storing must still finish.
	ctx = context.WithoutCancel(ctx)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	run := domain.Run{
		ID:          uuid.NewString(),
		Agents:      stats.Agents,
		Attempts:    stats.Attempts,
		Successes:   stats.Successes,
		SuccessRate: stats.SuccessRate,
		Seed:        seed,
		Source:      domain.RunSourceCLI,
		ElapsedMS:   stats.Elapsed.Milliseconds(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return err
	}
	for trial, steps := range traces {
		if err := store.AppendSteps(ctx, run.ID, trial, steps); err != nil {
			return err
		}
	}
	logger.Info("run stored", "run", run.ID, "db", dbPath)
	return nil
}

// tracingTrials records the steps of the first limit trials.
type tracingTrials struct {
	engine *engine.Engine
	limit  int
	logger *slog.Logger
	traces [][]domain.Step
}

func (t *tracingTrials) NumberOfAgents() int {
	return t.engine.NumberOfAgents()
}

func (t *tracingTrials) Run() bool {
	if len(t.traces) >= t.limit {
		ok := t.engine.Run()
		t.logShuffle()
		return ok
	}
	rec := &engine.Recorder{}
	ok, err := t.engine.RunObserved(rec)
	if err != nil {
		panic(err)
	}
	t.logShuffle()
	t.traces = append(t.traces, rec.Steps)
	return ok
}

func (t *tracingTrials) Outcome() domain.Outcome {
	return t.engine.Outcome()
}

func (t *tracingTrials) logShuffle() {
	if t.logger.Enabled(context.Background(), slog.LevelDebug) {
		t.logger.Debug("shuffled tags", "permutation", t.engine.Permutation())
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// setFlags reports which flags were given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// flagOr returns v when the flag was given, zero included, and def otherwise.
func flagOr(set map[string]bool, name string, v, def int) int {
	if set[name] {
		return v
	}
	return def
}
