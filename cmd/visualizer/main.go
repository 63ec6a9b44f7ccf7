package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"
	"github.com/rivo/tview"

	"hundred_prisoners/internal/config"
	"hundred_prisoners/internal/domain"
	"hundred_prisoners/internal/engine"
	"hundred_prisoners/internal/logging"
	sqlitestore "hundred_prisoners/internal/store/sqlite"
)

const gridColumns = 10

type runner struct {
	app    *tview.Application
	eng    *engine.Engine
	board  *board
	render func()

	mu     sync.Mutex
	delay  time.Duration
	pause  time.Duration
	cancel context.CancelFunc
	// done is closed when the most recently started loop has returned.
	done chan struct{}

	started time.Time
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.prisoners/config.toml)")
	agentsFlag := flag.Int("p", 0, "number of prisoners (default 100)")
	delayFlag := flag.Duration("delay", 0, "animation delay per opened box override")
	seedFlag := flag.Uint64("seed", 0, "random seed")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	noStore := flag.Bool("no-store", false, "do not persist the session statistics")
	logPath := flag.String("log", "", "write logs to this file; the terminal belongs to the UI")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	logger, closeLog, err := openLogger(*logPath, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		os.Exit(2)
	}
	defer closeLog()

	agents := cfg.Agents
	if *agentsFlag != 0 {
		agents = *agentsFlag
	}
	seed := *seedFlag
	if seed == 0 {
		seed = cfg.Seed
	}
	var opts []engine.Option
	if seed != 0 {
		opts = append(opts, engine.WithSeed(seed))
	}
	eng, err := engine.New(agents, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid number of prisoners: %v\n", err)
		os.Exit(2)
	}
	delay := time.Duration(cfg.Visualizer.StepDelayMS) * time.Millisecond
	if *delayFlag > 0 {
		delay = *delayFlag
	}

	app := tview.NewApplication()
	grid := tview.NewTable().SetBorders(false)
	grid.SetTitle("Boxes").SetBorder(true)

	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statsView.SetTitle("Statistics").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")

	layout := tview.NewFlex().
		AddItem(grid, 0, 3, false).
		AddItem(statsView, 40, 0, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(layout, 0, 1, false).
		AddItem(statusView, 3, 0, false)

	r := newRunner(app, eng, newBoard(agents), delay, time.Duration(cfg.Visualizer.TrialPauseMS)*time.Millisecond)
	r.render = func() {
		renderGrid(grid, r.board)
		statsView.SetText(r.board.statsText())
		statusView.SetText(fmt.Sprintf(
			"%s | delay=%s | s start, x stop, r reset, +/- speed, q quit",
			r.state(),
			r.currentDelay(),
		))
	}
	r.render()

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyF10 {
			app.Stop()
			return nil
		}
		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 'q':
			app.Stop()
		case 's':
			r.start()
		case 'x':
			r.stop()
		case 'r':
			r.stop()
			r.board.reset()
		case '+':
			r.adjustDelay(-1)
		case '-':
			r.adjustDelay(1)
		default:
			return event
		}
		r.render()
		return nil
	})

	logger.Info("visualizer started", "prisoners", agents, "delay", delay)
	if err := app.SetRoot(root, true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "visualizer failed: %v\n", err)
		os.Exit(1)
	}
	r.stop()

	if *noStore || r.board.trials == 0 {
		return
	}
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.DBPath))
	if err := persist(dbPath, r.board, int64(seed), time.Since(r.started)); err != nil {
		logger.Error("persist session failed", "db", dbPath, "err", err)
		os.Exit(1)
	}
	logger.Info("session stored", "db", dbPath, "trials", r.board.trials, "escapes", r.board.escapes)
}

func newRunner(app *tview.Application, eng *engine.Engine, b *board, delay, pause time.Duration) *runner {
	return &runner{
		app:    app,
		eng:    eng,
		board:  b,
		delay:  delay,
		pause:  pause,
		render: func() {},
	}
}

func (r *runner) state() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return "[green]running[-]"
	}
	return "[yellow]stopped[-]"
}

func (r *runner) currentDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}

// adjustDelay halves or doubles the animation delay within [5ms, 2s].
func (r *runner) adjustDelay(direction int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if direction < 0 {
		r.delay /= 2
	} else {
		r.delay *= 2
	}
	r.delay = min(max(r.delay, 5*time.Millisecond), 2*time.Second)
}

func (r *runner) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	if r.started.IsZero() {
		r.started = time.Now()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	prev := r.done
	done := make(chan struct{})
	r.done = done
	go func() {
		defer close(done)
		// The engine owns a single arena; a stopped loop may still be
		// inside a trial.
		if prev != nil {
			<-prev
		}
		r.loop(ctx)
	}()
}

// finished returns a channel closed once the latest loop has returned.
func (r *runner) finished() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// stop cancels the running loop without waiting for it: the loop may be
// blocked on a UI update that only this goroutine can process.
func (r *runner) stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *runner) loop(ctx context.Context) {
	for ctx.Err() == nil {
		r.app.QueueUpdateDraw(func() {
			r.board.newTrial()
			r.render()
		})
		_, err := r.eng.RunObserved(r.observer(ctx))
		if err != nil {
			return
		}
		out := r.eng.Outcome()
		r.app.QueueUpdateDraw(func() {
			r.board.finish(out)
			r.render()
		})
		if !sleep(ctx, r.pause) {
			return
		}
	}
}

// observer draws every opened box and then holds the search for the
// animation delay.
func (r *runner) observer(ctx context.Context) engine.StepObserver {
	return engine.ObserverFunc(func(agent, label, hidden int) error {
		r.app.QueueUpdateDraw(func() {
			r.board.step(agent, label, hidden)
			r.render()
		})
		if !sleep(ctx, r.currentDelay()) {
			return ctx.Err()
		}
		return nil
	})
}

func renderGrid(table *tview.Table, b *board) {
	table.Clear()
	for label := 1; label <= b.n; label++ {
		text, color := b.cell(label)
		row := (label - 1) / gridColumns
		col := (label - 1) % gridColumns
		table.SetCell(row, col, tview.NewTableCell(text).
			SetTextColor(tcell.GetColor(color)).
			SetExpansion(1))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func persist(dbPath string, b *board, seed int64, elapsed time.Duration) error {
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return store.CreateRun(ctx, domain.Run{
		ID:          uuid.NewString(),
		Agents:      b.n,
		Attempts:    b.trials,
		Successes:   b.escapes,
		SuccessRate: b.rate(),
		Seed:        seed,
		Source:      domain.RunSourceVisualizer,
		ElapsedMS:   elapsed.Milliseconds(),
	})
}

func openLogger(path, levelName string) (*slog.Logger, func(), error) {
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		return logging.New(os.Stderr, level), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return logging.New(f, level), func() { _ = f.Close() }, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
