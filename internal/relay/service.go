package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hundred_prisoners/internal/domain"
	"hundred_prisoners/internal/engine"
	"hundred_prisoners/internal/messaging/inproc"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session already running")
)

type Store interface {
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, runID string) (domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	AppendSteps(ctx context.Context, runID string, trial int, steps []domain.Step) error
	ListSteps(ctx context.Context, runID string, trial int) ([]domain.RunStep, error)
}

type Bus interface {
	Subscribe(sessionID string) inproc.Subscription
	Unsubscribe(sub inproc.Subscription)
	CloseSession(sessionID string)
	Subscribers(sessionID string) int
	Publish(ev domain.SessionEvent) error
	PublishWait(ctx context.Context, ev domain.SessionEvent) error
}

type Config struct {
	Agents    int
	StepDelay time.Duration
	Seed      uint64
}

func (c Config) withDefaults() Config {
	if c.Agents <= 0 {
		c.Agents = 100
	}
	if c.StepDelay < 0 {
		c.StepDelay = 0
	}
	return c
}

type Service struct {
	store  Store
	bus    Bus
	cfg    Config
	logger *slog.Logger

	wg sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	trials   uint64
}

type session struct {
	id         string
	cancel     context.CancelFunc
	running    bool
	subscribed bool
	lastRun    string
}

type SessionInfo struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
	LastRun string `json:"last_run,omitempty"`
}

func New(store Store, bus Bus, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		bus:      bus,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func (s *Service) CreateSession() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &session{id: uuid.NewString()}
	s.sessions[sess.id] = sess
	s.logger.Info("session created", "session", sess.id)
	return SessionInfo{ID: sess.id}
}

func (s *Service) Session(sessionID string) (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return SessionInfo{ID: sess.id, Running: sess.running, LastRun: sess.lastRun}, nil
}

func (s *Service) Subscribe(sessionID string) (inproc.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return inproc.Subscription{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.subscribed = true
	return s.bus.Subscribe(sessionID), nil
}

// Unsubscribe drops sub. A session left idle with no subscribers is removed.
func (s *Service) Unsubscribe(sub inproc.Subscription) {
	s.bus.Unsubscribe(sub)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sub.Session]; ok && !sess.running {
		s.reapLocked(sess)
	}
}

// StartSession runs one observed trial in the background. Every step is
// relayed to the session's subscribers followed by the step delay; ctx
// bounds the lifetime of the trial.
func (s *Service) StartSession(ctx context.Context, sessionID string) (string, error) {
	seed := s.nextSeed()
	var opts []engine.Option
	if seed != 0 {
		opts = append(opts, engine.WithSeed(seed))
	}
	e, err := engine.New(s.cfg.Agents, opts...)
	if err != nil {
		return "", err
	}

	runID := uuid.NewString()
	runCtx, err := s.claim(ctx, sessionID, runID)
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(sessionID)
		s.runTrial(runCtx, sessionID, runID, seed, e)
	}()
	return runID, nil
}

// ReplayRun streams the stored trace of a previous trial to a session.
func (s *Service) ReplayRun(ctx context.Context, sessionID, runID string, trial int) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	steps, err := s.store.ListSteps(ctx, runID, trial)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("run %s trial %d: %w", runID, trial, domain.ErrNotFound)
	}
	runCtx, err := s.claim(ctx, sessionID, runID)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(sessionID)

		out := domain.Outcome{TotalAgents: run.Agents}
		relay := s.observer(runCtx, sessionID)
		for _, rs := range steps {
			if err := relay.OnStep(rs.Step.AgentNumber, rs.Step.ContainerLabel, rs.Step.HiddenNumber); err != nil {
				s.finish(sessionID, runID, nil, err)
				return
			}
			out.Inspections++
			if rs.Step.HiddenNumber == rs.Step.AgentNumber {
				out.Freed++
			}
		}
		out.AllEscaped = out.Freed == out.TotalAgents
		if !out.AllEscaped {
			out.FailedAgent = steps[len(steps)-1].Step.AgentNumber
		}
		s.finish(sessionID, runID, &out, nil)
	}()
	return nil
}

// StopTrial cancels the running trial of a session and keeps the session
// open for another start.
func (s *Service) StopTrial(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	var cancel context.CancelFunc
	if ok {
		cancel = sess.cancel
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if cancel != nil {
		cancel()
	}
	s.publishStopped(sessionID)
	s.logger.Info("trial stop requested", "session", sessionID)
	return nil
}

// StopSession cancels any running trial and removes the session.
func (s *Service) StopSession(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	s.publishStopped(sessionID)
	s.bus.CloseSession(sessionID)
	s.logger.Info("session stopped", "session", sessionID)
	return nil
}

// publishStopped is best effort: a subscriber with a full queue misses it
// and learns about the stop from its closed subscription instead.
func (s *Service) publishStopped(sessionID string) {
	err := s.bus.Publish(domain.SessionEvent{Kind: domain.EventKindStopped, Session: sessionID})
	if err != nil && !errors.Is(err, inproc.ErrSessionNotRegistered) {
		s.logger.Debug("stopped event not delivered", "session", sessionID, "err", err)
	}
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	return s.store.ListRuns(ctx, limit)
}

func (s *Service) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	return s.store.GetRun(ctx, runID)
}

func (s *Service) ListSteps(ctx context.Context, runID string, trial int) ([]domain.RunStep, error) {
	return s.store.ListSteps(ctx, runID, trial)
}

func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) claim(ctx context.Context, sessionID, runID string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if sess.running {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	sess.running = true
	sess.cancel = cancel
	sess.lastRun = runID
	return runCtx, nil
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.running = false
	sess.cancel = nil
	s.reapLocked(sess)
}

// reapLocked removes a session whose subscribers have all gone away. Sessions
// that were never subscribed stay until stopped so a client can still attach.
func (s *Service) reapLocked(sess *session) {
	if !sess.subscribed || s.bus.Subscribers(sess.id) > 0 {
		return
	}
	delete(s.sessions, sess.id)
	s.bus.CloseSession(sess.id)
	s.logger.Debug("idle session removed", "session", sess.id)
}

// nextSeed derives a distinct seed for every trial from the configured base
// seed, or returns 0 when trials should be randomly seeded.
func (s *Service) nextSeed() uint64 {
	if s.cfg.Seed == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trials++
	return s.cfg.Seed + s.trials
}

func (s *Service) runTrial(ctx context.Context, sessionID, runID string, seed uint64, e *engine.Engine) {
	start := time.Now()
	rec := &engine.Recorder{}
	escaped, err := e.RunObserved(engine.Chain(rec, s.observer(ctx, sessionID)))
	out := e.Outcome()

	// Stopped or failed trials are not persisted.
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err == nil {
		successes := 0
		if escaped {
			successes = 1
		}
		run := domain.Run{
			ID:          runID,
			Agents:      e.NumberOfAgents(),
			Attempts:    1,
			Successes:   successes,
			SuccessRate: float64(successes),
			Seed:        int64(seed),
			Source:      domain.RunSourceRelay,
			ElapsedMS:   time.Since(start).Milliseconds(),
		}
		if perr := s.store.CreateRun(persistCtx, run); perr != nil {
			s.logger.Error("persist run failed", "session", sessionID, "run", runID, "err", perr)
		} else if perr := s.store.AppendSteps(persistCtx, runID, 0, rec.Steps); perr != nil {
			s.logger.Error("persist steps failed", "session", sessionID, "run", runID, "err", perr)
		}
	}
	s.finish(sessionID, runID, &out, err)
}

func (s *Service) finish(sessionID, runID string, out *domain.Outcome, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Info("trial stopped", "session", sessionID, "run", runID)
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err != nil {
		s.logger.Error("trial failed", "session", sessionID, "run", runID, "err", err)
		_ = s.bus.PublishWait(ctx, domain.SessionEvent{Kind: domain.EventKindError, Session: sessionID, Error: err.Error()})
		return
	}
	s.logger.Info("trial finished", "session", sessionID, "run", runID, "escaped", out.AllEscaped, "freed", out.Freed, "inspections", out.Inspections)
	_ = s.bus.PublishWait(ctx, domain.SessionEvent{Kind: domain.EventKindResult, Session: sessionID, Outcome: out})
}

// observer relays each step to the bus and then waits out the step delay.
// Nobody listening is not an error.
func (s *Service) observer(ctx context.Context, sessionID string) engine.StepObserver {
	return engine.ObserverFunc(func(agentNumber, containerLabel, hiddenNumber int) error {
		ev := domain.SessionEvent{
			Kind:    domain.EventKindStep,
			Session: sessionID,
			Step: &domain.Step{
				AgentNumber:    agentNumber,
				ContainerLabel: containerLabel,
				HiddenNumber:   hiddenNumber,
			},
		}
		if err := s.bus.PublishWait(ctx, ev); err != nil && !errors.Is(err, inproc.ErrSessionNotRegistered) {
			return err
		}
		if s.cfg.StepDelay <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(s.cfg.StepDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
