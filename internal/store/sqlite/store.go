package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hundred_prisoners/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	agents INTEGER NOT NULL,
	attempts INTEGER NOT NULL,
	successes INTEGER NOT NULL,
	success_rate REAL NOT NULL,
	seed INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS trial_steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	trial INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	agent INTEGER NOT NULL,
	container INTEGER NOT NULL,
	hidden INTEGER NOT NULL,
	UNIQUE(run_id, trial, seq),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_trial_steps_run ON trial_steps(run_id, trial, seq);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Source == "" {
		run.Source = domain.RunSourceCLI
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs(
			id, agents, attempts, successes, success_rate, seed, source, elapsed_ms, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Agents, run.Attempts, run.Successes, run.SuccessRate, run.Seed,
		string(run.Source), run.ElapsedMS, run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, agents, attempts, successes, success_rate, seed, source, elapsed_ms, created_at
		FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("get run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, agents, attempts, successes, success_rate, seed, source, elapsed_ms, created_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

// AppendSteps stores the trace of one trial. Sequence numbers continue from
// whatever is already stored for that trial.
func (s *Store) AppendSteps(ctx context.Context, runID string, trial int, steps []domain.Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append steps: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var next int
	if err := tx.QueryRowContext(
		ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM trial_steps WHERE run_id = ? AND trial = ?`,
		runID, trial,
	).Scan(&next); err != nil {
		return fmt.Errorf("next step seq: %w", err)
	}

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO trial_steps(run_id, trial, seq, agent, container, hidden) VALUES(?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare append steps: %w", err)
	}
	defer stmt.Close()

	for i, step := range steps {
		if _, err := stmt.ExecContext(ctx, runID, trial, next+i, step.AgentNumber, step.ContainerLabel, step.HiddenNumber); err != nil {
			return fmt.Errorf("append step: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append steps: %w", err)
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, runID string, trial int) ([]domain.RunStep, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, trial, seq, agent, container, hidden
		FROM trial_steps WHERE run_id = ? AND trial = ? ORDER BY seq`,
		runID, trial,
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RunStep, 0)
	for rows.Next() {
		var rs domain.RunStep
		if err := rows.Scan(
			&rs.ID, &rs.RunID, &rs.Trial, &rs.Seq,
			&rs.Step.AgentNumber, &rs.Step.ContainerLabel, &rs.Step.HiddenNumber,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		result = append(result, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var r domain.Run
	var source string
	var created int64
	if err := row.Scan(
		&r.ID, &r.Agents, &r.Attempts, &r.Successes, &r.SuccessRate, &r.Seed,
		&source, &r.ElapsedMS, &created,
	); err != nil {
		return domain.Run{}, err
	}
	r.Source = domain.RunSource(source)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}
