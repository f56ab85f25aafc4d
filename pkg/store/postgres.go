package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ksachdeva/probability/pkg/models"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT,
		spec JSONB NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER DEFAULT 0,
		acceptance_rate DOUBLE PRECISION DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		state_transitions JSONB
	);

	CREATE TABLE IF NOT EXISTS samples (
		run_id TEXT NOT NULL REFERENCES runs(id),
		idx INTEGER NOT NULL,
		state JSONB NOT NULL,
		target_log_prob DOUBLE PRECISION NOT NULL,
		accepted BOOLEAN NOT NULL,
		PRIMARY KEY (run_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a run
func (s *PostgresStore) CreateRun(run *models.Run) error {
	spec, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	transitions, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, name, spec, status, progress, acceptance_rate, error, created_at, started_at, completed_at, state_transitions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Name, spec, string(run.Status), run.Progress,
		run.AcceptanceRate, run.Error, run.CreatedAt, run.StartedAt,
		run.CompletedAt, transitions)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, name, spec, status, progress, acceptance_rate, error, created_at, started_at, completed_at, state_transitions
		FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// ListRuns returns runs, optionally filtered by status, oldest first
func (s *PostgresStore) ListRuns(status string) ([]*models.Run, error) {
	query := `
		SELECT id, name, spec, status, progress, acceptance_rate, error, created_at, started_at, completed_at, state_transitions
		FROM runs`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRun rewrites all mutable run fields
func (s *PostgresStore) UpdateRun(run *models.Run) error {
	spec, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	transitions, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}

	result, err := s.db.Exec(`
		UPDATE runs SET name = $1, spec = $2, status = $3, progress = $4, acceptance_rate = $5, error = $6, started_at = $7, completed_at = $8, state_transitions = $9
		WHERE id = $10`,
		run.Name, spec, string(run.Status), run.Progress,
		run.AcceptanceRate, run.Error, run.StartedAt, run.CompletedAt,
		transitions, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return checkAffected(result)
}

// DeleteRun removes a run and its samples
func (s *PostgresStore) DeleteRun(id string) error {
	if _, err := s.db.Exec(`DELETE FROM samples WHERE run_id = $1`, id); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	result, err := s.db.Exec(`DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return checkAffected(result)
}

// UpdateRunStatus transitions a run's state, validating against the FSM
func (s *PostgresStore) UpdateRunStatus(id string, status models.RunStatus, reason string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if err := applyTransition(run, status, reason); err != nil {
		return err
	}
	return s.UpdateRun(run)
}

// SetRunProgress updates the surfaced-draw count and acceptance rate
func (s *PostgresStore) SetRunProgress(id string, progress int, acceptanceRate float64) error {
	result, err := s.db.Exec(`UPDATE runs SET progress = $1, acceptance_rate = $2 WHERE id = $3`,
		progress, acceptanceRate, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return checkAffected(result)
}

// ClaimNextRun atomically picks the oldest queued run and marks it
// running, using row locking so concurrent runners never claim the same
// run twice.
func (s *PostgresStore) ClaimNextRun() (*models.Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, name, spec, status, progress, acceptance_rate, error, created_at, started_at, completed_at, state_transitions
		FROM runs WHERE status = $1 ORDER BY created_at ASC
		LIMIT 1 FOR UPDATE SKIP LOCKED`,
		string(models.RunStatusQueued))
	run, err := scanRun(row)
	if err == ErrRunNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := applyTransition(run, models.RunStatusRunning, "claimed by runner"); err != nil {
		return nil, err
	}

	transitions, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return nil, fmt.Errorf("marshal transitions: %w", err)
	}
	if _, err := tx.Exec(`UPDATE runs SET status = $1, started_at = $2, state_transitions = $3 WHERE id = $4`,
		string(run.Status), run.StartedAt, transitions, run.ID); err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return run, nil
}

// AppendSamples stores a batch of draws inside one transaction
func (s *PostgresStore) AppendSamples(runID string, samples []*models.Sample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO samples (run_id, idx, state, target_log_prob, accepted) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		state, err := json.Marshal(sample.State)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		if _, err := stmt.Exec(runID, sample.Index, state, sample.TargetLogProb, sample.Accepted); err != nil {
			return fmt.Errorf("insert sample %d: %w", sample.Index, err)
		}
	}
	return tx.Commit()
}

// GetSamples returns a page of draws for a run
func (s *PostgresStore) GetSamples(runID string, offset, limit int) ([]*models.Sample, error) {
	query := `
		SELECT run_id, idx, state, target_log_prob, accepted
		FROM samples WHERE run_id = $1 ORDER BY idx ASC OFFSET $2`
	args := []interface{}{runID, offset}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.Sample
	for rows.Next() {
		var sample models.Sample
		var state []byte
		if err := rows.Scan(&sample.RunID, &sample.Index, &state, &sample.TargetLogProb, &sample.Accepted); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if err := json.Unmarshal(state, &sample.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		samples = append(samples, &sample)
	}
	return samples, rows.Err()
}

// CountSamples returns the number of stored draws for a run
func (s *PostgresStore) CountSamples(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM samples WHERE run_id = $1`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// RunMetrics aggregates run statistics without loading samples
func (s *PostgresStore) RunMetrics() (*RunMetrics, error) {
	metrics := &RunMetrics{RunsByStatus: make(map[models.RunStatus]int)}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		metrics.RunsByStatus[models.RunStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metrics.ActiveRuns = metrics.RunsByStatus[models.RunStatusRunning]
	metrics.QueueLength = metrics.RunsByStatus[models.RunStatusQueued]

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&metrics.TotalDraws); err != nil {
		return nil, fmt.Errorf("count draws: %w", err)
	}
	var avg sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(acceptance_rate) FROM runs WHERE acceptance_rate > 0`).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average acceptance: %w", err)
	}
	if avg.Valid {
		metrics.AvgAcceptanceRate = avg.Float64
	}
	return metrics, nil
}

// HealthCheck verifies database connectivity
func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}

// Close closes the database
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
