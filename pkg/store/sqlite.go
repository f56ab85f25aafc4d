package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ksachdeva/probability/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL for concurrent readers, busy timeout for the single writer.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writes to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT,
		spec TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER DEFAULT 0,
		acceptance_rate REAL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		state_transitions TEXT
	);

	CREATE TABLE IF NOT EXISTS samples (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		state TEXT NOT NULL,
		target_log_prob REAL NOT NULL,
		accepted BOOLEAN NOT NULL,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a run
func (s *SQLiteStore) CreateRun(run *models.Run) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, string(spec), string(run.Status), run.Progress,
		run.AcceptanceRate, run.Error, run.CreatedAt, run.StartedAt,
		run.CompletedAt, string(transitions))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, name, spec, status, progress, acceptance_rate, error, created_at, started_at, completed_at, state_transitions
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns runs, optionally filtered by status, oldest first
func (s *SQLiteStore) ListRuns(status string) ([]*models.Run, error) {
	query := `
		SELECT id, name, spec, status, progress, acceptance_rate, error, created_at, started_at, completed_at, state_transitions
		FROM runs`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
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
func (s *SQLiteStore) UpdateRun(run *models.Run) error {
	spec, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	transitions, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}

	result, err := s.db.Exec(`
		UPDATE runs SET name = ?, spec = ?, status = ?, progress = ?, acceptance_rate = ?, error = ?, started_at = ?, completed_at = ?, state_transitions = ?
		WHERE id = ?`,
		run.Name, string(spec), string(run.Status), run.Progress,
		run.AcceptanceRate, run.Error, run.StartedAt, run.CompletedAt,
		string(transitions), run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return checkAffected(result)
}

// DeleteRun removes a run and its samples
func (s *SQLiteStore) DeleteRun(id string) error {
	if _, err := s.db.Exec(`DELETE FROM samples WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	result, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return checkAffected(result)
}

// UpdateRunStatus transitions a run's state, validating against the FSM
func (s *SQLiteStore) UpdateRunStatus(id string, status models.RunStatus, reason string) error {
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
func (s *SQLiteStore) SetRunProgress(id string, progress int, acceptanceRate float64) error {
	result, err := s.db.Exec(`UPDATE runs SET progress = ?, acceptance_rate = ? WHERE id = ?`,
		progress, acceptanceRate, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return checkAffected(result)
}

// ClaimNextRun picks the oldest queued run and marks it running
func (s *SQLiteStore) ClaimNextRun() (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, name, spec, status, progress, acceptance_rate, error, created_at, started_at, completed_at, state_transitions
		FROM runs WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
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
	if err := s.UpdateRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

// AppendSamples stores a batch of draws inside one transaction
func (s *SQLiteStore) AppendSamples(runID string, samples []*models.Sample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO samples (run_id, idx, state, target_log_prob, accepted) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		state, err := json.Marshal(sample.State)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		if _, err := stmt.Exec(runID, sample.Index, string(state), sample.TargetLogProb, sample.Accepted); err != nil {
			return fmt.Errorf("insert sample %d: %w", sample.Index, err)
		}
	}
	return tx.Commit()
}

// GetSamples returns a page of draws for a run
func (s *SQLiteStore) GetSamples(runID string, offset, limit int) ([]*models.Sample, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`
		SELECT run_id, idx, state, target_log_prob, accepted
		FROM samples WHERE run_id = ? ORDER BY idx ASC LIMIT ? OFFSET ?`,
		runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.Sample
	for rows.Next() {
		var sample models.Sample
		var state string
		if err := rows.Scan(&sample.RunID, &sample.Index, &state, &sample.TargetLogProb, &sample.Accepted); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &sample.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		samples = append(samples, &sample)
	}
	return samples, rows.Err()
}

// CountSamples returns the number of stored draws for a run
func (s *SQLiteStore) CountSamples(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM samples WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// RunMetrics aggregates run statistics without loading samples
func (s *SQLiteStore) RunMetrics() (*RunMetrics, error) {
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
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var spec, transitions string
	var status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Name, &spec, &status, &run.Progress,
		&run.AcceptanceRate, &run.Error, &run.CreatedAt, &startedAt,
		&completedAt, &transitions)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = models.RunStatus(status)
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(spec), &run.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	if transitions != "" && transitions != "null" {
		if err := json.Unmarshal([]byte(transitions), &run.StateTransitions); err != nil {
			return nil, fmt.Errorf("unmarshal transitions: %w", err)
		}
	}
	return &run, nil
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}
