package store

import (
	"errors"
	"time"

	"github.com/ksachdeva/probability/pkg/models"
)

var (
	ErrRunNotFound         = errors.New("run not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for run and sample persistence.
// Memory, SQLite and PostgreSQL all implement this interface.
type Store interface {
	// Run operations
	CreateRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	ListRuns(status string) ([]*models.Run, error)
	UpdateRun(run *models.Run) error
	DeleteRun(id string) error

	// Run state management. UpdateRunStatus validates the transition
	// against the run FSM and records it with a timestamp.
	UpdateRunStatus(id string, status models.RunStatus, reason string) error
	SetRunProgress(id string, progress int, acceptanceRate float64) error

	// ClaimNextRun atomically picks the oldest queued run and marks it
	// running. Returns (nil, nil) when the queue is empty.
	ClaimNextRun() (*models.Run, error)

	// Sample operations
	AppendSamples(runID string, samples []*models.Sample) error
	GetSamples(runID string, offset, limit int) ([]*models.Sample, error)
	CountSamples(runID string) (int, error)

	// Metrics operations (aggregated, without loading samples)
	RunMetrics() (*RunMetrics, error)

	// Lifecycle
	HealthCheck() error
	Close() error
}

// RunMetrics contains aggregated run statistics for the metrics endpoint
type RunMetrics struct {
	RunsByStatus      map[models.RunStatus]int
	ActiveRuns        int
	QueueLength       int
	TotalDraws        int
	AvgAcceptanceRate float64
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "sqlite":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "probability.db"
		}
		return NewSQLiteStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}
