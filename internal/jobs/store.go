package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fablepress/pressroom/internal/db"
)

// Store persists print jobs. Status changes go through a compare-and-set
// update keyed on the expected current status, so concurrent transitions
// (worker vs cancel vs failover) cannot silently clobber each other.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

func NewStore(database *sql.DB, statementTimeout time.Duration) *Store {
	if statementTimeout <= 0 {
		statementTimeout = 30 * time.Second
	}
	return &Store{db: database, timeout: statementTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Create(ctx context.Context, job *PrintJob) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("failed to serialize quality spec: %w", err)
	}
	metaJSON, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, db.InsertJob,
		job.ID, job.OrderRef, job.BookRef, job.Region,
		string(job.Status), job.Priority, string(specJSON), metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	job.CreatedAt = time.Now()

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*PrintJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, db.GetJobByID, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

// UpdateCAS writes the job's mutable fields, but only if the stored status
// still equals expected. Losing the race returns ErrConcurrentUpdate.
func (s *Store) UpdateCAS(ctx context.Context, job *PrintJob, expected Status) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	metaJSON, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}

	var checkJSON sql.NullString
	if job.QualityCheck != nil {
		raw, err := json.Marshal(job.QualityCheck)
		if err != nil {
			return fmt.Errorf("failed to serialize quality check: %w", err)
		}
		checkJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var printerID sql.NullString
	if job.PrinterID != "" {
		printerID = sql.NullString{String: job.PrinterID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, db.CASJobStatus,
		string(job.Status), printerID, job.Priority, job.RetryCount,
		checkJSON, metaJSON, nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrConcurrentUpdate
	}

	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*PrintJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, db.ListJobsByStatus, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]*PrintJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, db.ListJobs, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListByPrinterAndStatus is the failover query: jobs pinned to one printer in
// a given state.
func (s *Store) ListByPrinterAndStatus(ctx context.Context, printerID string, status Status) ([]*PrintJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, db.ListJobsByPrinterAndStatus, printerID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, db.CountJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// AppendEvent records an entry in the job's history. Events are the audit
// trail for assignment and failover; they are never overwritten.
func (s *Store) AppendEvent(ctx context.Context, jobID, event, printerID, detail string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, db.InsertJobEvent, jobID, event, printerID, detail); err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, jobID string) ([]Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, db.ListJobEvents, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		var printerID sql.NullString
		if err := rows.Scan(&e.Event, &printerID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}
		e.PrinterID = printerID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func marshalMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metadata: %w", err)
	}
	return string(raw), nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*PrintJob, error) {
	var job PrintJob
	var printerID, checkJSON sql.NullString
	var specJSON, metaJSON, status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.OrderRef, &job.BookRef, &job.Region, &printerID,
		&status, &job.Priority, &job.RetryCount, &specJSON, &checkJSON,
		&metaJSON, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	job.PrinterID = printerID.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	if err := json.Unmarshal([]byte(specJSON), &job.Spec); err != nil {
		return nil, fmt.Errorf("failed to parse quality spec: %w", err)
	}
	if checkJSON.Valid && checkJSON.String != "" {
		job.QualityCheck = &QualityCheckResult{}
		if err := json.Unmarshal([]byte(checkJSON.String), job.QualityCheck); err != nil {
			return nil, fmt.Errorf("failed to parse quality check: %w", err)
		}
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]string)
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*PrintJob, error) {
	jobs := make([]*PrintJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
