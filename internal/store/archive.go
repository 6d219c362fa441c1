// Package store archives execution reports in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/sourceplane/stepflow/internal/model"
)

// timeLayout has a fixed width so the stored text sorts chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when no report has the requested run ID
var ErrNotFound = errors.New("report not found")

// Summary is one row of the archive listing
type Summary struct {
	RunID      string    `json:"runId" yaml:"runId"`
	Plan       string    `json:"plan,omitempty" yaml:"plan,omitempty"`
	Success    bool      `json:"success" yaml:"success"`
	Cancelled  bool      `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Steps      int       `json:"steps" yaml:"steps"`
	Failed     int       `json:"failed" yaml:"failed"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time `json:"finishedAt" yaml:"finishedAt"`
}

// Archive stores reports as JSON rows keyed by run ID
type Archive struct {
	DB *sql.DB
}

// Open opens (and creates if needed) the archive at path
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			plan TEXT,
			success INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			report TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS reports_started_at ON reports (started_at);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise archive: %w", err)
		}
	}

	return &Archive{DB: db}, nil
}

// Close releases the database
func (a *Archive) Close() error {
	return a.DB.Close()
}

// Save stores a report, replacing any earlier report with the same run ID
func (a *Archive) Save(ctx context.Context, report *model.ExecutionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	counts := report.Counts()
	query := `INSERT OR REPLACE INTO reports
		(run_id, plan, success, cancelled, steps, failed, started_at, finished_at, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = a.DB.ExecContext(ctx, query,
		report.RunID,
		report.Plan,
		boolInt(report.Success),
		boolInt(report.Cancelled),
		len(report.Steps),
		counts[model.StatusFailed],
		report.StartedAt.UTC().Format(timeLayout),
		report.FinishedAt.UTC().Format(timeLayout),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", report.RunID, err)
	}
	return nil
}

// Get returns the archived report for runID
func (a *Archive) Get(ctx context.Context, runID string) (*model.ExecutionReport, error) {
	var data string
	err := a.DB.QueryRowContext(ctx, `SELECT report FROM reports WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", runID, err)
	}

	var report model.ExecutionReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", runID, err)
	}
	return &report, nil
}

// List returns the most recent reports first, at most limit of them
func (a *Archive) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT run_id, plan, success, cancelled, steps, failed, started_at, finished_at
		FROM reports ORDER BY started_at DESC LIMIT ?`
	rows, err := a.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var s Summary
		var plan sql.NullString
		var success, cancelled int
		var started, finished string
		if err := rows.Scan(&s.RunID, &plan, &success, &cancelled, &s.Steps, &s.Failed, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to read report row: %w", err)
		}
		s.Plan = plan.String
		s.Success = success == 1
		s.Cancelled = cancelled == 1
		s.StartedAt, _ = time.Parse(timeLayout, started)
		s.FinishedAt, _ = time.Parse(timeLayout, finished)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return summaries, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
