package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Run is one recorded training run.
type Run struct {
	ID           string
	CreatedAt    time.Time
	Pollutant    model.Pollutant
	TrainRows    int
	TestRows     int
	MAE          float64
	F1           float64
	F1Defined    bool
	BaselineMAE  *float64
	Threshold    float64
	FeatureNames []string
	ArtifactDir  string
}

const runColumns = `id, created_at, pollutant, train_rows, test_rows, mae, f1, f1_defined,
	baseline_mae, threshold, feature_names, artifact_dir`

// RecordRun inserts a training run.
func (r *Registry) RecordRun(ctx context.Context, run Run) error {
	names, err := json.Marshal(run.FeatureNames)
	if err != nil {
		return fmt.Errorf("encode feature names: %w", err)
	}
	var baseline sql.NullFloat64
	if run.BaselineMAE != nil {
		baseline = sql.NullFloat64{Float64: *run.BaselineMAE, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO training_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(time.RFC3339Nano), string(run.Pollutant),
		run.TrainRows, run.TestRows, run.MAE, run.F1, run.F1Defined,
		baseline, run.Threshold, string(names), run.ArtifactDir,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// Run returns the run with the given id, or ErrNotFound.
func (r *Registry) Run(ctx context.Context, id string) (Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestRun returns the most recently created run, or ErrNotFound.
func (r *Registry) LatestRun(ctx context.Context) (Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	return scanRun(row)
}

// Runs returns up to limit runs, newest first.
func (r *Registry) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM training_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run       Run
		created   string
		pollutant string
		baseline  sql.NullFloat64
		names     string
	)
	err := s.Scan(&run.ID, &created, &pollutant, &run.TrainRows, &run.TestRows, &run.MAE, &run.F1,
		&run.F1Defined, &baseline, &run.Threshold, &names, &run.ArtifactDir)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.Pollutant = model.Pollutant(pollutant)
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Run{}, fmt.Errorf("run %s: parse created_at: %w", run.ID, err)
	}
	if baseline.Valid {
		v := baseline.Float64
		run.BaselineMAE = &v
	}
	if err := json.Unmarshal([]byte(names), &run.FeatureNames); err != nil {
		return Run{}, fmt.Errorf("run %s: decode feature names: %w", run.ID, err)
	}
	return run, nil
}

// RecordPredictions stores records produced by the models of runID in one
// transaction.
func (r *Registry) RecordPredictions(ctx context.Context, runID string, records []model.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return r.Tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO predictions (run_id, created_at, predicted_value, predicted_violation,
				violation_probability, alert, record)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode record %d: %w", i, err)
			}
			if _, err := stmt.ExecContext(ctx, runID, now, rec.PredictedValue, rec.PredictedViolation,
				rec.ViolationProbability, rec.Alert, string(data)); err != nil {
				return fmt.Errorf("insert record %d: %w", i, err)
			}
		}
		return nil
	})
}

// AlertCounts returns how many stored predictions of runID carry each alert.
func (r *Registry) AlertCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT alert, COUNT(*) FROM predictions WHERE run_id = ? GROUP BY alert", runID)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var alert string
		var n int
		if err := rows.Scan(&alert, &n); err != nil {
			return nil, err
		}
		counts[alert] = n
	}
	return counts, rows.Err()
}
