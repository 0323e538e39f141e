package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thinger-io/thinger-ota/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for rollout history
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository opens (and creates if needed) the history database
func NewRepository(dbPath string, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("database_init", zap.String("db_path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		logger.Error("database_open_failed", zap.String("db_path", dbPath), zap.Error(err))
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		logger.Error("database_schema_failed", zap.String("db_path", dbPath), zap.Error(err))
		return nil, errors.Wrap(err, "failed to create schema")
	}

	logger.Debug("database_ready", zap.String("db_path", dbPath))
	return &Repository{db: db, logger: logger}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Now returns the current time in storage format
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// CreateRun inserts a new run. StartedAt and Status default to now and running.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	if run.StartedAt == "" {
		run.StartedAt = Now()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	query := `
		INSERT INTO runs (id, target_type, target_id, environment, version, firmware_path,
		                  firmware_sha256, firmware_size, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.TargetType, run.TargetID, run.Environment, run.Version, run.FirmwarePath,
		run.FirmwareSHA256, run.FirmwareSize, run.Status, run.StartedAt)
	if err != nil {
		r.logger.Error("database_insert_run_failed", zap.String("run_id", run.ID), zap.Error(err))
		return errors.Wrap(err, "failed to insert run")
	}

	r.logger.Debug("database_run_created", zap.String("run_id", run.ID), zap.String("target_id", run.TargetID))
	return nil
}

// FinishRun records the final status and counters of a run
func (r *Repository) FinishRun(ctx context.Context, id, status string, success, failure int, errorMessage string) error {
	query := `
		UPDATE runs
		SET status = ?, success_count = ?, failure_count = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, success, failure, errorMessage, Now(), id)
	if err != nil {
		r.logger.Error("database_finish_run_failed", zap.String("run_id", id), zap.Error(err))
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		r.logger.Error("database_run_not_found_for_update", zap.String("run_id", id))
		return fmt.Errorf("run not found: id=%s", id)
	}

	r.logger.Debug("database_run_finished", zap.String("run_id", id), zap.String("status", status))
	return nil
}

// AddResult appends a device result to a run
func (r *Repository) AddResult(ctx context.Context, res *Result) error {
	if res.CreatedAt == "" {
		res.CreatedAt = Now()
	}

	query := `
		INSERT INTO results (run_id, position, device_id, outcome, description, state,
		                     duration_ms, bytes_sent, compression, compressed_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		res.RunID, res.Position, res.DeviceID, res.Outcome, res.Description, res.State,
		res.DurationMS, res.BytesSent, nullString(res.Compression), nullInt(res.CompressedSize), res.CreatedAt)
	if err != nil {
		r.logger.Error("database_insert_result_failed", zap.String("run_id", res.RunID), zap.String("device", res.DeviceID), zap.Error(err))
		return errors.Wrap(err, "failed to insert result")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	res.ID = id
	return nil
}

const runColumns = `id, target_type, target_id, environment, version, firmware_path, firmware_sha256,
	firmware_size, status, success_count, failure_count, error_message, started_at, finished_at`

// GetRun retrieves a run by ID. It returns nil, nil when the run does not exist.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("database_query_run_failed", zap.String("run_id", id), zap.Error(err))
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less returns all.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		r.logger.Error("database_list_runs_failed", zap.Error(err))
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}

const resultColumns = `id, run_id, position, device_id, outcome, description, state, duration_ms,
	bytes_sent, compression, compressed_size, created_at`

// ListResults returns the results of a run in rollout order
func (r *Repository) ListResults(ctx context.Context, runID string) ([]*Result, error) {
	return r.queryResults(ctx,
		`SELECT `+resultColumns+` FROM results WHERE run_id = ? ORDER BY position`, runID)
}

// DeviceHistory returns the latest results for a device, newest first
func (r *Repository) DeviceHistory(ctx context.Context, deviceID string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.queryResults(ctx,
		`SELECT `+resultColumns+` FROM results WHERE device_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		deviceID, limit)
}

func (r *Repository) queryResults(ctx context.Context, query string, args ...any) ([]*Result, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("database_list_results_failed", zap.Error(err))
		return nil, errors.Wrap(err, "failed to list results")
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var res Result
		var description, state, compression sql.NullString
		var compressedSize sql.NullInt64

		err := rows.Scan(&res.ID, &res.RunID, &res.Position, &res.DeviceID, &res.Outcome,
			&description, &state, &res.DurationMS, &res.BytesSent, &compression, &compressedSize,
			&res.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}

		res.Description = description.String
		res.State = state.String
		res.Compression = compression.String
		res.CompressedSize = compressedSize.Int64

		results = append(results, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return results, nil
}

// DeleteRun deletes a run and its results
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete results")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete run")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	r.logger.Debug("database_run_deleted", zap.String("run_id", id))
	return nil
}

// DeleteRunsBefore deletes every run started before cutoff and returns how many runs
// were removed
func (r *Repository) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	bound := cutoff.UTC().Format(TimeLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM results WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, bound)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete results")
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, bound)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete runs")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit transaction")
	}

	r.logger.Info("database_runs_pruned", zap.String("cutoff", bound), zap.Int64("deleted", deleted))
	return deleted, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var version, path, errorMessage, finishedAt sql.NullString

	err := s.Scan(&run.ID, &run.TargetType, &run.TargetID, &run.Environment, &version, &path,
		&run.FirmwareSHA256, &run.FirmwareSize, &run.Status, &run.SuccessCount, &run.FailureCount,
		&errorMessage, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Version = version.String
	run.FirmwarePath = path.String
	run.ErrorMessage = errorMessage.String
	run.FinishedAt = finishedAt.String
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
