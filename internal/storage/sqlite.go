package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// unmarshalJSON unmarshals a non-critical JSON column, logging corruption
// instead of failing the query.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		iterations INTEGER NOT NULL,
		wallets INTEGER NOT NULL,
		status TEXT NOT NULL,
		wraps_confirmed INTEGER NOT NULL DEFAULT 0,
		wraps_failed INTEGER NOT NULL DEFAULT 0,
		unwraps_confirmed INTEGER NOT NULL DEFAULT 0,
		unwraps_failed INTEGER NOT NULL DEFAULT 0,
		cycles_completed INTEGER NOT NULL DEFAULT 0,
		cycles_partial INTEGER NOT NULL DEFAULT 0,
		cycles_failed INTEGER NOT NULL DEFAULT 0,
		initial_balances TEXT,
		final_balances TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		iteration INTEGER NOT NULL,
		wallet TEXT NOT NULL,
		native_balance TEXT,
		wrapped_balance TEXT,
		wrap_planned INTEGER NOT NULL DEFAULT 0,
		unwrap_planned INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_run ON cycles(run_id, iteration);

	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id INTEGER NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		batch_index INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		tx_hash TEXT,
		confirm_latency_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_operations_cycle ON operations(cycle_id);
	CREATE INDEX IF NOT EXISTS idx_operations_tx_hash ON operations(tx_hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run in its starting state.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, iterations, wallets, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.Iterations, run.Wallets, string(run.Status))
	return err
}

// SaveCycle inserts one cycle and all of its operations in one transaction.
func (s *SQLiteStorage) SaveCycle(ctx context.Context, runID string, cycle types.CycleResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO cycles (run_id, iteration, wallet, native_balance, wrapped_balance,
			wrap_planned, unwrap_planned, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, cycle.Iteration, cycle.Wallet,
		nullString(weiString(cycle.NativeBalance)), nullString(weiString(cycle.WrappedBalance)),
		cycle.Wrap.Planned, cycle.Unwrap.Planned,
		string(cycle.Status), nullString(cycle.Err), cycle.StartedAt, cycle.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	cycleID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	outcomes := cycle.Outcomes()
	if len(outcomes) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO operations (cycle_id, kind, batch_index, amount, status, reason, tx_hash, confirm_latency_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range outcomes {
			_, err := stmt.ExecContext(ctx, cycleID, string(o.Kind), o.Index, weiString(o.Amount),
				string(o.Status), nullString(o.Reason), nullString(o.TxHash), nullInt64(o.ConfirmLatencyMs))
			if err != nil {
				return fmt.Errorf("insert operation: %w", err)
			}
		}
	}

	return tx.Commit()
}

// CompleteRun stores the final status, totals and balance reports.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *types.RunSummary) error {
	initialJSON, err := json.Marshal(run.InitialBalances)
	if err != nil {
		return fmt.Errorf("failed to marshal initial balances: %w", err)
	}
	finalJSON, err := json.Marshal(run.FinalBalances)
	if err != nil {
		return fmt.Errorf("failed to marshal final balances: %w", err)
	}

	t := totals(run)
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?, status = ?,
			wraps_confirmed = ?, wraps_failed = ?, unwraps_confirmed = ?, unwraps_failed = ?,
			cycles_completed = ?, cycles_partial = ?, cycles_failed = ?,
			initial_balances = ?, final_balances = ?
		WHERE id = ?
	`, run.CompletedAt, string(run.Status),
		t.WrapsConfirmed, t.WrapsFailed, t.UnwrapsConfirmed, t.UnwrapsFailed,
		t.CyclesCompleted, t.CyclesPartial, t.CyclesFailed,
		string(initialJSON), string(finalJSON), run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

const runColumns = `id, started_at, completed_at, iterations, wallets, status,
	wraps_confirmed, wraps_failed, unwraps_confirmed, unwraps_failed,
	cycles_completed, cycles_partial, cycles_failed,
	initial_balances, final_balances`

// GetRun returns a run with its cycles and operations, or nil if it does
// not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cycles, err := s.getCycles(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Cycles: cycles}, nil
}

func (s *SQLiteStorage) getCycles(ctx context.Context, runID string) ([]CycleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, iteration, wallet, native_balance, wrapped_balance,
			wrap_planned, unwrap_planned, status, error, started_at, finished_at
		FROM cycles WHERE run_id = ?
		ORDER BY iteration, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cycles := []CycleRecord{}
	index := make(map[int64]int)
	for rows.Next() {
		var c CycleRecord
		var native, wrapped, errMsg sql.NullString
		if err := rows.Scan(&c.ID, &c.Iteration, &c.Wallet, &native, &wrapped,
			&c.WrapPlanned, &c.UnwrapPlanned, &c.Status, &errMsg, &c.StartedAt, &c.FinishedAt); err != nil {
			return nil, err
		}
		c.NativeBalance = native.String
		c.WrappedBalance = wrapped.String
		c.Error = errMsg.String
		c.Operations = []OperationRecord{}
		index[c.ID] = len(cycles)
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return cycles, nil
	}

	opRows, err := s.db.QueryContext(ctx, `
		SELECT o.cycle_id, o.kind, o.batch_index, o.amount, o.status, o.reason, o.tx_hash, o.confirm_latency_ms
		FROM operations o JOIN cycles c ON c.id = o.cycle_id
		WHERE c.run_id = ?
		ORDER BY o.id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer opRows.Close()

	for opRows.Next() {
		var cycleID int64
		var o OperationRecord
		var reason, hash sql.NullString
		var latency sql.NullInt64
		if err := opRows.Scan(&cycleID, &o.Kind, &o.Index, &o.Amount, &o.Status, &reason, &hash, &latency); err != nil {
			return nil, err
		}
		o.Reason = reason.String
		o.TxHash = hash.String
		o.ConfirmLatencyMs = latency.Int64
		if i, ok := index[cycleID]; ok {
			cycles[i].Operations = append(cycles[i].Operations, o)
		}
	}
	return cycles, opRows.Err()
}

// ListRuns returns a paginated list of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun removes a run together with its cycles and operations.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var completedAt sql.NullTime
	var initialJSON, finalJSON sql.NullString

	err := row.Scan(&run.ID, &run.StartedAt, &completedAt, &run.Iterations, &run.Wallets, &run.Status,
		&run.WrapsConfirmed, &run.WrapsFailed, &run.UnwrapsConfirmed, &run.UnwrapsFailed,
		&run.CyclesCompleted, &run.CyclesPartial, &run.CyclesFailed,
		&initialJSON, &finalJSON)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if initialJSON.Valid {
		unmarshalJSON(initialJSON.String, &run.InitialBalances, "initial_balances", run.ID)
	}
	if finalJSON.Valid {
		unmarshalJSON(finalJSON.String, &run.FinalBalances, "final_balances", run.ID)
	}
	return &run, nil
}

func weiString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
