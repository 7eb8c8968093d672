package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the default single-host backend. All access goes through one
// connection, which serializes writers from concurrent wallet runners.
type SQLiteStore struct {
	log *slog.Logger
	db  *sql.DB
}

func NewSQLiteStore(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	if cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, unavailable("create directory", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, unavailable("open", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, unavailable("configure", err)
		}
	}

	if cfg.Migrate {
		if err := MigrateUp(ctx, cfg.Logger, DriverSQLite, db); err != nil {
			_ = db.Close()
			return nil, unavailable("migrate", err)
		}
	}

	return &SQLiteStore{log: cfg.Logger, db: db}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) HasPlan(ctx context.Context, walletKey string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_records WHERE wallet_key = ?`, walletKey).Scan(&n)
	if err != nil {
		return false, unavailable("has plan", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SavePlan(ctx context.Context, walletKey string, tasks []string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, unavailable("save plan", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_records WHERE wallet_key = ?`, walletKey).Scan(&n); err != nil {
		return false, unavailable("save plan", err)
	}
	if n > 0 {
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_records (wallet_key, position, task_name, status, plan_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (wallet_key, position) DO NOTHING`)
	if err != nil {
		return false, unavailable("save plan", err)
	}
	defer stmt.Close()

	planID := uuid.New().String()
	now := time.Now().UTC().UnixMilli()
	for i, name := range tasks {
		if _, err := stmt.ExecContext(ctx, walletKey, i, name, string(StatusPending), planID, now, now); err != nil {
			return false, unavailable("save plan", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable("save plan", err)
	}
	s.log.Debug("ledger: saved plan", "wallet", walletKey, "tasks", len(tasks), "plan_id", planID)
	return true, nil
}

func (s *SQLiteStore) PendingTasks(ctx context.Context, walletKey string) ([]Record, error) {
	return s.query(ctx, "pending tasks", `
		SELECT wallet_key, position, task_name, status, plan_id, failures, last_error, created_at, updated_at
		FROM task_records WHERE wallet_key = ? AND status = ? ORDER BY position`,
		walletKey, string(StatusPending))
}

func (s *SQLiteStore) Tasks(ctx context.Context, walletKey string) ([]Record, error) {
	return s.query(ctx, "tasks", `
		SELECT wallet_key, position, task_name, status, plan_id, failures, last_error, created_at, updated_at
		FROM task_records WHERE wallet_key = ? ORDER BY position`,
		walletKey)
}

func (s *SQLiteStore) query(ctx context.Context, op, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                Record
			status, planID   string
			created, updated int64
		)
		if err := rows.Scan(&r.WalletKey, &r.Position, &r.TaskName, &status, &planID, &r.Failures, &r.LastError, &created, &updated); err != nil {
			return nil, unavailable(op, err)
		}
		r.Status = Status(status)
		r.PlanID, _ = uuid.Parse(planID)
		r.CreatedAt = time.UnixMilli(created).UTC()
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, walletKey string, position int, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_records SET status = ?, updated_at = ? WHERE wallet_key = ? AND position = ?`,
		string(status), time.Now().UTC().UnixMilli(), walletKey, position)
	if err != nil {
		return unavailable("update status", err)
	}
	return checkAffected(res, walletKey, position)
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, walletKey string, position int, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_records SET failures = failures + 1, last_error = ?, updated_at = ? WHERE wallet_key = ? AND position = ?`,
		truncate(msg), time.Now().UTC().UnixMilli(), walletKey, position)
	if err != nil {
		return unavailable("record failure", err)
	}
	return checkAffected(res, walletKey, position)
}

func (s *SQLiteStore) Wallets(ctx context.Context) ([]WalletSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet_key, COUNT(*), SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), MAX(updated_at)
		FROM task_records GROUP BY wallet_key ORDER BY wallet_key`)
	if err != nil {
		return nil, unavailable("wallets", err)
	}
	defer rows.Close()

	var out []WalletSummary
	for rows.Next() {
		var (
			w       WalletSummary
			updated int64
		)
		if err := rows.Scan(&w.WalletKey, &w.Total, &w.Completed, &updated); err != nil {
			return nil, unavailable("wallets", err)
		}
		w.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("wallets", err)
	}
	return out, nil
}

func (s *SQLiteStore) Reset(ctx context.Context, walletKey string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_records WHERE wallet_key = ?`, walletKey)
	if err != nil {
		return 0, unavailable("reset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("reset", err)
	}
	return int(n), nil
}

func checkAffected(res sql.Result, walletKey string, position int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: wallet %s position %d", ErrNotFound, walletKey, position)
	}
	return nil
}
