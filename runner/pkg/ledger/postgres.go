package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore lets several runner hosts share one ledger.
type PostgresStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}

	if cfg.Migrate {
		db := stdlib.OpenDBFromPool(pool)
		err := MigrateUp(ctx, cfg.Logger, DriverPostgres, db)
		_ = db.Close()
		if err != nil {
			pool.Close()
			return nil, unavailable("migrate", err)
		}
	}

	return &PostgresStore{log: cfg.Logger, pool: pool}, nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) HasPlan(ctx context.Context, walletKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM task_records WHERE wallet_key = $1)`, walletKey).Scan(&exists)
	if err != nil {
		return false, unavailable("has plan", err)
	}
	return exists, nil
}

func (s *PostgresStore) SavePlan(ctx context.Context, walletKey string, tasks []string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, unavailable("save plan", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize concurrent first-time saves for the same wallet.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, walletKey); err != nil {
		return false, unavailable("save plan", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM task_records WHERE wallet_key = $1)`, walletKey).Scan(&exists); err != nil {
		return false, unavailable("save plan", err)
	}
	if exists {
		return false, nil
	}

	planID := uuid.New()
	batch := &pgx.Batch{}
	for i, name := range tasks {
		batch.Queue(`
			INSERT INTO task_records (wallet_key, position, task_name, status, plan_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (wallet_key, position) DO NOTHING`,
			walletKey, i, name, string(StatusPending), planID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, unavailable("save plan", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, unavailable("save plan", err)
	}
	s.log.Debug("ledger: saved plan", "wallet", walletKey, "tasks", len(tasks), "plan_id", planID)
	return true, nil
}

func (s *PostgresStore) PendingTasks(ctx context.Context, walletKey string) ([]Record, error) {
	return s.query(ctx, "pending tasks", `
		SELECT wallet_key, position, task_name, status, plan_id, failures, last_error, created_at, updated_at
		FROM task_records WHERE wallet_key = $1 AND status = $2 ORDER BY position`,
		walletKey, string(StatusPending))
}

func (s *PostgresStore) Tasks(ctx context.Context, walletKey string) ([]Record, error) {
	return s.query(ctx, "tasks", `
		SELECT wallet_key, position, task_name, status, plan_id, failures, last_error, created_at, updated_at
		FROM task_records WHERE wallet_key = $1 ORDER BY position`,
		walletKey)
}

func (s *PostgresStore) query(ctx context.Context, op, q string, args ...any) ([]Record, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r      Record
			status string
		)
		if err := rows.Scan(&r.WalletKey, &r.Position, &r.TaskName, &status, &r.PlanID, &r.Failures, &r.LastError, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, unavailable(op, err)
		}
		r.Status = Status(status)
		r.CreatedAt = r.CreatedAt.UTC()
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, walletKey string, position int, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_records SET status = $1, updated_at = NOW() WHERE wallet_key = $2 AND position = $3`,
		string(status), walletKey, position)
	if err != nil {
		return unavailable("update status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %s position %d", ErrNotFound, walletKey, position)
	}
	return nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, walletKey string, position int, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_records SET failures = failures + 1, last_error = $1, updated_at = NOW() WHERE wallet_key = $2 AND position = $3`,
		truncate(msg), walletKey, position)
	if err != nil {
		return unavailable("record failure", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %s position %d", ErrNotFound, walletKey, position)
	}
	return nil
}

func (s *PostgresStore) Wallets(ctx context.Context) ([]WalletSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_key, COUNT(*), COUNT(*) FILTER (WHERE status = 'completed'), MAX(updated_at)
		FROM task_records GROUP BY wallet_key ORDER BY wallet_key`)
	if err != nil {
		return nil, unavailable("wallets", err)
	}
	defer rows.Close()

	var out []WalletSummary
	for rows.Next() {
		var w WalletSummary
		if err := rows.Scan(&w.WalletKey, &w.Total, &w.Completed, &w.UpdatedAt); err != nil {
			return nil, unavailable("wallets", err)
		}
		w.UpdatedAt = w.UpdatedAt.UTC()
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("wallets", err)
	}
	return out, nil
}

func (s *PostgresStore) Reset(ctx context.Context, walletKey string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM task_records WHERE wallet_key = $1`, walletKey)
	if err != nil {
		return 0, unavailable("reset", err)
	}
	return int(tag.RowsAffected()), nil
}
