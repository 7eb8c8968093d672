// Package ledger persists each wallet's resolved task plan and the completion
// status of every step, so a rerun resumes where the previous one stopped.
//
// The first resolution of a wallet's plan is stored as a batch of pending records
// in plan order. From then on the stored plan is authoritative: it is never
// re-resolved, and PendingTasks returns the remaining records in their original
// order. Records are keyed by (wallet key, plan position), so a plan may contain
// the same task name more than once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// ErrUnavailable marks failures of the backing store itself. Callers treat it as
// fatal for the wallet rather than as a task failure.
var ErrUnavailable = errors.New("ledger unavailable")

var ErrNotFound = errors.New("ledger record not found")

type Record struct {
	WalletKey string
	Position  int
	TaskName  string
	Status    Status
	PlanID    uuid.UUID
	Failures  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WalletSummary struct {
	WalletKey string
	Total     int
	Completed int
	UpdatedAt time.Time
}

func (s WalletSummary) Pending() int { return s.Total - s.Completed }

type Store interface {
	// HasPlan reports whether a plan was ever stored for the wallet.
	HasPlan(ctx context.Context, walletKey string) (bool, error)
	// SavePlan stores tasks as pending records unless the wallet already has a plan.
	// It reports whether this call created the plan.
	SavePlan(ctx context.Context, walletKey string, tasks []string) (bool, error)
	// PendingTasks returns the wallet's pending records in plan order.
	PendingTasks(ctx context.Context, walletKey string) ([]Record, error)
	// Tasks returns every record of the wallet in plan order.
	Tasks(ctx context.Context, walletKey string) ([]Record, error)
	// UpdateStatus sets the status of one plan step.
	UpdateStatus(ctx context.Context, walletKey string, position int, status Status) error
	// RecordFailure bumps the failure count of a step and keeps the last error text.
	RecordFailure(ctx context.Context, walletKey string, position int, msg string) error
	// Wallets summarizes every wallet with a stored plan.
	Wallets(ctx context.Context) ([]WalletSummary, error)
	// Reset drops a wallet's plan so the next run resolves a fresh one.
	Reset(ctx context.Context, walletKey string) (int, error)
	Close() error
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

const maxErrorLen = 512

// truncate bounds s to maxErrorLen bytes of valid UTF-8; postgres rejects
// TEXT parameters carrying broken sequences.
func truncate(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxErrorLen {
		return s
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
