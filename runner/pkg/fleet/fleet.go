// Package fleet runs many wallets concurrently.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/questrunner/runner/pkg/wallet"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
)

// WalletRunner runs one wallet to completion.
type WalletRunner interface {
	Run(ctx context.Context, w wallet.Wallet) (wallet.Report, error)
}

// ErrorNotifier is told about wallets that stopped on a fatal error.
type ErrorNotifier interface {
	NotifyError(ctx context.Context, index int, address string, err error) error
}

type Config struct {
	Logger   *slog.Logger
	Runner   WalletRunner
	Notifier ErrorNotifier

	// Threads caps how many wallets run at once.
	Threads int
	// Shuffle randomizes the wallet start order.
	Shuffle bool
	// InitPause is waited before each wallet starts, staggering the first batch.
	InitPause random.Range
	// AccountPause is waited by a worker after a wallet finishes, before it picks
	// up the next one.
	AccountPause random.Range

	Clock clockwork.Clock
	Rand  *rand.Rand
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runner == nil {
		return errors.New("wallet runner is required")
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if err := cfg.InitPause.Validate(); err != nil {
		return fmt.Errorf("invalid initialization pause: %w", err)
	}
	if err := cfg.AccountPause.Validate(); err != nil {
		return fmt.Errorf("invalid account pause: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = random.NewSource(0)
	}
	return nil
}

// Summary aggregates every wallet report of one fleet run.
type Summary struct {
	RunID     uuid.UUID
	StartedAt time.Time
	Duration  time.Duration
	// Reports are ordered by wallet index.
	Reports []wallet.Report
	// Skipped counts wallets that never ran because the run was canceled.
	Skipped int
}

// Fatal returns the reports of wallets that stopped on a non-task error.
func (s Summary) Fatal() []wallet.Report {
	var out []wallet.Report
	for _, r := range s.Reports {
		if r.Fatal != nil {
			out = append(out, r)
		}
	}
	return out
}

func (s Summary) HasFatal() bool { return len(s.Fatal()) > 0 }

func (s Summary) Completed() int {
	var n int
	for _, r := range s.Reports {
		n += len(r.Completed)
	}
	return n
}

func (s Summary) Failed() int {
	var n int
	for _, r := range s.Reports {
		n += len(r.Failed)
	}
	return n
}

type Orchestrator struct {
	log *slog.Logger
	cfg Config

	mu sync.Mutex
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{log: cfg.Logger, cfg: cfg}, nil
}

// Run drives every wallet through the runner. One wallet's failure, fatal or not,
// never stops the others; only ctx cancellation ends the run early.
func (o *Orchestrator) Run(ctx context.Context, wallets []wallet.Wallet) (Summary, error) {
	sum := Summary{RunID: uuid.New(), StartedAt: o.cfg.Clock.Now()}
	order := slices.Clone(wallets)
	if o.cfg.Shuffle {
		random.Shuffle(o.cfg.Rand, order)
	}

	log := o.log.With("run_id", sum.RunID)
	log.Info("fleet: starting", "wallets", len(order), "threads", o.cfg.Threads, "shuffled", o.cfg.Shuffle)

	var (
		mu      sync.Mutex
		reports = make([]wallet.Report, 0, len(order))
	)

	// Errors are never returned from workers: a wallet's outcome lives in its report.
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Threads)

	for i, w := range order {
		if ctx.Err() != nil {
			break
		}
		first := i < o.cfg.Threads
		g.Go(func() error {
			if first {
				if err := o.pause(ctx, o.cfg.InitPause); err != nil {
					return nil
				}
			}
			rep, err := o.cfg.Runner.Run(ctx, w)
			if err != nil {
				log.Error("fleet: wallet stopped on fatal error", "account", rep.Index, "address", rep.Address, "error", err)
				o.notifyError(ctx, rep, err)
			}
			mu.Lock()
			reports = append(reports, rep)
			mu.Unlock()

			_ = o.pause(ctx, o.cfg.AccountPause)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(reports, func(a, b wallet.Report) int { return a.Index - b.Index })
	sum.Reports = reports
	sum.Skipped = len(order) - len(reports)
	sum.Duration = o.cfg.Clock.Since(sum.StartedAt)

	log.Info("fleet: finished",
		"wallets", len(reports),
		"skipped", sum.Skipped,
		"completed_tasks", sum.Completed(),
		"failed_tasks", sum.Failed(),
		"fatal_wallets", len(sum.Fatal()),
		"duration", sum.Duration.Round(time.Second))

	return sum, ctx.Err()
}

func (o *Orchestrator) notifyError(ctx context.Context, rep wallet.Report, err error) {
	if o.cfg.Notifier == nil || errors.Is(err, context.Canceled) {
		return
	}
	if nerr := o.cfg.Notifier.NotifyError(ctx, rep.Index, rep.Address, err); nerr != nil {
		o.log.Warn("fleet: failed to send error notification", "error", nerr)
	}
}

func (o *Orchestrator) pause(ctx context.Context, r random.Range) error {
	o.mu.Lock()
	d := r.Seconds(o.cfg.Rand)
	o.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.cfg.Clock.After(d):
		return nil
	}
}
