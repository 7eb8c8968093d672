// Package wallet drives one wallet through its task plan.
//
// A run moves through Initializing, Resolving, Executing and Reporting and ends in
// Closed, or in Aborted when session setup fails, the ledger or configuration
// breaks, or a step fails while failures are not skipped. Steps of one wallet run
// strictly in plan order, one at a time.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/ledger"
	"github.com/malbeclabs/questrunner/runner/pkg/metrics"
	"github.com/malbeclabs/questrunner/runner/pkg/plan"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/logger"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

// Notifier receives the final report of every initialized wallet run.
type Notifier interface {
	NotifyReport(ctx context.Context, r Report) error
}

type Config struct {
	Logger   *slog.Logger
	Ledger   ledger.Store
	Resolver *plan.Resolver
	// Flow is the node resolved for wallets without a stored plan.
	Flow     plan.Node
	Tasks    *task.Registry
	Sessions SessionFactory
	Shared   task.SharedResources
	Notifier Notifier
	Tracker  *Tracker

	// Retry is applied to every step. Its Classify defaults to task.Classify.
	Retry retry.Config
	// StepPause is waited after every step, the last one included.
	StepPause random.Range
	// ActionPause is handed to handlers for pauses inside a step.
	ActionPause    random.Range
	ConfirmTimeout time.Duration
	SkipFailed     bool

	Clock clockwork.Clock
	// Rand seeds the per-wallet sources handed to handlers.
	Rand *rand.Rand
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Resolver == nil {
		return errors.New("resolver is required")
	}
	if cfg.Tasks == nil {
		return errors.New("task registry is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session factory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = random.NewSource(0)
	}
	if cfg.Retry.Classify == nil {
		cfg.Retry.Classify = task.Classify
	}
	if cfg.Retry.Clock == nil {
		cfg.Retry.Clock = cfg.Clock
	}
	if err := cfg.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}
	return nil
}

type Runner struct {
	log *slog.Logger
	cfg Config

	seedMu sync.Mutex
}

func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{log: cfg.Logger, cfg: cfg}, nil
}

// Run executes the wallet's pending steps. The returned error is non-nil only for
// fatal outcomes (session, ledger or configuration failures, or cancellation);
// task failures are reported in the Report.
func (r *Runner) Run(ctx context.Context, w Wallet) (rep Report, err error) {
	id := w.Identity
	log := logger.ForWallet(r.log, id.Index, id.WalletKey())
	rep = Report{
		Index:      id.Index,
		Address:    id.WalletKey(),
		SkipFailed: r.cfg.SkipFailed,
		StartedAt:  r.cfg.Clock.Now(),
	}

	metrics.WalletsActive.Inc()
	defer metrics.WalletsActive.Dec()
	defer func() {
		rep.Duration = r.cfg.Clock.Since(rep.StartedAt)
		metrics.WalletDuration.Observe(rep.Duration.Seconds())
		metrics.WalletRunsTotal.WithLabelValues(string(rep.State), strconv.FormatBool(rep.Fatal != nil)).Inc()
	}()

	r.setState(rep, StateInitializing, "")
	session, err := r.cfg.Sessions.Open(ctx, w)
	if err != nil {
		log.Error("wallet: failed to initialize session", "error", err)
		r.abort(&rep, fmt.Errorf("initialize session: %w", err))
		return rep, rep.Fatal
	}
	defer func() {
		session.Close()
		log.Debug("wallet: session closed", "state", rep.State)
	}()

	env := &task.Env{
		Log:            log,
		Identity:       id,
		HTTP:           session.HTTP,
		Chain:          session.Chain,
		Captcha:        session.Captcha,
		Clock:          r.cfg.Clock,
		Rand:           random.NewSource(r.nextSeed()),
		Shared:         r.cfg.Shared,
		Social:         task.NewCredential(w.SocialToken),
		ActionPause:    r.cfg.ActionPause,
		ConfirmTimeout: r.cfg.ConfirmTimeout,
		Attempts:       r.cfg.Retry.MaxAttempts,
	}
	r.logStats(ctx, log, env)

	r.setState(rep, StateResolving, "")
	pending, err := r.resolve(ctx, log, id.WalletKey())
	if err != nil {
		log.Error("wallet: failed to resolve plan", "error", err)
		r.abort(&rep, err)
		r.report(ctx, log, rep)
		return rep, rep.Fatal
	}
	rep.PlanSize = len(pending)

	if len(pending) == 0 {
		log.Info("wallet: all tasks already completed")
	} else {
		log.Info("wallet: executing plan", "pending", len(pending))
	}

	stopped, err := r.execute(ctx, env, pending, &rep)
	switch {
	case err != nil:
		log.Error("wallet: run aborted", "error", err)
		r.abort(&rep, err)
	case stopped:
		rep.State = StateAborted
	default:
		rep.State = StateClosed
	}

	r.report(ctx, log, rep)
	r.setState(rep, rep.State, "")
	return rep, rep.Fatal
}

func (r *Runner) resolve(ctx context.Context, log *slog.Logger, key string) ([]ledger.Record, error) {
	has, err := r.cfg.Ledger.HasPlan(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		tasks, err := r.cfg.Resolver.ResolveNode(r.cfg.Flow)
		if err != nil {
			return nil, retry.AsFatal(fmt.Errorf("resolve task plan: %w", err))
		}
		created, err := r.cfg.Ledger.SavePlan(ctx, key, tasks)
		if err != nil {
			return nil, err
		}
		if created {
			log.Info("wallet: resolved new plan", "tasks", tasks)
		}
	}
	return r.cfg.Ledger.PendingTasks(ctx, key)
}

// execute runs pending steps in order. stopped is set when a failed step ended
// the run because failures are not skipped.
func (r *Runner) execute(ctx context.Context, env *task.Env, pending []ledger.Record, rep *Report) (stopped bool, err error) {
	log := env.Log
	index := env.Identity.Index
	r.cfg.Tracker.update(index, func(s *Status) { s.State = StateExecuting; s.Pending = len(pending) })

	for i, rec := range pending {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		r.cfg.Tracker.update(index, func(s *Status) { s.CurrentTask = rec.TaskName })
		stepLog := log.With("task", rec.TaskName, "step", fmt.Sprintf("%d/%d", i+1, len(pending)))
		env.Log = stepLog

		ok, err := r.runStep(ctx, stepLog, env, rec)
		if err != nil {
			return false, err
		}

		if ok {
			if err := r.cfg.Ledger.UpdateStatus(ctx, rec.WalletKey, rec.Position, ledger.StatusCompleted); err != nil {
				return false, err
			}
			rep.Completed = append(rep.Completed, rec.TaskName)
			r.cfg.Tracker.update(index, func(s *Status) { s.Completed++; s.Pending-- })
			stepLog.Info("wallet: task completed")

			if err := env.Sleep(ctx, r.cfg.StepPause); err != nil {
				return false, err
			}
			continue
		}

		rep.Failed = append(rep.Failed, rec.TaskName)
		r.cfg.Tracker.update(index, func(s *Status) { s.Failed++; s.Pending-- })
		if !r.cfg.SkipFailed {
			stepLog.Error("wallet: task failed, stopping wallet")
			return true, nil
		}
		stepLog.Warn("wallet: task failed, continuing with next task")
		if err := env.Sleep(ctx, r.cfg.StepPause); err != nil {
			return false, err
		}
	}
	return false, nil
}

// runStep executes one plan step under the retry policy. It returns a non-nil
// error only when the wallet must stop.
func (r *Runner) runStep(ctx context.Context, log *slog.Logger, env *task.Env, rec ledger.Record) (bool, error) {
	start := r.cfg.Clock.Now()
	defer func() {
		metrics.TaskDuration.WithLabelValues(rec.TaskName).Observe(r.cfg.Clock.Since(start).Seconds())
	}()

	h, found := r.cfg.Tasks.Lookup(rec.TaskName)
	if !found {
		log.Error("wallet: no handler for task")
		metrics.TasksTotal.WithLabelValues(rec.TaskName, "unknown").Inc()
		return false, r.recordFailure(ctx, rec, "unknown task")
	}

	var lastErr error
	retryCfg := r.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.TaskRetriesTotal.WithLabelValues(rec.TaskName).Inc()
		log.Warn("wallet: task attempt failed", "attempt", attempt, "max_attempts", retryCfg.MaxAttempts, "retry_in", delay.Round(time.Millisecond), "error", err)
	}

	ok, err := retry.DoValue(ctx, retryCfg, false, func(ctx context.Context) (bool, error) {
		err := h.Execute(ctx, env)
		if err != nil {
			lastErr = err
			if retryCfg.Classify(err) == retry.AlreadyDone {
				log.Info("wallet: task already satisfied", "reason", err)
				return true, err
			}
			return false, err
		}
		return true, nil
	})

	switch {
	case err == nil && ok:
		metrics.TasksTotal.WithLabelValues(rec.TaskName, "completed").Inc()
		return true, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return false, err
	case retry.IsFatal(err) || errors.Is(err, ledger.ErrUnavailable):
		metrics.TasksTotal.WithLabelValues(rec.TaskName, "fatal").Inc()
		return false, err
	case err != nil:
		metrics.TasksTotal.WithLabelValues(rec.TaskName, "terminal").Inc()
		log.Error("wallet: task failed without retry", "error", err)
		return false, r.recordFailure(ctx, rec, err.Error())
	default:
		metrics.TasksTotal.WithLabelValues(rec.TaskName, "exhausted").Inc()
		msg := "retry budget exhausted"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		log.Error("wallet: task failed after all attempts", "attempts", retryCfg.MaxAttempts, "error", lastErr)
		return false, r.recordFailure(ctx, rec, msg)
	}
}

func (r *Runner) recordFailure(ctx context.Context, rec ledger.Record, msg string) error {
	if err := r.cfg.Ledger.RecordFailure(ctx, rec.WalletKey, rec.Position, msg); err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return err
		}
		r.log.Warn("wallet: failed to record task failure", "error", err)
	}
	return nil
}

func (r *Runner) report(ctx context.Context, log *slog.Logger, rep Report) {
	r.setState(rep, StateReporting, "")
	log.Info("wallet: finished",
		"state", rep.State,
		"completed", len(rep.Completed),
		"failed", len(rep.Failed),
		"success_rate", fmt.Sprintf("%.1f%%", rep.SuccessRate()))
	if r.cfg.Notifier != nil {
		if err := r.cfg.Notifier.NotifyReport(ctx, rep); err != nil {
			log.Warn("wallet: failed to send report", "error", err)
		}
	}
}

func (r *Runner) abort(rep *Report, err error) {
	rep.State = StateAborted
	rep.Fatal = err
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.setState(*rep, StateAborted, msg)
}

func (r *Runner) logStats(ctx context.Context, log *slog.Logger, env *task.Env) {
	if env.Chain == nil {
		return
	}
	bal, err := env.Chain.Balance(ctx, env.Identity.Address)
	if err != nil {
		log.Debug("wallet: failed to read balance", "error", err)
		return
	}
	log.Info("wallet: stats", "balance", fmt.Sprintf("%.6f", chain.FromWei(bal)))
}

func (r *Runner) setState(rep Report, state State, errMsg string) {
	r.cfg.Tracker.update(rep.Index, func(s *Status) {
		s.Address = rep.Address
		s.State = state
		if state != StateExecuting {
			s.CurrentTask = ""
		}
		if errMsg != "" {
			s.Error = errMsg
		}
	})
}

func (r *Runner) nextSeed() uint64 {
	r.seedMu.Lock()
	defer r.seedMu.Unlock()
	return r.cfg.Rand.Uint64() | 1
}
