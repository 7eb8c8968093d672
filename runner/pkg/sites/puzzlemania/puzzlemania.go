// Package puzzlemania runs the Puzzle Mania questline: sign in with the wallet,
// link the wallet's X account, verify every open campaign activity and keep the
// shared referral ledger up to date.
package puzzlemania

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const (
	SiteURL    = "https://puzzlemania.0g.ai"
	PrivyURL   = "https://auth.privy.io"
	DeformURL  = "https://api.deform.cc/"
	TwitterURL = "https://x.com"

	privyAppID  = "clphlvsh3034xjw0fvs59mrdc"
	privyClient = "react-auth:2.4.1"
	campaignID  = "f7e24f14-b911-4f11-b903-edac89a095ec"
)

type Config struct {
	// UseReferralCode registers the campaign with a code from the shared ledger.
	UseReferralCode bool
	// InvitesPerReferralCode bounds how often one code is handed out; a threshold
	// is drawn per registration.
	InvitesPerReferralCode random.Range
	// CollectReferralCode stores the wallet's own code in the shared ledger.
	CollectReferralCode bool

	// Endpoint overrides, mainly for tests.
	PrivyURL   string
	DeformURL  string
	TwitterURL string
}

func (cfg *Config) Validate() error {
	if cfg.PrivyURL == "" {
		cfg.PrivyURL = PrivyURL
	}
	if cfg.DeformURL == "" {
		cfg.DeformURL = DeformURL
	}
	if cfg.TwitterURL == "" {
		cfg.TwitterURL = TwitterURL
	}
	cfg.PrivyURL = strings.TrimSuffix(cfg.PrivyURL, "/")
	cfg.TwitterURL = strings.TrimSuffix(cfg.TwitterURL, "/")
	if cfg.InvitesPerReferralCode.IsZero() {
		cfg.InvitesPerReferralCode = random.Range{Min: 5, Max: 10}
	}
	return cfg.InvitesPerReferralCode.Validate()
}

// Quest is the puzzlemania task handler.
type Quest struct {
	cfg Config
}

func New(cfg Config) (*Quest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Quest{cfg: cfg}, nil
}

func (q *Quest) Execute(ctx context.Context, env *task.Env) error {
	s := &session{cfg: q.cfg, env: env}

	if err := s.login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	linked, err := s.twitterLinked(ctx)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if !linked {
		if err := s.linkTwitter(ctx); err != nil {
			return fmt.Errorf("link x account: %w", err)
		}
	}

	activities, err := s.activities(ctx)
	if err != nil {
		return fmt.Errorf("activities: %w", err)
	}

	var errs []error
	for _, a := range activities {
		if reason := a.skipReason(env.Clock.Now()); reason != "" {
			env.Log.Debug("puzzlemania: skipping activity", "activity", a.Title, "reason", reason)
			continue
		}
		if err := s.verify(ctx, a); err != nil {
			if errors.Is(err, context.Canceled) || retry.IsFatal(err) {
				return err
			}
			env.Log.Warn("puzzlemania: activity failed", "activity", a.Title, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", a.Title, err))
		}
		if err := env.Sleep(ctx, env.ActionPause); err != nil {
			return err
		}
	}

	if q.cfg.CollectReferralCode {
		if err := s.collectReferralCode(ctx); err != nil {
			env.Log.Warn("puzzlemania: failed to collect referral code", "error", err)
		}
	}

	if len(errs) > 0 {
		// Completed activities are skipped on the next attempt.
		return retry.Transientf("%d activities failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
