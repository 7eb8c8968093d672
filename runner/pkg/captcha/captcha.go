// Package captcha solves hCaptcha and Turnstile challenges through third-party
// solving services.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	ProviderNoCaptcha = "nocaptcha"
	ProviderSolvium   = "solvium"
)

var ErrUnsolved = errors.New("captcha not solved")

type Challenge struct {
	SiteKey   string
	PageURL   string
	Invisible bool
	// Turnstile selects the Cloudflare flavor; hCaptcha otherwise.
	Turnstile bool
}

type Solver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

type Config struct {
	Logger   *slog.Logger
	Provider string
	APIKey   string
	// BaseURL overrides the provider endpoint.
	BaseURL    string
	HTTPClient *http.Client
	// Limiter throttles solve requests across every wallet sharing it.
	Limiter      *rate.Limiter
	PollInterval time.Duration
	Timeout      time.Duration
	Clock        clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("%s api key is required", cfg.Provider)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// New builds the configured provider, wrapped with cfg.Limiter when set.
func New(cfg Config) (Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var s Solver
	switch cfg.Provider {
	case ProviderNoCaptcha:
		s = newNoCaptcha(cfg)
	case ProviderSolvium:
		s = newSolvium(cfg)
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", cfg.Provider)
	}
	if cfg.Limiter != nil {
		s = Limited(s, cfg.Limiter)
	}
	return s, nil
}

type limited struct {
	next    Solver
	limiter *rate.Limiter
}

// Limited waits on limiter before every solve.
func Limited(s Solver, limiter *rate.Limiter) Solver {
	return &limited{next: s, limiter: limiter}
}

func (l *limited) Solve(ctx context.Context, ch Challenge) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Solve(ctx, ch)
}
