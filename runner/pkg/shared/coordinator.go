// Package shared holds the mutable state that concurrently running wallets share:
// the pool of spare social-auth tokens, the primary token list, and the referral
// code ledger. Every operation runs under one mutex and performs its whole
// read-modify-write of the backing files before releasing it. No network call is
// ever made while the mutex is held.
package shared

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/malbeclabs/questrunner/runner/pkg/metrics"
)

var (
	ErrResourceExhausted = errors.New("no spare tokens left")
	ErrNotFound          = errors.New("not found")
)

// Lines is a flat record-per-line durable store.
type Lines interface {
	Read() ([]string, error)
	Write(lines []string) error
}

type Config struct {
	Logger *slog.Logger
	// SpareTokens backs the spare token pool.
	SpareTokens Lines
	// Tokens is the primary per-wallet token list that replacements are written to.
	Tokens Lines
	// Referrals holds address:code:count records.
	Referrals Lines
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.SpareTokens == nil {
		return errors.New("spare tokens store is required")
	}
	if cfg.Tokens == nil {
		return errors.New("tokens store is required")
	}
	if cfg.Referrals == nil {
		return errors.New("referrals store is required")
	}
	return nil
}

type Coordinator struct {
	log *slog.Logger
	cfg Config

	mu    sync.Mutex
	spare []string
	// reserved counts referral codes handed out but not yet confirmed or released.
	reserved map[string]int
}

// New loads the spare token pool. It must complete before any wallet starts.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spare, err := cfg.SpareTokens.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to load spare tokens: %w", err)
	}
	c := &Coordinator{log: cfg.Logger, cfg: cfg, spare: dedupe(spare), reserved: make(map[string]int)}
	metrics.SpareTokensRemaining.Set(float64(len(c.spare)))
	c.log.Info("shared: loaded spare tokens", "count", len(c.spare))
	return c, nil
}

func (c *Coordinator) SpareCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spare)
}

// AcquireSpareToken pops the head of the spare pool and persists the rest. An
// empty pool fails with ErrResourceExhausted and leaves the store untouched.
func (c *Coordinator) AcquireSpareToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquireLocked()
}

func (c *Coordinator) acquireLocked() (string, error) {
	if len(c.spare) == 0 {
		return "", ErrResourceExhausted
	}
	token := c.spare[0]
	rest := slices.Clone(c.spare[1:])
	if err := c.cfg.SpareTokens.Write(rest); err != nil {
		return "", fmt.Errorf("failed to persist spare tokens: %w", err)
	}
	c.spare = rest
	metrics.SpareTokensRemaining.Set(float64(len(rest)))
	return token, nil
}

// ReplaceToken swaps old for replacement in the primary token list. The replacement
// is never written twice; if old is already gone, it is appended.
func (c *Coordinator) ReplaceToken(old, replacement string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaceLocked(old, replacement)
}

func (c *Coordinator) replaceLocked(old, replacement string) error {
	lines, err := c.cfg.Tokens.Read()
	if err != nil {
		return fmt.Errorf("failed to read tokens: %w", err)
	}

	out := make([]string, 0, len(lines)+1)
	replaced := false
	for _, line := range lines {
		switch {
		case line == replacement:
			continue
		case line == old && !replaced:
			out = append(out, replacement)
			replaced = true
		default:
			out = append(out, line)
		}
	}
	if !replaced {
		out = append(out, replacement)
	}

	if err := c.cfg.Tokens.Write(out); err != nil {
		return fmt.Errorf("failed to write tokens: %w", err)
	}
	c.log.Debug("shared: replaced token", "old_present", replaced)
	return nil
}

// ReplaceWithSpare takes a spare token and records it in place of old, as one
// atomic step with respect to other wallets.
func (c *Coordinator) ReplaceWithSpare(old string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.acquireLocked()
	if err != nil {
		return "", err
	}
	if err := c.replaceLocked(old, token); err != nil {
		return "", err
	}
	c.log.Info("shared: substituted spare token", "spare_left", len(c.spare))
	return token, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
