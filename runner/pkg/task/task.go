// Package task defines the handler capability that executes one named plan step,
// and the registry that maps task names to handlers.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/questrunner/runner/pkg/captcha"
	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/plan"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
)

// Handler executes one task for one wallet. Implementations may be invoked again
// after a failure, so they must tolerate repeated submission. The error kind
// (see utils/pkg/retry) tells the runner whether to retry, give up, or treat the
// step as already satisfied.
type Handler interface {
	Execute(ctx context.Context, env *Env) error
}

type HandlerFunc func(ctx context.Context, env *Env) error

func (f HandlerFunc) Execute(ctx context.Context, env *Env) error { return f(ctx, env) }

// Env is everything a handler may use. It is owned by one wallet runner and never
// shared between wallets, except for the Shared coordinator.
type Env struct {
	Log      *slog.Logger
	Identity chain.Identity
	HTTP     *http.Client
	Chain    chain.Client
	Captcha  captcha.Solver
	Clock    clockwork.Clock
	Rand     *rand.Rand

	// Shared is the process-wide coordinator for spare tokens and referral codes.
	Shared SharedResources
	// Social holds the wallet's current social-auth token. Handlers swap it when a
	// spare token is substituted.
	Social *Credential

	// ActionPause separates sub-steps inside one task (mints, swaps).
	ActionPause random.Range
	// ConfirmTimeout bounds each wait for a transaction receipt.
	ConfirmTimeout time.Duration
	// Attempts is the per-request retry budget handlers apply to inner calls.
	Attempts int
}

// Sleep pauses for a draw from r, honoring ctx.
func (e *Env) Sleep(ctx context.Context, r random.Range) error {
	d := r.Seconds(e.Rand)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.Clock.After(d):
		return nil
	}
}

// SharedResources is the slice of the shared coordinator handlers depend on.
type SharedResources interface {
	ReplaceWithSpare(old string) (string, error)
	ReserveReferral(threshold int, self string) (string, bool, error)
	ReleaseReferral(code string)
	RecordReferralUse(code string) error
	RegisterReferralCode(address, code string) (bool, error)
}

// Credential is a mutable token slot owned by one wallet.
type Credential struct {
	mu    sync.Mutex
	value string
}

func NewCredential(v string) *Credential { return &Credential{value: v} }

func (c *Credential) Get() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Credential) Set(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

// Registry maps normalized task names to handlers. The "skip" task is always
// present and does nothing.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	r.handlers[plan.SkipTask] = HandlerFunc(func(context.Context, *Env) error { return nil })
	return r
}

// Register adds h under name. Registering a name twice is a programming error.
func (r *Registry) Register(name string, h Handler) {
	key := plan.NormalizeName(name)
	if _, ok := r.handlers[key]; ok {
		panic(fmt.Sprintf("task: handler %q registered twice", key))
	}
	r.handlers[key] = h
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[plan.NormalizeName(name)]
	return h, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
