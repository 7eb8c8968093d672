package notify

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/malbeclabs/questrunner/runner/pkg/wallet"
)

// Sentry reports fatal wallet errors as Sentry events. Reports are not sent.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry uses hub, or the current hub when nil.
func NewSentry(hub *sentry.Hub) *Sentry {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &Sentry{hub: hub}
}

func (s *Sentry) NotifyReport(context.Context, wallet.Report) error { return nil }

func (s *Sentry) NotifyError(ctx context.Context, index int, address string, err error) error {
	hub := s.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("address", address)
		scope.SetContext("wallet", sentry.Context{"index": index, "address": address})
	})
	hub.CaptureException(err)
	return observe("sentry", nil)
}

// Flush waits up to timeout for buffered events to be delivered.
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
