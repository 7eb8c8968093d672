// Package notify delivers wallet reports to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/malbeclabs/questrunner/runner/pkg/metrics"
	"github.com/malbeclabs/questrunner/runner/pkg/wallet"
	"github.com/malbeclabs/questrunner/utils/pkg/logger"
)

type Notifier interface {
	NotifyReport(ctx context.Context, r wallet.Report) error
	NotifyError(ctx context.Context, index int, address string, err error) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyReport(context.Context, wallet.Report) error     { return nil }
func (Nop) NotifyError(context.Context, int, string, error) error { return nil }

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyReport(ctx context.Context, r wallet.Report) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyReport(ctx, r))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyError(ctx context.Context, index int, address string, err error) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyError(ctx, index, address, err))
	}
	return errors.Join(errs...)
}

// Format selects the markup used by FormatReport.
type Format int

const (
	FormatHTML Format = iota
	FormatMrkdwn
)

func (f Format) bold(s string) string {
	if f == FormatHTML {
		return "<b>" + html.EscapeString(s) + "</b>"
	}
	return "*" + s + "*"
}

func (f Format) text(s string) string {
	if f == FormatHTML {
		return html.EscapeString(s)
	}
	return s
}

// FormatReport renders a wallet report as a chat message.
func FormatReport(r wallet.Report, f Format) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", f.bold(fmt.Sprintf("Account #%d | %s", r.Index, logger.ShortAddress(r.Address))))

	if len(r.Completed) > 0 {
		fmt.Fprintf(&b, "\n%s\n", f.bold("Completed"))
		for _, name := range r.Completed {
			fmt.Fprintf(&b, "✅ %s\n", f.text(name))
		}
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, "\n%s\n", f.bold("Failed"))
		for _, name := range r.Failed {
			fmt.Fprintf(&b, "❌ %s\n", f.text(name))
		}
	}

	fmt.Fprintf(&b, "\n%s\n", f.bold("Stats"))
	fmt.Fprintf(&b, "Total tasks: %d\n", r.Total())
	fmt.Fprintf(&b, "Completed: %d\n", len(r.Completed))
	fmt.Fprintf(&b, "Failed: %d\n", len(r.Failed))
	fmt.Fprintf(&b, "Success rate: %.0f%%\n", r.SuccessRate())
	fmt.Fprintf(&b, "State: %s\n", r.State)
	if r.Fatal != nil {
		fmt.Fprintf(&b, "Error: %s\n", f.text(r.Fatal.Error()))
	}

	fmt.Fprintf(&b, "\n%s\n", f.bold("Settings"))
	skip := "No"
	if r.SkipFailed {
		skip = "Yes"
	}
	fmt.Fprintf(&b, "Skip failed: %s\n", skip)
	return b.String()
}

// FormatError renders a fatal wallet error as a chat message.
func FormatError(index int, address string, err error, f Format) string {
	return fmt.Sprintf("%s\n%s", f.bold(fmt.Sprintf("Account #%d | %s stopped", index, logger.ShortAddress(address))), f.text(err.Error()))
}

func observe(channel string, err error) error {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.NotificationsTotal.WithLabelValues(channel, status).Inc()
	return err
}
