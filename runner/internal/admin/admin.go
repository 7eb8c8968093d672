// Package admin implements the ledger maintenance commands.
package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/questrunner/runner/pkg/ledger"
)

type Config struct {
	Logger *slog.Logger
	Ledger ledger.Config
	// Out receives command output; In answers confirmation prompts.
	Out io.Writer
	In  io.Reader
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.In == nil {
		cfg.In = strings.NewReader("")
	}
	cfg.Ledger.Logger = cfg.Logger
	cfg.Ledger.Migrate = false
	return cfg.Ledger.Validate()
}

type Admin struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Admin{log: cfg.Logger, cfg: cfg}, nil
}

func (a *Admin) MigrateUp(ctx context.Context) error {
	db, err := ledger.OpenDB(ctx, a.cfg.Ledger)
	if err != nil {
		return err
	}
	defer db.Close()

	a.log.Info("running ledger migrations (up)", "driver", a.cfg.Ledger.Driver)
	if err := ledger.MigrateUp(ctx, a.log, a.cfg.Ledger.Driver, db); err != nil {
		return err
	}
	a.log.Info("ledger migrations completed")
	return nil
}

func (a *Admin) MigrateDown(ctx context.Context) error {
	db, err := ledger.OpenDB(ctx, a.cfg.Ledger)
	if err != nil {
		return err
	}
	defer db.Close()

	a.log.Info("rolling back ledger migration (down)", "driver", a.cfg.Ledger.Driver)
	return ledger.MigrateDown(ctx, a.log, a.cfg.Ledger.Driver, db)
}

func (a *Admin) MigrateStatus(ctx context.Context) error {
	db, err := ledger.OpenDB(ctx, a.cfg.Ledger)
	if err != nil {
		return err
	}
	defer db.Close()

	statuses, err := ledger.MigrateStatus(ctx, a.cfg.Ledger.Driver, db)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.cfg.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tFILE")
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, state, s.Path)
	}
	return w.Flush()
}

// Show prints every step of one wallet's plan, or a per-wallet summary when
// address is empty.
func (a *Admin) Show(ctx context.Context, address string) error {
	store, err := ledger.Open(ctx, a.cfg.Ledger)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(a.cfg.Out, 0, 4, 2, ' ', 0)
	if address == "" {
		wallets, err := store.Wallets(ctx)
		if err != nil {
			return err
		}
		if len(wallets) == 0 {
			fmt.Fprintln(a.cfg.Out, "No wallet plans stored")
			return nil
		}
		fmt.Fprintln(w, "WALLET\tTOTAL\tCOMPLETED\tPENDING\tUPDATED")
		for _, s := range wallets {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", s.WalletKey, s.Total, s.Completed, s.Pending(), formatTime(s.UpdatedAt))
		}
		return w.Flush()
	}

	address = walletKey(address)
	records, err := store.Tasks(ctx, address)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(a.cfg.Out, "No plan stored for %s\n", address)
		return nil
	}
	fmt.Fprintf(a.cfg.Out, "Plan %s for %s\n\n", records[0].PlanID, address)
	fmt.Fprintln(w, "#\tTASK\tSTATUS\tFAILURES\tLAST ERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", r.Position, r.TaskName, r.Status, r.Failures, r.LastError)
	}
	return w.Flush()
}

// Reset drops one wallet's plan after confirmation so the next run resolves a
// fresh one.
func (a *Admin) Reset(ctx context.Context, address string, dryRun, skipConfirm bool) error {
	if address == "" {
		return errors.New("a wallet address is required")
	}
	store, err := ledger.Open(ctx, a.cfg.Ledger)
	if err != nil {
		return err
	}
	defer store.Close()

	address = walletKey(address)
	records, err := store.Tasks(ctx, address)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(a.cfg.Out, "No plan stored for %s\n", address)
		return nil
	}
	completed := 0
	for _, r := range records {
		if r.Status == ledger.StatusCompleted {
			completed++
		}
	}

	fmt.Fprintf(a.cfg.Out, "WARNING: This will DELETE the plan of %s (%d steps, %d completed).\n", address, len(records), completed)
	if dryRun {
		fmt.Fprintln(a.cfg.Out, "[DRY RUN] Would delete the above plan")
		return nil
	}
	if !skipConfirm {
		fmt.Fprint(a.cfg.Out, "Type 'yes' to confirm: ")
		response, err := bufio.NewReader(a.cfg.In).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintln(a.cfg.Out, "\nConfirmation failed. Operation cancelled.")
			return nil
		}
	}

	n, err := store.Reset(ctx, address)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.cfg.Out, "Deleted %d step(s) for %s\n", n, address)
	return nil
}

// walletKey returns the checksum form the ledger keys wallets by.
func walletKey(address string) string {
	if common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
