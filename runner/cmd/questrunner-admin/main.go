package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/questrunner/runner/internal/admin"
	"github.com/malbeclabs/questrunner/runner/pkg/config"
	"github.com/malbeclabs/questrunner/runner/pkg/ledger"
	"github.com/malbeclabs/questrunner/utils/pkg/logger"
)

const showAll = "all"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Ledger location
	configFlag := flag.String("config", config.DefaultPath, "Path to the YAML configuration the ledger location is read from")
	ledgerDriverFlag := flag.String("ledger-driver", "", "Ledger driver, sqlite or postgres (overrides the configuration, or set LEDGER_DRIVER env var)")
	ledgerDSNFlag := flag.String("ledger-dsn", "", "Ledger DSN (overrides the configuration, or set LEDGER_DSN env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Apply pending ledger migrations")
	migrateDownFlag := flag.Bool("migrate-down", false, "Roll back the most recent ledger migration")
	migrateStatusFlag := flag.Bool("migrate-status", false, "Show ledger migration status")
	showFlag := flag.String("show", "", "Show the stored plan of a wallet address, or a summary of every wallet when no address is given")
	flag.Lookup("show").NoOptDefVal = showAll
	resetFlag := flag.String("reset", "", "Delete the stored plan of a wallet address so the next run resolves a new one")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if *ledgerDSNFlag == "" {
		*ledgerDSNFlag = os.Getenv("LEDGER_DSN")
	}
	if *ledgerDriverFlag == "" {
		*ledgerDriverFlag = os.Getenv("LEDGER_DRIVER")
	}

	ledgerCfg, err := ledgerConfig(*configFlag, *ledgerDriverFlag, *ledgerDSNFlag)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := admin.New(admin.Config{
		Logger: log,
		Ledger: ledgerCfg,
		Out:    os.Stdout,
		In:     os.Stdin,
	})
	if err != nil {
		return err
	}

	switch {
	case *migrateFlag:
		return a.MigrateUp(ctx)
	case *migrateDownFlag:
		return a.MigrateDown(ctx)
	case *migrateStatusFlag:
		return a.MigrateStatus(ctx)
	case flag.CommandLine.Changed("show"):
		address := *showFlag
		if address == showAll {
			address = ""
		}
		return a.Show(ctx, address)
	case flag.CommandLine.Changed("reset"):
		if *resetFlag == "" {
			return fmt.Errorf("--reset requires a wallet address")
		}
		return a.Reset(ctx, *resetFlag, *dryRunFlag, *yesFlag)
	}

	flag.Usage()
	return nil
}

// ledgerConfig reads the ledger location from the runner configuration, with
// flags taking precedence. A missing configuration file is fine when a DSN is
// given on the command line.
func ledgerConfig(path, driver, dsn string) (ledger.Config, error) {
	var cfg ledger.Config
	c, err := config.Load(path)
	switch {
	case err == nil:
		cfg.Driver = c.Ledger.Driver
		cfg.DSN = c.LedgerDSN()
	case dsn == "" || !errors.Is(err, os.ErrNotExist):
		return cfg, err
	}
	if driver != "" {
		cfg.Driver = driver
	}
	if dsn != "" {
		cfg.DSN = dsn
	}
	return cfg, nil
}
