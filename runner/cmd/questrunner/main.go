package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/questrunner/runner/pkg/config"
	"github.com/malbeclabs/questrunner/runner/pkg/fleet"
	"github.com/malbeclabs/questrunner/runner/pkg/ledger"
	"github.com/malbeclabs/questrunner/runner/pkg/metrics"
	"github.com/malbeclabs/questrunner/runner/pkg/notify"
	"github.com/malbeclabs/questrunner/runner/pkg/plan"
	"github.com/malbeclabs/questrunner/runner/pkg/server"
	"github.com/malbeclabs/questrunner/runner/pkg/shared"
	"github.com/malbeclabs/questrunner/runner/pkg/sites"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/runner/pkg/wallet"
	"github.com/malbeclabs/questrunner/utils/pkg/flock"
	"github.com/malbeclabs/questrunner/utils/pkg/linestore"
	"github.com/malbeclabs/questrunner/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const lockFileName = ".questrunner.lock"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; the YAML and real environment still apply.
	_ = godotenv.Load()

	configFlag := flag.String("config", config.DefaultPath, "Path to the YAML configuration")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	logFileFlag := flag.String("log-file", "", "Also write logs, without color, to this file")
	metricsAddrFlag := flag.String("metrics-addr", "", "Address to serve prometheus metrics on (empty disables)")
	statusAddrFlag := flag.String("status-addr", "", "Address to serve the status API on (empty disables)")
	accountsFlag := flag.String("accounts", "", "Accounts to run, e.g. 1-5 or 2,4,7 (overrides the configured selection)")
	flag.Parse()

	log := logger.New(*verboseFlag)
	if *logFileFlag != "" {
		fileLog, closeLog, err := logger.NewWithFile(*logFileFlag, *verboseFlag)
		if err != nil {
			return err
		}
		defer func() { _ = closeLog() }()
		log = fileLog
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if err := cfg.Settings.ParseAccounts(*accountsFlag); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var notifiers notify.Multi
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		reporter := notify.NewSentry(nil)
		defer reporter.Flush(5 * time.Second)
		notifiers = append(notifiers, reporter)
		log.Info("sentry error reporting enabled")
	}

	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir(), lockFileName))
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	if *metricsAddrFlag != "" {
		go serveMetrics(log, *metricsAddrFlag)
	}

	store, err := ledger.Open(ctx, ledger.Config{
		Logger:  log,
		Driver:  cfg.Ledger.Driver,
		DSN:     cfg.LedgerDSN(),
		Migrate: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	coordinator, err := shared.New(shared.Config{
		Logger:      log,
		SpareTokens: linestore.New(cfg.Path(cfg.Data.SpareTwitterTokens)),
		Tokens:      linestore.New(cfg.Path(cfg.Data.TwitterTokens)),
		Referrals:   linestore.New(cfg.Path(cfg.Data.ReferralCodes)),
	})
	if err != nil {
		return err
	}

	tasks := task.NewRegistry()
	if err := sites.Register(tasks, sites.FromConfig(cfg)); err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}
	if err := plan.CheckNode(cfg.Registry(), cfg.Root(), 0, tasks.Has); err != nil {
		return fmt.Errorf("%w: flow: %w", config.ErrInvalid, err)
	}
	resolver, err := plan.NewResolver(plan.ResolverConfig{Registry: cfg.Registry()})
	if err != nil {
		return err
	}

	var captchaLimiter *rate.Limiter
	if n := cfg.Captcha.RequestsPerMinute; n > 0 {
		captchaLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
	captchaProvider, captchaKey := cfg.Captcha.Provider()
	sessions, err := wallet.NewNetSessions(wallet.NetSessionsConfig{
		Logger:              log,
		RPCURLs:             cfg.RPCs.ZeroG,
		UseProxyForRPC:      cfg.Others.UseProxyForRPC,
		SkipSSLVerification: cfg.Others.SkipSSLVerification,
		ConfirmTimeout:      cfg.Settings.ConfirmTimeout(),
		GasMultiplier:       cfg.Others.GasMultiplier,
		CaptchaProvider:     captchaProvider,
		CaptchaAPIKey:       captchaKey,
		CaptchaLimiter:      captchaLimiter,
	})
	if err != nil {
		return err
	}

	chat, err := chatNotifiers(log, cfg.Notify)
	if err != nil {
		return err
	}
	notifiers = append(notifiers, chat...)

	all, err := cfg.LoadWallets()
	if err != nil {
		return err
	}
	wallets, err := cfg.Settings.SelectWallets(all)
	if err != nil {
		return err
	}

	tracker := wallet.NewTracker()
	for _, w := range wallets {
		tracker.Set(wallet.Status{Index: w.Identity.Index, Address: w.Identity.WalletKey(), State: wallet.StateQueued})
	}
	if *statusAddrFlag != "" {
		srv, err := server.New(server.Config{
			Logger:      log,
			ListenAddr:  *statusAddrFlag,
			VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
			Tracker:     tracker,
			Ledger:      store,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("status server stopped", "error", err)
			}
		}()
	}

	runner, err := wallet.NewRunner(wallet.Config{
		Logger:         log,
		Ledger:         store,
		Resolver:       resolver,
		Flow:           cfg.Root(),
		Tasks:          tasks,
		Sessions:       sessions,
		Shared:         coordinator,
		Notifier:       notifiers,
		Tracker:        tracker,
		Retry:          cfg.Settings.Retry(),
		StepPause:      cfg.Settings.RandomPauseBetweenActions,
		ActionPause:    cfg.Settings.PauseBetweenSwaps,
		ConfirmTimeout: cfg.Settings.ConfirmTimeout(),
		SkipFailed:     cfg.Flow.SkipFailedTasks,
	})
	if err != nil {
		return err
	}

	orchestrator, err := fleet.New(fleet.Config{
		Logger:       log,
		Runner:       runner,
		Notifier:     notifiers,
		Threads:      cfg.Settings.Threads,
		Shuffle:      cfg.Settings.ShuffleWallets,
		InitPause:    cfg.Settings.RandomInitializationPause,
		AccountPause: cfg.Settings.RandomPauseBetweenAccounts,
	})
	if err != nil {
		return err
	}

	log.Info("questrunner starting",
		"version", version,
		"wallets", len(wallets),
		"threads", cfg.Settings.Threads,
		"spare_tokens", coordinator.SpareCount())

	summary, err := orchestrator.Run(ctx, wallets)
	if errors.Is(err, context.Canceled) {
		log.Info("run interrupted", "finished_wallets", len(summary.Reports), "skipped_wallets", summary.Skipped)
		return nil
	}
	if err != nil {
		return err
	}
	if fatal := summary.Fatal(); len(fatal) > 0 {
		return fmt.Errorf("%d of %d wallets stopped on a fatal error", len(fatal), len(summary.Reports))
	}
	return nil
}

func chatNotifiers(log *slog.Logger, cfg config.Notify) (notify.Multi, error) {
	var out notify.Multi
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Logger:       log,
			BotToken:     cfg.Telegram.BotToken,
			ChatIDs:      cfg.Telegram.UserIDs,
			OnlyExecuted: cfg.OnlyExecuted,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		out = append(out, tg)
	}
	if cfg.Slack.Enabled {
		sl, err := notify.NewSlack(notify.SlackConfig{
			Logger:       log,
			BotToken:     cfg.Slack.BotToken,
			ChannelID:    cfg.Slack.ChannelID,
			OnlyExecuted: cfg.OnlyExecuted,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: %w", err)
		}
		out = append(out, sl)
	}
	return out, nil
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to start prometheus metrics server listener", "error", err)
		return
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(listener, mux); err != nil {
		log.Error("failed to start prometheus metrics server", "error", err)
	}
}
