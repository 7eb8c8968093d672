// Package config loads the runner configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/malbeclabs/questrunner/runner/pkg/captcha"
	"github.com/malbeclabs/questrunner/runner/pkg/ledger"
	"github.com/malbeclabs/questrunner/runner/pkg/plan"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

var ErrInvalid = errors.New("invalid configuration")

const DefaultPath = "config.yaml"

type Config struct {
	Settings    Settings             `yaml:"settings"`
	Flow        Flow                 `yaml:"flow"`
	Tasks       map[string]plan.Node `yaml:"tasks"`
	Captcha     Captcha              `yaml:"captcha"`
	RPCs        RPCs                 `yaml:"rpcs"`
	Others      Others               `yaml:"others"`
	Puzzlemania Puzzlemania          `yaml:"puzzlemania"`
	HubSwaps    Swaps                `yaml:"hub_0g_swaps"`
	Swaps       Swaps                `yaml:"zero_exchange_swaps"`
	Ledger      Ledger               `yaml:"ledger"`
	Notify      Notify               `yaml:"notify"`
	Data        Data                 `yaml:"data"`

	// dir is the directory of the loaded file; relative data paths resolve against it.
	dir string
}

type Settings struct {
	Threads  int `yaml:"threads"`
	Attempts int `yaml:"attempts"`
	// AccountsRange is a 1-based inclusive [start, end]; [0, 0] selects every wallet.
	AccountsRange []int `yaml:"accounts_range"`
	// ExactAccountsToUse overrides AccountsRange when not empty.
	ExactAccountsToUse []int `yaml:"exact_accounts_to_use"`

	PauseBetweenAttempts       random.Range `yaml:"pause_between_attempts"`
	PauseBetweenSwaps          random.Range `yaml:"pause_between_swaps"`
	RandomPauseBetweenAccounts random.Range `yaml:"random_pause_between_accounts"`
	RandomPauseBetweenActions  random.Range `yaml:"random_pause_between_actions"`
	RandomInitializationPause  random.Range `yaml:"random_initialization_pause"`

	ShuffleWallets                        bool    `yaml:"shuffle_wallets"`
	WaitForTransactionConfirmationSeconds int     `yaml:"wait_for_transaction_confirmation_in_seconds"`
	RetryBackoffMultiplier                float64 `yaml:"retry_backoff_multiplier"`
}

// Retry maps the attempt settings onto a retry policy. With a multiplier of 1
// every wait is drawn from pause_between_attempts; larger multipliers stretch
// both bounds for each further attempt.
func (s Settings) Retry() retry.Config {
	cfg := retry.Config{
		MaxAttempts: s.Attempts,
		BaseBackoff: time.Duration(s.PauseBetweenAttempts.Max) * time.Second,
		Multiplier:  s.RetryBackoffMultiplier,
	}
	if s.PauseBetweenAttempts.Max > 0 {
		cfg.Jitter = 1 - float64(s.PauseBetweenAttempts.Min)/float64(s.PauseBetweenAttempts.Max)
	}
	return cfg
}

// ConfirmTimeout is the receipt wait bound for every transaction.
func (s Settings) ConfirmTimeout() time.Duration {
	return time.Duration(s.WaitForTransactionConfirmationSeconds) * time.Second
}

type Flow struct {
	// Tasks are root nodes resolved in order and concatenated into one plan.
	Tasks           []plan.Node `yaml:"tasks"`
	SkipFailedTasks bool        `yaml:"skip_failed_tasks"`
}

type Captcha struct {
	SolviumAPIKey   string `yaml:"solvium_api_key"`
	NoCaptchaAPIKey string `yaml:"nocaptcha_api_key"`
	UseNoCaptcha    bool   `yaml:"use_nocaptcha"`
	// RequestsPerMinute caps captcha solves across the whole fleet. Zero disables the limit.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider returns the selected captcha provider and its key.
func (c Captcha) Provider() (string, string) {
	if c.UseNoCaptcha {
		return captcha.ProviderNoCaptcha, c.NoCaptchaAPIKey
	}
	return captcha.ProviderSolvium, c.SolviumAPIKey
}

type RPCs struct {
	ZeroG []string `yaml:"zerog"`
}

type Others struct {
	SkipSSLVerification bool    `yaml:"skip_ssl_verification"`
	UseProxyForRPC      bool    `yaml:"use_proxy_for_rpc"`
	GasMultiplier       float64 `yaml:"gas_multiplier"`
}

type Puzzlemania struct {
	UseReferralCode        bool         `yaml:"use_referral_code"`
	InvitesPerReferralCode random.Range `yaml:"invites_per_referral_code"`
	CollectReferralCode    bool         `yaml:"collect_referral_code"`
}

type Swaps struct {
	BalancePercentToSwap random.Range `yaml:"balance_percent_to_swap"`
	NumberOfSwaps        random.Range `yaml:"number_of_swaps"`
	// Router and Tokens replace the built-in deployment when set.
	Router string            `yaml:"router"`
	Tokens map[string]string `yaml:"tokens"`
}

type Ledger struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Notify struct {
	Telegram Telegram `yaml:"telegram"`
	Slack    Slack    `yaml:"slack"`
	// OnlyExecuted drops reports of wallets that had nothing left to do.
	OnlyExecuted bool `yaml:"only_executed"`
}

type Telegram struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	UserIDs  []int64 `yaml:"user_ids"`
}

type Slack struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

type Data struct {
	Dir                string `yaml:"dir"`
	PrivateKeys        string `yaml:"private_keys"`
	Proxies            string `yaml:"proxies"`
	TwitterTokens      string `yaml:"twitter_tokens"`
	SpareTwitterTokens string `yaml:"spare_twitter_tokens"`
	ReferralCodes      string `yaml:"referral_codes"`
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		Settings: Settings{
			Threads:                               1,
			Attempts:                              5,
			AccountsRange:                         []int{0, 0},
			PauseBetweenAttempts:                  random.Range{Min: 3, Max: 10},
			PauseBetweenSwaps:                     random.Range{Min: 5, Max: 15},
			RandomPauseBetweenAccounts:            random.Range{Min: 3, Max: 10},
			RandomPauseBetweenActions:             random.Range{Min: 3, Max: 10},
			RandomInitializationPause:             random.Range{Min: 5, Max: 30},
			ShuffleWallets:                        true,
			WaitForTransactionConfirmationSeconds: 120,
			RetryBackoffMultiplier:                1,
		},
		Captcha:     Captcha{UseNoCaptcha: true},
		Others:      Others{GasMultiplier: 1.2},
		Puzzlemania: Puzzlemania{InvitesPerReferralCode: random.Range{Min: 5, Max: 10}},
		HubSwaps: Swaps{
			BalancePercentToSwap: random.Range{Min: 5, Max: 10},
			NumberOfSwaps:        random.Range{Min: 1, Max: 3},
		},
		Swaps: Swaps{
			BalancePercentToSwap: random.Range{Min: 5, Max: 10},
			NumberOfSwaps:        random.Range{Min: 1, Max: 3},
		},
		Ledger: Ledger{Driver: ledger.DriverSQLite, DSN: "data/ledger.db"},
		Data: Data{
			Dir:                "data",
			PrivateKeys:        "private_keys.txt",
			Proxies:            "proxies.txt",
			TwitterTokens:      "twitter_tokens.txt",
			SpareTwitterTokens: "spare_twitter_tokens.txt",
			ReferralCodes:      "referral_codes.txt",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies environment overrides and validates.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and the ledger DSN from the environment when set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Captcha.SolviumAPIKey, "CAPTCHA_SOLVIUM_API_KEY")
	set(&c.Captcha.NoCaptchaAPIKey, "CAPTCHA_NOCAPTCHA_API_KEY")
	set(&c.Notify.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	set(&c.Notify.Slack.BotToken, "SLACK_BOT_TOKEN")
	set(&c.Notify.Slack.ChannelID, "SLACK_CHANNEL_ID")
	set(&c.Ledger.DSN, "LEDGER_DSN")
	set(&c.Ledger.Driver, "LEDGER_DRIVER")

	if v, ok := lookup("TELEGRAM_USER_IDS"); ok && v != "" {
		var ids []int64
		for _, f := range splitList(v) {
			if id, err := strconv.ParseInt(f, 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			c.Notify.Telegram.UserIDs = ids
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	s := c.Settings
	if s.Threads < 1 {
		fail("settings.threads must be at least 1")
	}
	if s.Attempts < 1 {
		fail("settings.attempts must be at least 1")
	}
	if len(s.AccountsRange) != 2 {
		fail("settings.accounts_range must have two values")
	} else if s.AccountsRange[0] < 0 || s.AccountsRange[1] < 0 || (s.AccountsRange[1] != 0 && s.AccountsRange[1] < s.AccountsRange[0]) {
		fail("settings.accounts_range %v is invalid", s.AccountsRange)
	}
	for _, idx := range s.ExactAccountsToUse {
		if idx < 1 {
			fail("settings.exact_accounts_to_use: account %d is not 1-based", idx)
		}
	}
	for name, r := range map[string]random.Range{
		"settings.pause_between_attempts":             s.PauseBetweenAttempts,
		"settings.pause_between_swaps":                s.PauseBetweenSwaps,
		"settings.random_pause_between_accounts":      s.RandomPauseBetweenAccounts,
		"settings.random_pause_between_actions":       s.RandomPauseBetweenActions,
		"settings.random_initialization_pause":        s.RandomInitializationPause,
		"puzzlemania.invites_per_referral_code":       c.Puzzlemania.InvitesPerReferralCode,
		"zero_exchange_swaps.balance_percent_to_swap": c.Swaps.BalancePercentToSwap,
		"zero_exchange_swaps.number_of_swaps":         c.Swaps.NumberOfSwaps,
		"hub_0g_swaps.balance_percent_to_swap":        c.HubSwaps.BalancePercentToSwap,
		"hub_0g_swaps.number_of_swaps":                c.HubSwaps.NumberOfSwaps,
	} {
		if err := r.Validate(); err != nil {
			fail("%s: %w", name, err)
		}
	}
	for name, sw := range map[string]Swaps{"hub_0g_swaps": c.HubSwaps, "zero_exchange_swaps": c.Swaps} {
		if sw.BalancePercentToSwap.Max > 100 {
			fail("%s.balance_percent_to_swap must not exceed 100", name)
		}
		if sw.Router != "" && !common.IsHexAddress(sw.Router) {
			fail("%s.router %q is not an address", name, sw.Router)
		}
		for sym, addr := range sw.Tokens {
			if !common.IsHexAddress(addr) {
				fail("%s.tokens.%s %q is not an address", name, sym, addr)
			}
		}
	}
	if s.WaitForTransactionConfirmationSeconds < 1 {
		fail("settings.wait_for_transaction_confirmation_in_seconds must be positive")
	}
	if s.RetryBackoffMultiplier < 1 {
		fail("settings.retry_backoff_multiplier must be at least 1")
	}
	if c.Others.GasMultiplier < 1 {
		fail("others.gas_multiplier must be at least 1")
	}

	if len(c.Flow.Tasks) == 0 {
		fail("flow.tasks must not be empty")
	}
	if err := plan.Check(c.Registry(), 0, nil); err != nil {
		fail("tasks: %w", err)
	}
	if len(c.RPCs.ZeroG) == 0 {
		fail("rpcs.zerog must list at least one endpoint")
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || len(c.Notify.Telegram.UserIDs) == 0) {
		fail("notify.telegram requires bot_token and user_ids")
	}
	if c.Notify.Slack.Enabled && (c.Notify.Slack.BotToken == "" || c.Notify.Slack.ChannelID == "") {
		fail("notify.slack requires bot_token and channel_id")
	}
	if c.Ledger.DSN == "" {
		fail("ledger.dsn is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Registry returns the named task lists.
func (c *Config) Registry() plan.Registry {
	return plan.NewRegistry(c.Tasks)
}

// Root is the top-level flow node every new wallet plan is resolved from.
func (c *Config) Root() plan.Node {
	return plan.Sequential(c.Flow.Tasks...)
}

// Path resolves a data file name against the data directory, which is itself
// relative to the config file.
func (c *Config) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	dir := c.Data.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.dir, dir)
	}
	return filepath.Join(dir, name)
}

// DataDir is the resolved data directory.
func (c *Config) DataDir() string { return c.Path(".") }

// LedgerDSN resolves a relative SQLite path against the config directory.
func (c *Config) LedgerDSN() string {
	dsn := c.Ledger.DSN
	if c.Ledger.Driver == ledger.DriverPostgres || strings.Contains(dsn, "://") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(c.dir, dsn)
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
