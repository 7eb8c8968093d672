package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/questrunner/runner/pkg/captcha"
	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/plan"
	"github.com/malbeclabs/questrunner/runner/pkg/wallet"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
	runtesting "github.com/malbeclabs/questrunner/utils/pkg/testing"
)

const sampleYAML = `
settings:
  threads: 4
  attempts: 3
  accounts_range: [2, 3]
  pause_between_attempts: [1, 2]
  random_initialization_pause: 0
  shuffle_wallets: false
  retry_backoff_multiplier: 2
flow:
  tasks: [daily]
  skip_failed_tasks: true
tasks:
  daily:
    - faucet
    - random_order: [storagescan_deploy, mintair_deploy]
    - one_of: [puzzlemania, easynode_deploy]
  FAUCET: [faucet]
captcha:
  use_nocaptcha: false
  solvium_api_key: from-file
rpcs:
  zerog: ["https://evmrpc-testnet.0g.ai"]
zero_exchange_swaps:
  balance_percent_to_swap: {min: 10, max: 20}
  number_of_swaps: 2
`

func TestConfig_Parse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Settings.Threads)
	require.Equal(t, 3, cfg.Settings.Attempts)
	require.Equal(t, random.Range{Min: 1, Max: 2}, cfg.Settings.PauseBetweenAttempts)
	require.Equal(t, random.Fixed(0), cfg.Settings.RandomInitializationPause)
	require.False(t, cfg.Settings.ShuffleWallets)
	require.True(t, cfg.Flow.SkipFailedTasks)
	require.Equal(t, 120, cfg.Settings.WaitForTransactionConfirmationSeconds, "default kept")
	require.Equal(t, random.Range{Min: 10, Max: 20}, cfg.Swaps.BalancePercentToSwap)
	require.Equal(t, random.Fixed(2), cfg.Swaps.NumberOfSwaps)

	provider, key := cfg.Captcha.Provider()
	require.Equal(t, captcha.ProviderSolvium, provider)
	require.Equal(t, "from-file", key)

	reg := cfg.Registry()
	_, ok := reg.Lookup("faucet")
	require.True(t, ok, "registry keys are case-insensitive")

	resolver, err := plan.NewResolver(plan.ResolverConfig{Registry: reg})
	require.NoError(t, err)
	tasks, err := resolver.ResolveNode(cfg.Root())
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	require.Equal(t, "faucet", tasks[0])
	require.ElementsMatch(t, []string{"storagescan_deploy", "mintair_deploy"}, tasks[1:3])
	require.Contains(t, []string{"puzzlemania", "easynode_deploy"}, tasks[3])
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Parallel()

	cfg := Default()
	env := map[string]string{
		"CAPTCHA_SOLVIUM_API_KEY": "env-key",
		"TELEGRAM_BOT_TOKEN":      "123:abc",
		"TELEGRAM_USER_IDS":       "11, 22,x",
		"LEDGER_DSN":              "postgres://localhost/ledger",
		"SLACK_BOT_TOKEN":         "",
	}
	cfg.Notify.Slack.BotToken = "keep"
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Equal(t, "env-key", cfg.Captcha.SolviumAPIKey)
	require.Equal(t, "123:abc", cfg.Notify.Telegram.BotToken)
	require.Equal(t, []int64{11, 22}, cfg.Notify.Telegram.UserIDs)
	require.Equal(t, "postgres://localhost/ledger", cfg.LedgerDSN())
	require.Equal(t, "keep", cfg.Notify.Slack.BotToken)
}

func TestConfig_ValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{name: "no flow", yaml: "rpcs: {zerog: [x]}", errMsg: "flow.tasks"},
		{name: "no rpcs", yaml: "flow: {tasks: [faucet]}", errMsg: "rpcs.zerog"},
		{name: "zero threads", yaml: "settings: {threads: 0}\nflow: {tasks: [faucet]}\nrpcs: {zerog: [x]}", errMsg: "threads"},
		{name: "inverted range", yaml: "settings: {pause_between_swaps: [9, 1]}\nflow: {tasks: [faucet]}\nrpcs: {zerog: [x]}", errMsg: "pause_between_swaps"},
		{name: "cycle", yaml: "tasks: {a: [b], b: [a]}\nflow: {tasks: [a]}\nrpcs: {zerog: [x]}", errMsg: "cyclic"},
		{name: "bad group", yaml: "tasks: {a: {shuffle: [b]}}\nflow: {tasks: [a]}\nrpcs: {zerog: [x]}", errMsg: "unknown group"},
		{name: "telegram without token", yaml: "notify: {telegram: {enabled: true}}\nflow: {tasks: [faucet]}\nrpcs: {zerog: [x]}", errMsg: "notify.telegram"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalid)
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

const (
	key1 = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	key2 = "0x8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63"
	key3 = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

func newDataDir(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(data, 0o755))
	runtesting.WriteLines(t, data, "private_keys.txt", "# main", key1, "", key2, key3)
	runtesting.WriteLines(t, data, "proxies.txt", "user:pass@10.0.0.1:8080", "10.0.0.2:8080")
	runtesting.WriteLines(t, data, "twitter_tokens.txt", "tok1", "tok2")

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flow: {tasks: [faucet]}\nrpcs: {zerog: [x]}\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	return cfg
}

func TestConfig_LoadWallets(t *testing.T) {
	t.Parallel()

	cfg := newDataDir(t)
	wallets, err := cfg.LoadWallets()
	require.NoError(t, err)
	require.Len(t, wallets, 3)

	want, err := chain.ParseIdentity(1, key1)
	require.NoError(t, err)
	require.Equal(t, want.Address, wallets[0].Identity.Address)
	require.Equal(t, []int{1, 2, 3}, []int{wallets[0].Identity.Index, wallets[1].Identity.Index, wallets[2].Identity.Index})
	require.Equal(t, "user:pass@10.0.0.1:8080", wallets[0].Proxy)
	require.Equal(t, "10.0.0.2:8080", wallets[1].Proxy)
	require.Equal(t, "user:pass@10.0.0.1:8080", wallets[2].Proxy, "proxies cycle")
	require.Equal(t, "tok2", wallets[1].SocialToken)
	require.Empty(t, wallets[2].SocialToken)
}

func TestConfig_LoadWalletsRejectsBadKey(t *testing.T) {
	t.Parallel()

	cfg := newDataDir(t)
	runtesting.WriteLines(t, cfg.DataDir(), "private_keys.txt", "not-a-key")
	_, err := cfg.LoadWallets()
	require.ErrorIs(t, err, ErrInvalid)
	require.NotContains(t, err.Error(), "not-a-key")
}

func TestConfig_SelectWallets(t *testing.T) {
	t.Parallel()

	all := make([]wallet.Wallet, 5)
	for i := range all {
		all[i].Identity.Index = i + 1
	}
	indexes := func(ws []wallet.Wallet) []int {
		out := make([]int, len(ws))
		for i, w := range ws {
			out[i] = w.Identity.Index
		}
		return out
	}

	got, err := Settings{AccountsRange: []int{0, 0}}.SelectWallets(all)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5}, indexes(got))

	got, err = Settings{AccountsRange: []int{2, 4}}.SelectWallets(all)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 4}, indexes(got))

	got, err = Settings{AccountsRange: []int{2, 4}, ExactAccountsToUse: []int{5, 1}}.SelectWallets(all)
	require.NoError(t, err)
	require.Equal(t, []int{5, 1}, indexes(got))

	_, err = Settings{ExactAccountsToUse: []int{9}}.SelectWallets(all)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Settings{AccountsRange: []int{7, 9}}.SelectWallets(all)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestConfig_ParseAccounts(t *testing.T) {
	t.Parallel()

	var s Settings
	require.NoError(t, s.ParseAccounts("2-4"))
	require.Equal(t, []int{2, 4}, s.AccountsRange)

	require.NoError(t, s.ParseAccounts("3,1 7"))
	require.Equal(t, []int{3, 1, 7}, s.ExactAccountsToUse)

	require.Error(t, s.ParseAccounts("4-2"))
	require.Error(t, s.ParseAccounts("a,b"))
}

func TestConfig_SettingsRetry(t *testing.T) {
	t.Parallel()

	s := Default().Settings
	s.Attempts = 4
	s.PauseBetweenAttempts = random.Range{Min: 5, Max: 20}
	s.RetryBackoffMultiplier = 1

	cfg := s.Retry()
	require.Equal(t, 4, cfg.MaxAttempts)
	require.Equal(t, 20*time.Second, cfg.BaseBackoff)
	require.InDelta(t, 0.75, cfg.Jitter, 1e-9)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 20*time.Second, cfg.Delay(3), "a multiplier of 1 keeps every wait inside the configured range")

	s.RetryBackoffMultiplier = 2
	require.Equal(t, 40*time.Second, s.Retry().Delay(2))

	s.PauseBetweenAttempts = random.Range{}
	cfg = s.Retry()
	require.Zero(t, cfg.BaseBackoff)
	require.Zero(t, cfg.Jitter)
}
