package dex

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/chain/chaintest"
	"github.com/malbeclabs/questrunner/runner/pkg/task/tasktest"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

var (
	router = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdt   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	eth    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	btc    = common.HexToAddress("0x0000000000000000000000000000000000000003")

	balanceOfSelector = common.FromHex("0x70a08231")
	allowanceSelector = common.FromHex("0xdd62ed3e")
	approveSelector   = common.FromHex("0x095ea7b3")
	swapSelector      = common.FromHex("0x414bf389")
)

func testConfig() Config {
	return Config{
		Router:  router,
		Tokens:  map[string]common.Address{"USDT": usdt, "ETH": eth, "BTC": btc},
		Swaps:   random.Range{Min: 2, Max: 2},
		Percent: random.Range{Min: 10, Max: 10},
	}
}

// tokenBalances answers balanceOf per token contract.
type tokenBalances struct {
	mu  sync.Mutex
	bal map[common.Address]*big.Int
}

func (b *tokenBalances) call(to common.Address, _ []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.bal[to]; ok {
		return chaintest.Uint(v), nil
	}
	return chaintest.Uint(new(big.Int)), nil
}

func TestDex_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Swaps = random.Range{}
	cfg.Percent = random.Range{}
	require.NoError(t, cfg.Validate())
	require.Equal(t, int64(defaultFee), cfg.Fee)
	require.Equal(t, random.Range{Min: 1, Max: 3}, cfg.Swaps)
	require.Equal(t, random.Range{Min: 5, Max: 10}, cfg.Percent)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "no router", mutate: func(c *Config) { c.Router = common.Address{} }, want: "router"},
		{name: "no stable", mutate: func(c *Config) { delete(c.Tokens, Stable) }, want: Stable},
		{name: "single token", mutate: func(c *Config) { c.Tokens = map[string]common.Address{Stable: usdt} }, want: "two tokens"},
		{name: "percent over 100", mutate: func(c *Config) { c.Percent = random.Range{Min: 50, Max: 150} }, want: "percent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestDex_PackExactInputSingle(t *testing.T) {
	t.Parallel()
	data, err := PackExactInputSingle(ExactInputSingleParams{
		TokenIn:           usdt,
		TokenOut:          eth,
		Fee:               big.NewInt(3000),
		Recipient:         common.HexToAddress(tasktest.Address),
		Deadline:          big.NewInt(1700000000),
		AmountIn:          big.NewInt(42),
		AmountOutMinimum:  new(big.Int),
		SqrtPriceLimitX96: new(big.Int),
	})
	require.NoError(t, err)
	require.Equal(t, swapSelector, data[:4])
	require.Len(t, data, 4+8*32)
	require.Equal(t, common.LeftPadBytes(usdt.Bytes(), 32), data[4:36])
	require.Equal(t, common.LeftPadBytes(big.NewInt(42).Bytes(), 32), data[4+5*32:4+6*32])
}

func TestDex_Swapper_Execute(t *testing.T) {
	t.Parallel()

	t.Run("approves and swaps stable into other tokens", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(1))
		balances := &tokenBalances{bal: map[common.Address]*big.Int{usdt: chain.ToWei(100)}}
		fake.OnCall(balanceOfSelector, balances.call)
		fake.OnCall(allowanceSelector, chaintest.Returning(new(big.Int)))

		s, err := New(testConfig())
		require.NoError(t, err)
		require.NoError(t, s.Execute(t.Context(), env))

		sent := fake.Sent()
		require.Len(t, sent, 4)
		for i := 0; i < len(sent); i += 2 {
			approve, swap := sent[i], sent[i+1]
			require.Equal(t, usdt, *approve.To)
			require.Equal(t, approveSelector, approve.Data[:4])
			require.Equal(t, common.LeftPadBytes(math.MaxBig256.Bytes(), 32), approve.Data[36:68])

			require.Equal(t, router, *swap.To)
			require.Equal(t, swapSelector, swap.Data[:4])
			require.Equal(t, common.LeftPadBytes(usdt.Bytes(), 32), swap.Data[4:36])
			out := common.BytesToAddress(swap.Data[36:68])
			require.Contains(t, []common.Address{eth, btc}, out)
		}

		// The first swap trades 10% of the full balance, the second 10% of the rest.
		first := new(big.Int).SetBytes(sent[1].Data[4+5*32 : 4+6*32])
		second := new(big.Int).SetBytes(sent[3].Data[4+5*32 : 4+6*32])
		require.Equal(t, chain.ToWei(10), first)
		require.Equal(t, chain.ToWei(9), second)
	})

	t.Run("non-stable tokens go back to stable", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(1))
		balances := &tokenBalances{bal: map[common.Address]*big.Int{eth: chain.ToWei(5)}}
		fake.OnCall(balanceOfSelector, balances.call)
		fake.OnCall(allowanceSelector, chaintest.Returning(math.MaxBig256))

		cfg := testConfig()
		cfg.Swaps = random.Range{Min: 1, Max: 1}
		s, err := New(cfg)
		require.NoError(t, err)
		require.NoError(t, s.Execute(t.Context(), env))

		sent := fake.Sent()
		require.Len(t, sent, 1, "allowance already granted")
		require.Equal(t, common.LeftPadBytes(eth.Bytes(), 32), sent[0].Data[4:36])
		require.Equal(t, common.LeftPadBytes(usdt.Bytes(), 32), sent[0].Data[36:68])
	})

	t.Run("no funded tokens is terminal", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(1))
		fake.OnCall(balanceOfSelector, chaintest.Returning(new(big.Int)))

		s, err := New(testConfig())
		require.NoError(t, err)
		err = s.Execute(t.Context(), env)
		require.True(t, retry.IsTerminal(err))
		require.ErrorContains(t, err, "no tokens with balance")
		require.Empty(t, fake.Sent())
	})

	t.Run("empty native balance is terminal", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)

		s, err := New(testConfig())
		require.NoError(t, err)
		require.True(t, retry.IsTerminal(s.Execute(t.Context(), env)))
	})
}
