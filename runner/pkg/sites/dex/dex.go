// Package dex performs randomized token swaps through a Uniswap-v3 style router.
package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const routerABIJSON = `[{
 "type":"function","name":"exactInputSingle","stateMutability":"payable",
 "inputs":[{"name":"params","type":"tuple","components":[
  {"name":"tokenIn","type":"address"},
  {"name":"tokenOut","type":"address"},
  {"name":"fee","type":"uint24"},
  {"name":"recipient","type":"address"},
  {"name":"deadline","type":"uint256"},
  {"name":"amountIn","type":"uint256"},
  {"name":"amountOutMinimum","type":"uint256"},
  {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
 "outputs":[{"name":"amountOut","type":"uint256"}]
}]`

var routerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// ExactInputSingleParams mirrors the router's parameter struct.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

func PackExactInputSingle(p ExactInputSingleParams) ([]byte, error) {
	return routerABI.Pack("exactInputSingle", p)
}

// Stable is the symbol every other token is swapped against.
const Stable = "USDT"

const (
	defaultFee      = 3000
	defaultDeadline = 30 * time.Minute
)

// Config describes one router deployment and how much to trade through it.
type Config struct {
	Router common.Address
	// Tokens maps symbol to ERC-20 address; it must contain Stable.
	Tokens map[string]common.Address
	Fee    int64
	// Swaps is the number of swaps per run.
	Swaps random.Range
	// Percent is the share of the input balance traded per swap.
	Percent random.Range
}

func (cfg *Config) Validate() error {
	if cfg.Router == (common.Address{}) {
		return errors.New("router is required")
	}
	if _, ok := cfg.Tokens[Stable]; !ok {
		return fmt.Errorf("tokens must include %s", Stable)
	}
	if len(cfg.Tokens) < 2 {
		return errors.New("at least two tokens are required")
	}
	if cfg.Fee == 0 {
		cfg.Fee = defaultFee
	}
	if cfg.Swaps.IsZero() {
		cfg.Swaps = random.Range{Min: 1, Max: 3}
	}
	if cfg.Percent.IsZero() {
		cfg.Percent = random.Range{Min: 5, Max: 10}
	}
	if err := cfg.Swaps.Validate(); err != nil {
		return fmt.Errorf("swaps: %w", err)
	}
	if err := cfg.Percent.Validate(); err != nil {
		return fmt.Errorf("percent: %w", err)
	}
	if cfg.Percent.Min < 1 || cfg.Percent.Max > 100 {
		return errors.New("percent must be within [1, 100]")
	}
	return nil
}

// Swapper trades random token pairs: the stable token goes to any other token,
// every other token goes back to the stable one.
type Swapper struct {
	cfg     Config
	symbols []string
}

func New(cfg Config) (*Swapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(cfg.Tokens))
	for sym := range cfg.Tokens {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return &Swapper{cfg: cfg, symbols: symbols}, nil
}

func (s *Swapper) Execute(ctx context.Context, env *task.Env) error {
	if _, err := chain.RequireBalance(ctx, env.Chain, env.Identity.Address, nil); err != nil {
		return err
	}

	balances := make(map[string]*big.Int, len(s.symbols))
	for _, sym := range s.symbols {
		bal, err := chain.TokenBalance(ctx, env.Chain, s.cfg.Tokens[sym], env.Identity.Address)
		if err != nil {
			return fmt.Errorf("failed to get %s balance: %w", sym, err)
		}
		balances[sym] = bal
		env.Log.Debug("dex: token balance", "token", sym, "balance", chain.FromWei(bal))
	}
	if len(s.funded(balances)) == 0 {
		return retry.Terminalf("no tokens with balance available for swaps")
	}

	n := s.cfg.Swaps.Int(env.Rand)
	env.Log.Info("dex: starting swaps", "swaps", n)
	for i := range n {
		funded := s.funded(balances)
		if len(funded) == 0 {
			env.Log.Warn("dex: no token balance left", "done", i)
			break
		}
		in := funded[env.Rand.IntN(len(funded))]
		out := s.counterpart(env, in)
		pct := s.cfg.Percent.Int(env.Rand)
		amount := chain.Percent(balances[in], pct)
		if amount.Sign() == 0 {
			balances[in] = new(big.Int)
			continue
		}

		env.Log.Info("dex: swapping", "swap", i+1, "of", n, "from", in, "to", out, "percent", pct, "amount", chain.FromWei(amount))
		if err := s.swap(ctx, env, in, out, amount); err != nil {
			return err
		}

		balances[in] = new(big.Int).Sub(balances[in], amount)
		bal, err := chain.TokenBalance(ctx, env.Chain, s.cfg.Tokens[out], env.Identity.Address)
		if err != nil {
			return fmt.Errorf("failed to get %s balance: %w", out, err)
		}
		balances[out] = bal

		if i < n-1 {
			if err := env.Sleep(ctx, env.ActionPause); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Swapper) swap(ctx context.Context, env *task.Env, in, out string, amount *big.Int) error {
	tokenIn := s.cfg.Tokens[in]
	if _, err := chain.EnsureAllowance(ctx, env.Chain, env.Identity, tokenIn, s.cfg.Router, math.MaxBig256); err != nil {
		return fmt.Errorf("failed to approve %s: %w", in, err)
	}

	data, err := PackExactInputSingle(ExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          s.cfg.Tokens[out],
		Fee:               big.NewInt(s.cfg.Fee),
		Recipient:         env.Identity.Address,
		Deadline:          big.NewInt(env.Clock.Now().Add(defaultDeadline).Unix()),
		AmountIn:          amount,
		AmountOutMinimum:  new(big.Int),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return retry.AsTerminal(fmt.Errorf("failed to pack swap: %w", err))
	}
	router := s.cfg.Router
	receipt, err := env.Chain.Send(ctx, env.Identity, chain.TxRequest{To: &router, Data: data})
	if err != nil {
		return fmt.Errorf("swap %s -> %s: %w", in, out, err)
	}
	env.Log.Info("dex: swap confirmed", "from", in, "to", out, "tx", receipt.TxHash.Hex())
	return nil
}

func (s *Swapper) funded(balances map[string]*big.Int) []string {
	var out []string
	for _, sym := range s.symbols {
		if balances[sym].Sign() > 0 {
			out = append(out, sym)
		}
	}
	return out
}

func (s *Swapper) counterpart(env *task.Env, in string) string {
	if in != Stable {
		return Stable
	}
	others := make([]string, 0, len(s.symbols)-1)
	for _, sym := range s.symbols {
		if sym != Stable {
			others = append(others, sym)
		}
	}
	return others[env.Rand.IntN(len(others))]
}
