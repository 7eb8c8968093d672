// Package sites wires every site adapter into a task registry under the task
// names used in flow configuration.
package sites

import (
	"fmt"
	"maps"

	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/questrunner/runner/pkg/config"
	"github.com/malbeclabs/questrunner/runner/pkg/sites/deploy"
	"github.com/malbeclabs/questrunner/runner/pkg/sites/dex"
	"github.com/malbeclabs/questrunner/runner/pkg/sites/hub"
	"github.com/malbeclabs/questrunner/runner/pkg/sites/mints"
	"github.com/malbeclabs/questrunner/runner/pkg/sites/puzzlemania"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
)

// Task names.
const (
	Faucet            = "faucet"
	FaucetTokens      = "faucet_tokens"
	StorageScanDeploy = "storagescan_deploy"
	ConftMint         = "conft_mint"
	Swaps             = "swaps"
	MintAura          = "mint_aura"
	MintPanda0G       = "mint_panda_0g"
	MintairDeploy     = "mintair_deploy"
	EasyNodeDeploy    = "easynode_deploy"
	MemeBridgeDeploy  = "memebridge_deploy"
	Puzzlemania       = "puzzlemania"
	ZeroExchangeSwaps = "zero_exchange_swaps"
)

type Config struct {
	HubSwaps     dex.Config
	ZeroExchange dex.Config
	Puzzlemania  puzzlemania.Config
	// FaucetURL overrides the hub faucet endpoint.
	FaucetURL string
}

// FromConfig maps the runner configuration onto site settings.
func FromConfig(c *config.Config) Config {
	return Config{
		HubSwaps:     swapConfig(c.HubSwaps),
		ZeroExchange: swapConfig(c.Swaps),
		Puzzlemania: puzzlemania.Config{
			UseReferralCode:        c.Puzzlemania.UseReferralCode,
			InvitesPerReferralCode: c.Puzzlemania.InvitesPerReferralCode,
			CollectReferralCode:    c.Puzzlemania.CollectReferralCode,
		},
	}
}

// swapConfig starts from the hub deployment and applies any configured router
// or token overrides.
func swapConfig(s config.Swaps) dex.Config {
	out := dex.Config{
		Router:  hub.Router,
		Tokens:  maps.Clone(hub.SwapTokens),
		Swaps:   s.NumberOfSwaps,
		Percent: s.BalancePercentToSwap,
	}
	if s.Router != "" {
		out.Router = common.HexToAddress(s.Router)
	}
	if len(s.Tokens) > 0 {
		out.Tokens = make(map[string]common.Address, len(s.Tokens))
		for sym, addr := range s.Tokens {
			out.Tokens[sym] = common.HexToAddress(addr)
		}
	}
	return out
}

// Register adds every site task to reg.
func Register(reg *task.Registry, cfg Config) error {
	hubSwaps, err := dex.New(cfg.HubSwaps)
	if err != nil {
		return fmt.Errorf("%s: %w", Swaps, err)
	}
	zeroExchange, err := dex.New(cfg.ZeroExchange)
	if err != nil {
		return fmt.Errorf("%s: %w", ZeroExchangeSwaps, err)
	}
	quest, err := puzzlemania.New(cfg.Puzzlemania)
	if err != nil {
		return fmt.Errorf("%s: %w", Puzzlemania, err)
	}

	contracts := map[string]func() (*deploy.Contract, error){
		MintairDeploy:    deploy.Mintair,
		EasyNodeDeploy:   deploy.EasyNode,
		MemeBridgeDeploy: deploy.MemeBridge,
	}
	for name, build := range contracts {
		c, err := build()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		reg.Register(name, c)
	}

	reg.Register(Faucet, &hub.Faucet{URL: cfg.FaucetURL})
	reg.Register(FaucetTokens, hub.DefaultTokenFaucets())
	reg.Register(StorageScanDeploy, deploy.DefaultStorageScan())
	reg.Register(ConftMint, mints.DefaultConft())
	reg.Register(MintAura, mints.PandaAura())
	reg.Register(MintPanda0G, mints.PandaNerzo())
	reg.Register(Swaps, hubSwaps)
	reg.Register(ZeroExchangeSwaps, zeroExchange)
	reg.Register(Puzzlemania, quest)
	return nil
}
