package sites

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/questrunner/runner/pkg/config"
	"github.com/malbeclabs/questrunner/runner/pkg/plan"
	"github.com/malbeclabs/questrunner/runner/pkg/sites/hub"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
)

func TestSites_Register(t *testing.T) {
	t.Parallel()
	reg := task.NewRegistry()
	require.NoError(t, Register(reg, FromConfig(config.Default())))

	want := []string{
		Faucet, FaucetTokens, StorageScanDeploy, ConftMint, Swaps, MintAura,
		MintPanda0G, MintairDeploy, EasyNodeDeploy, MemeBridgeDeploy, Puzzlemania,
		ZeroExchangeSwaps, plan.SkipTask,
	}
	require.ElementsMatch(t, want, reg.Names())
	require.True(t, reg.Has("Zero_Exchange_Swaps"))
}

func TestSites_Register_InvalidSwapConfig(t *testing.T) {
	t.Parallel()
	cfg := FromConfig(config.Default())
	cfg.ZeroExchange.Tokens = map[string]common.Address{"ETH": common.HexToAddress("0x01")}

	err := Register(task.NewRegistry(), cfg)
	require.ErrorContains(t, err, ZeroExchangeSwaps)
}

func TestSites_FromConfig(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.Puzzlemania.UseReferralCode = true
	c.Puzzlemania.InvitesPerReferralCode = random.Range{Min: 2, Max: 4}
	c.HubSwaps.NumberOfSwaps = random.Range{Min: 4, Max: 4}
	c.Swaps.Router = "0x00000000000000000000000000000000000000aa"
	c.Swaps.Tokens = map[string]string{
		"USDT": "0x0000000000000000000000000000000000000001",
		"WOG":  "0x0000000000000000000000000000000000000002",
	}

	got := FromConfig(c)

	require.Equal(t, hub.Router, got.HubSwaps.Router)
	require.Equal(t, hub.SwapTokens, got.HubSwaps.Tokens)
	require.Equal(t, random.Range{Min: 4, Max: 4}, got.HubSwaps.Swaps)

	require.Equal(t, common.HexToAddress("0xaa"), got.ZeroExchange.Router)
	require.Equal(t, map[string]common.Address{
		"USDT": common.HexToAddress("0x01"),
		"WOG":  common.HexToAddress("0x02"),
	}, got.ZeroExchange.Tokens)

	require.True(t, got.Puzzlemania.UseReferralCode)
	require.Equal(t, random.Range{Min: 2, Max: 4}, got.Puzzlemania.InvitesPerReferralCode)

	// Overrides never leak into the shared defaults.
	got.HubSwaps.Tokens["EXTRA"] = common.Address{}
	require.NotContains(t, hub.SwapTokens, "EXTRA")
}
