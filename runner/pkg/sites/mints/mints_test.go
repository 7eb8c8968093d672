package mints

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/chain/chaintest"
	"github.com/malbeclabs/questrunner/runner/pkg/task/tasktest"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

var balanceOfSelector = common.FromHex("0x70a08231")

func TestMints_PackClaim(t *testing.T) {
	t.Parallel()
	receiver := common.HexToAddress(tasktest.Address)
	data, err := PackClaim(receiver, 1, chain.ToWei(0.005))
	require.NoError(t, err)
	require.Equal(t, common.FromHex("0x84bb1e42"), data[:4])

	args, err := dropABI.Methods["claim"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, receiver, args[0])
	require.Equal(t, big.NewInt(1), args[1])
	require.Equal(t, NativeCurrency, args[2])
	require.Equal(t, chain.ToWei(0.005), args[3])
}

func TestMints_Drop(t *testing.T) {
	t.Parallel()

	t.Run("already held", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(1))
		fake.OnCall(balanceOfSelector, chaintest.Returning(big.NewInt(1)))

		err := PandaAura().Execute(t.Context(), env)
		require.True(t, retry.IsAlreadyDone(err))
		require.Empty(t, fake.Sent())
	})

	t.Run("free claim", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(0.01))
		fake.OnCall(balanceOfSelector, chaintest.Returning(big.NewInt(0)))

		drop := PandaAura()
		require.NoError(t, drop.Execute(t.Context(), env))
		sent := fake.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, drop.Contract, *sent[0].To)
		require.Zero(t, sent[0].Value.Sign())
	})

	t.Run("paid claim", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(0.01))
		fake.OnCall(balanceOfSelector, chaintest.Returning(big.NewInt(0)))

		require.NoError(t, PandaNerzo().Execute(t.Context(), env))
		sent := fake.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, chain.ToWei(0.005), sent[0].Value)
	})

	t.Run("balance below price", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(0.001))
		fake.OnCall(balanceOfSelector, chaintest.Returning(big.NewInt(0)))

		err := PandaNerzo().Execute(t.Context(), env)
		require.True(t, retry.IsTerminal(err))
		require.Empty(t, fake.Sent())
	})

	t.Run("empty wallet", func(t *testing.T) {
		t.Parallel()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.OnCall(balanceOfSelector, chaintest.Returning(big.NewInt(0)))

		err := PandaAura().Execute(t.Context(), env)
		require.True(t, retry.IsTerminal(err))
		require.ErrorContains(t, err, "wallet balance is 0")
	})
}

func TestMints_Conft(t *testing.T) {
	t.Parallel()

	t.Run("mints nft and domain", func(t *testing.T) {
		t.Parallel()
		c := DefaultConft()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(1))
		fake.OnCall(balanceOfSelector, chaintest.Returning(big.NewInt(0)))
		fake.OnCall(common.FromHex("0x6817c76c"), chaintest.Returning(chain.ToWei(0.001)))

		require.NoError(t, c.Execute(t.Context(), env))

		sent := fake.Sent()
		require.Len(t, sent, 2)
		require.Equal(t, c.NFT, *sent[0].To)
		require.Equal(t, common.FromHex("0x1249c58b"), sent[0].Data)
		require.Equal(t, chain.ToWei(0.001), sent[0].Value)

		require.Equal(t, c.Domain, *sent[1].To)
		require.Equal(t, registerSelector, sent[1].Data[:4])
		args, err := registerArgs.Unpack(sent[1].Data[4:])
		require.NoError(t, err)
		name := args[0].(string)
		require.GreaterOrEqual(t, len(name), 8)
		require.LessOrEqual(t, len(name), 12)
		require.Equal(t, big.NewInt(1), args[1])
	})

	t.Run("nft held, domain missing", func(t *testing.T) {
		t.Parallel()
		c := DefaultConft()
		fake := chaintest.New()
		env := tasktest.NewEnv(t, fake)
		fake.SetBalance(env.Identity.Address, chain.ToWei(1))
		fake.OnCall(balanceOfSelector, func(to common.Address, _ []byte) ([]byte, error) {
			if to == c.NFT {
				return chaintest.Uint(big.NewInt(1)), nil
			}
			return chaintest.Uint(big.NewInt(0)), nil
		})

		require.NoError(t, c.Execute(t.Context(), env))
		sent := fake.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, c.Domain, *sent[0].To)
	})
}

func TestMints_Username(t *testing.T) {
	t.Parallel()
	src := random.NewSource(3)
	for range 50 {
		name := Username(src)
		require.GreaterOrEqual(t, len(name), 8)
		require.LessOrEqual(t, len(name), 12)
		for i := 1; i < len(name); i++ {
			prev := isVowel(name[i-1])
			require.NotEqual(t, prev, isVowel(name[i]), name)
		}
	}
}

func isVowel(b byte) bool {
	for i := range len(vowels) {
		if vowels[i] == b {
			return true
		}
	}
	return false
}
