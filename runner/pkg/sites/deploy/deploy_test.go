package deploy

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/chain/chaintest"
	"github.com/malbeclabs/questrunner/runner/pkg/task/tasktest"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

func TestDeploy_Bytecode(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"mintair", "easynode", "memebridge"} {
		code, err := Bytecode(name)
		require.NoError(t, err, name)
		require.NotEmpty(t, code, name)
	}
	_, err := Bytecode("missing")
	require.ErrorContains(t, err, "unknown bytecode")
}

func TestDeploy_Contract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		build      func() (*Contract, error)
		value      float64
		multiplier float64
	}{
		{name: "mintair", build: Mintair},
		{name: "easynode", build: EasyNode, value: 0.05, multiplier: 1.5},
		{name: "memebridge", build: MemeBridge, value: 0.1, multiplier: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := tt.build()
			require.NoError(t, err)

			fake := chaintest.New()
			env := tasktest.NewEnv(t, fake)
			fake.SetBalance(env.Identity.Address, chain.ToWei(1))
			require.NoError(t, c.Execute(t.Context(), env))

			sent := fake.Sent()
			require.Len(t, sent, 1)
			require.Nil(t, sent[0].To)
			require.Equal(t, c.Code, sent[0].Data)
			require.Equal(t, tt.multiplier, sent[0].GasMultiplier)
			if tt.value == 0 {
				require.Nil(t, sent[0].Value)
			} else {
				require.Equal(t, chain.ToWei(tt.value), sent[0].Value)
			}
		})
	}
}

func TestDeploy_Contract_InsufficientValue(t *testing.T) {
	t.Parallel()
	c, err := MemeBridge()
	require.NoError(t, err)

	fake := chaintest.New()
	env := tasktest.NewEnv(t, fake)
	fake.SetBalance(env.Identity.Address, chain.ToWei(0.05))

	err = c.Execute(t.Context(), env)
	require.True(t, retry.IsTerminal(err))
	require.ErrorContains(t, err, "insufficient funds")
	require.Empty(t, fake.Sent())
}

func TestDeploy_Contract_SendFailure(t *testing.T) {
	t.Parallel()
	c, err := Mintair()
	require.NoError(t, err)

	fake := chaintest.New()
	env := tasktest.NewEnv(t, fake)
	fake.SetBalance(env.Identity.Address, chain.ToWei(1))
	boom := errors.New("replacement transaction underpriced")
	fake.FailSends(boom)

	err = c.Execute(t.Context(), env)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "failed to deploy mintair")
}

func TestDeploy_PackSubmission(t *testing.T) {
	t.Parallel()
	var root [32]byte
	root[0], root[31] = 0xab, 0xcd

	data := PackSubmission(root)
	require.Len(t, data, 4+7*32+32)
	require.Equal(t, common.FromHex("0xef3e12dc"), data[:4])
	require.Equal(t, root[:], data[4+6*32:4+7*32])
	require.Equal(t, make([]byte, 32), data[4+7*32:])
}

func TestDeploy_StorageScan(t *testing.T) {
	t.Parallel()
	s := DefaultStorageScan()

	fake := chaintest.New()
	env := tasktest.NewEnv(t, fake)
	fake.SetBalance(env.Identity.Address, chain.ToWei(1))
	require.NoError(t, s.Execute(t.Context(), env))

	sent := fake.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, s.Contract, *sent[0].To)
	require.Len(t, sent[0].Data, 4+8*32)
	require.GreaterOrEqual(t, sent[0].Value.Cmp(chain.ToWei(s.FeeMin)), 0)
	require.LessOrEqual(t, sent[0].Value.Cmp(chain.ToWei(s.FeeMax)), 0)
}
