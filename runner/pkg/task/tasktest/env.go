// Package tasktest builds handler environments for tests.
package tasktest

import (
	"net/http"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
	runtesting "github.com/malbeclabs/questrunner/utils/pkg/testing"
)

// Key is a throwaway private key; its address is Address.
const (
	Key     = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	Address = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

// NewEnv returns an environment for wallet 1 with no pauses, a fake clock and a
// fixed random seed.
func NewEnv(t testing.TB, c chain.Client) *task.Env {
	t.Helper()
	id, err := chain.ParseIdentity(1, Key)
	require.NoError(t, err)
	return &task.Env{
		Log:      runtesting.NewLogger(),
		Identity: id,
		HTTP:     http.DefaultClient,
		Chain:    c,
		Clock:    clockwork.NewFakeClock(),
		Rand:     random.NewSource(7),
		Social:   task.NewCredential(""),
		Attempts: 1,
	}
}
