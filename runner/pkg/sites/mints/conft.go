package mints

import (
	"context"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

const conftABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"mintPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"mint","stateMutability":"payable","inputs":[],"outputs":[]}
]`

var conftABI = mustABI(conftABIJSON)

var (
	registerSelector = common.FromHex("0x692b3956")
	registerArgs     = mustArgs("string", "uint256", "uint256")
)

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// PackDomainRegistration encodes a one-year, single-quantity domain registration.
func PackDomainRegistration(name string) ([]byte, error) {
	packed, err := registerArgs.Pack(name, big.NewInt(1), big.NewInt(1))
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, registerSelector...), packed...), nil
}

// Conft mints the conft.app NFT and then registers a random domain. Each half is
// skipped when the wallet already holds it.
type Conft struct {
	NFT    common.Address
	Domain common.Address
}

func DefaultConft() *Conft {
	return &Conft{
		NFT:    common.HexToAddress("0x9059cA87Ddc891b91e731C57D21809F1A4adC8D9"),
		Domain: common.HexToAddress("0xCF7f37B4916AC5c530C863f8c8bB26Ec1e8d2Ccb"),
	}
}

func (c *Conft) Execute(ctx context.Context, env *task.Env) error {
	if _, err := chain.RequireBalance(ctx, env.Chain, env.Identity.Address, nil); err != nil {
		return err
	}
	if err := c.mintNFT(ctx, env); err != nil {
		return err
	}
	if err := env.Sleep(ctx, env.ActionPause); err != nil {
		return err
	}
	return c.mintDomain(ctx, env)
}

func (c *Conft) mintNFT(ctx context.Context, env *task.Env) error {
	held, err := chain.CallUint(ctx, env.Chain, conftABI, c.NFT, "balanceOf", env.Identity.Address)
	if err != nil {
		return err
	}
	if held.Sign() > 0 {
		env.Log.Info("mints: conft nft already held")
		return nil
	}

	price, err := chain.CallUint(ctx, env.Chain, conftABI, c.NFT, "mintPrice")
	if err != nil {
		return err
	}
	if _, err := chain.RequireBalance(ctx, env.Chain, env.Identity.Address, price); err != nil {
		return err
	}
	data, err := conftABI.Pack("mint")
	if err != nil {
		return retry.AsTerminal(err)
	}
	to := c.NFT
	receipt, err := env.Chain.Send(ctx, env.Identity, chain.TxRequest{To: &to, Data: data, Value: price})
	if err != nil {
		return fmt.Errorf("failed to mint conft nft: %w", err)
	}
	env.Log.Info("mints: minted conft nft", "tx", receipt.TxHash.Hex())
	return nil
}

func (c *Conft) mintDomain(ctx context.Context, env *task.Env) error {
	held, err := chain.CallUint(ctx, env.Chain, conftABI, c.Domain, "balanceOf", env.Identity.Address)
	if err != nil {
		return err
	}
	if held.Sign() > 0 {
		env.Log.Info("mints: conft domain already held")
		return nil
	}

	name := Username(env.Rand)
	data, err := PackDomainRegistration(name)
	if err != nil {
		return retry.AsTerminal(fmt.Errorf("failed to pack domain registration: %w", err))
	}
	to := c.Domain
	receipt, err := env.Chain.Send(ctx, env.Identity, chain.TxRequest{To: &to, Data: data})
	if err != nil {
		return fmt.Errorf("failed to register domain %s: %w", name, err)
	}
	env.Log.Info("mints: registered conft domain", "domain", name, "tx", receipt.TxHash.Hex())
	return nil
}

const (
	vowels     = "aeiou"
	consonants = "bcdfghjklmnpqrstvwxyz"
)

// Username returns a pronounceable 8 to 12 letter name alternating consonants
// and vowels.
func Username(src *rand.Rand) string {
	n := 8 + src.IntN(5)
	vowel := src.IntN(2) == 0
	var b strings.Builder
	for range n {
		set := consonants
		if vowel {
			set = vowels
		}
		b.WriteByte(set[src.IntN(len(set))])
		vowel = !vowel
	}
	return b.String()
}
