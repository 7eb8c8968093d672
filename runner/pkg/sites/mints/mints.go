// Package mints implements the NFT and domain mint tasks.
package mints

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

// NativeCurrency is the placeholder drop contracts use for the chain's own coin.
var NativeCurrency = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

const dropABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"claim","stateMutability":"payable","inputs":[
  {"name":"_receiver","type":"address"},
  {"name":"_quantity","type":"uint256"},
  {"name":"_currency","type":"address"},
  {"name":"_pricePerToken","type":"uint256"},
  {"name":"_allowlistProof","type":"tuple","components":[
   {"name":"proof","type":"bytes32[]"},
   {"name":"quantityLimitPerWallet","type":"uint256"},
   {"name":"pricePerToken","type":"uint256"},
   {"name":"currency","type":"address"}]},
  {"name":"_data","type":"bytes"}],"outputs":[]}
]`

var dropABI = mustABI(dropABIJSON)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// AllowlistProof is the open allowlist proof accepted by public claim phases.
type AllowlistProof struct {
	Proof                  [][32]byte
	QuantityLimitPerWallet *big.Int
	PricePerToken          *big.Int
	Currency               common.Address
}

// PackClaim encodes a public-phase claim of quantity tokens at price each.
func PackClaim(receiver common.Address, quantity int64, price *big.Int) ([]byte, error) {
	return dropABI.Pack("claim",
		receiver,
		big.NewInt(quantity),
		NativeCurrency,
		price,
		AllowlistProof{
			Proof:                  [][32]byte{},
			QuantityLimitPerWallet: math.MaxBig256,
			PricePerToken:          new(big.Int),
			Currency:               NativeCurrency,
		},
		[]byte{},
	)
}

// Drop claims one token from a drop contract unless the wallet already holds one.
type Drop struct {
	Name     string
	Contract common.Address
	// Price is paid per token.
	Price *big.Int
	// MinBalance is the native balance required before claiming; nil only rejects
	// an empty wallet.
	MinBalance *big.Int
}

// PandaAura is the free Aura drop.
func PandaAura() *Drop {
	return &Drop{
		Name:     "aura panda",
		Contract: common.HexToAddress("0x8260aBAd9079FE6B50fD9248D5996f810Fe01ceF"),
		Price:    new(big.Int),
	}
}

// PandaNerzo is the paid Nerzo 0G drop.
func PandaNerzo() *Drop {
	return &Drop{
		Name:       "nerzo panda",
		Contract:   common.HexToAddress("0xACb68A7c0eD8Ff8E3eAAE605bc794e34732c3E15"),
		Price:      chain.ToWei(0.005),
		MinBalance: chain.ToWei(0.006),
	}
}

func (d *Drop) Execute(ctx context.Context, env *task.Env) error {
	held, err := chain.CallUint(ctx, env.Chain, dropABI, d.Contract, "balanceOf", env.Identity.Address)
	if err != nil {
		return err
	}
	if held.Sign() > 0 {
		return retry.AlreadyDonef("%s already minted", d.Name)
	}
	if _, err := chain.RequireBalance(ctx, env.Chain, env.Identity.Address, d.MinBalance); err != nil {
		return err
	}

	price := d.Price
	if price == nil {
		price = new(big.Int)
	}
	data, err := PackClaim(env.Identity.Address, 1, price)
	if err != nil {
		return retry.AsTerminal(fmt.Errorf("failed to pack claim: %w", err))
	}
	contract := d.Contract
	receipt, err := env.Chain.Send(ctx, env.Identity, chain.TxRequest{To: &contract, Data: data, Value: price})
	if err != nil {
		return fmt.Errorf("failed to mint %s: %w", d.Name, err)
	}
	env.Log.Info("mints: minted", "nft", d.Name, "tx", receipt.TxHash.Hex())
	return nil
}
