// Package deploy implements the contract deployment tasks: sample contracts
// created from embedded bytecode, and the storagescan file submission.
package deploy

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/random"
)

//go:embed bytecode/*.hex
var bytecodeFS embed.FS

// Bytecode returns the embedded creation code stored under name.
func Bytecode(name string) ([]byte, error) {
	raw, err := bytecodeFS.ReadFile("bytecode/" + name + ".hex")
	if err != nil {
		return nil, fmt.Errorf("unknown bytecode %q: %w", name, err)
	}
	code := common.FromHex(string(bytes.TrimSpace(raw)))
	if len(code) == 0 {
		return nil, fmt.Errorf("bytecode %q is empty", name)
	}
	return code, nil
}

// Contract deploys fixed creation code, optionally funding the constructor.
type Contract struct {
	Name string
	Code []byte
	// Value is sent with the creation transaction.
	Value *big.Int
	// GasMultiplier overrides the client's estimate multiplier.
	GasMultiplier float64
}

func newContract(name string, value *big.Int, gasMultiplier float64) (*Contract, error) {
	code, err := Bytecode(name)
	if err != nil {
		return nil, err
	}
	return &Contract{Name: name, Code: code, Value: value, GasMultiplier: gasMultiplier}, nil
}

func Mintair() (*Contract, error) { return newContract("mintair", nil, 0) }

func EasyNode() (*Contract, error) { return newContract("easynode", chain.ToWei(0.05), 1.5) }

func MemeBridge() (*Contract, error) { return newContract("memebridge", chain.ToWei(0.1), 1.5) }

func (c *Contract) Execute(ctx context.Context, env *task.Env) error {
	if _, err := chain.RequireBalance(ctx, env.Chain, env.Identity.Address, c.Value); err != nil {
		return err
	}
	receipt, err := env.Chain.Send(ctx, env.Identity, chain.TxRequest{
		Data:          c.Code,
		Value:         c.Value,
		GasMultiplier: c.GasMultiplier,
	})
	if err != nil {
		return fmt.Errorf("failed to deploy %s: %w", c.Name, err)
	}
	env.Log.Info("deploy: contract deployed", "contract", c.Name, "address", receipt.ContractAddress.Hex(), "tx", receipt.TxHash.Hex())
	return nil
}

// StorageScan submits a random 32-byte root to the storage flow contract with a
// small random fee.
type StorageScan struct {
	Contract common.Address
	// Fee is drawn in ether from [FeeMin, FeeMax].
	FeeMin, FeeMax float64
}

func DefaultStorageScan() *StorageScan {
	return &StorageScan{
		Contract: common.HexToAddress("0x0460aA47b41a66694c0a73f667a1b795A5ED3556"),
		FeeMin:   0.000005,
		FeeMax:   0.00001,
	}
}

// Submission layout: selector, then a single dynamic struct with a one-node
// merkle tree whose root is the random hash.
var (
	submitPrefix = common.FromHex("0xef3e12dc" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000014" +
		"0000000000000000000000000000000000000000000000000000000000000060" +
		"0000000000000000000000000000000000000000000000000000000000000080" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"0000000000000000000000000000000000000000000000000000000000000001")
	submitSuffix = make([]byte, 32)
)

// PackSubmission builds the calldata for root.
func PackSubmission(root [32]byte) []byte {
	out := make([]byte, 0, len(submitPrefix)+64)
	out = append(out, submitPrefix...)
	out = append(out, root[:]...)
	return append(out, submitSuffix...)
}

func (s *StorageScan) Execute(ctx context.Context, env *task.Env) error {
	if _, err := chain.RequireBalance(ctx, env.Chain, env.Identity.Address, nil); err != nil {
		return err
	}

	var root [32]byte
	for i := range root {
		root[i] = byte(env.Rand.UintN(256))
	}
	fee := chain.ToWei(random.Float(env.Rand, s.FeeMin, s.FeeMax))

	to := s.Contract
	receipt, err := env.Chain.Send(ctx, env.Identity, chain.TxRequest{To: &to, Data: PackSubmission(root), Value: fee})
	if err != nil {
		return fmt.Errorf("failed to submit storagescan file: %w", err)
	}
	env.Log.Info("deploy: storagescan file submitted", "root", common.Hash(root).Hex(), "fee", chain.FromWei(fee), "tx", receipt.TxHash.Hex())
	return nil
}
