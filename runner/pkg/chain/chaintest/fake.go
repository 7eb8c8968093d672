// Package chaintest provides an in-memory chain.Client for handler tests.
package chaintest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/malbeclabs/questrunner/runner/pkg/chain"
)

// CallFunc answers an eth_call.
type CallFunc func(to common.Address, data []byte) ([]byte, error)

// Fake records sent transactions and answers calls by 4-byte selector.
type Fake struct {
	mu       sync.Mutex
	chainID  *big.Int
	balances map[common.Address]*big.Int
	calls    map[string]CallFunc
	sent     []chain.TxRequest
	sendErr  []error
	closed   bool
}

var _ chain.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		chainID:  big.NewInt(16601),
		balances: map[common.Address]*big.Int{},
		calls:    map[string]CallFunc{},
	}
}

func (f *Fake) SetBalance(addr common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = new(big.Int).Set(wei)
}

// OnCall registers fn for calls whose data starts with selector.
func (f *Fake) OnCall(selector []byte, fn CallFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[hex.EncodeToString(selector)] = fn
}

// FailSends makes the next sends return errs in order.
func (f *Fake) FailSends(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = append(f.sendErr, errs...)
}

func (f *Fake) Sent() []chain.TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.TxRequest(nil), f.sent...)
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *Fake) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *Fake) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("call data too short")
	}
	f.mu.Lock()
	fn, ok := f.calls[hex.EncodeToString(data[:4])]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected call %x to %s", data[:4], to.Hex())
	}
	return fn(to, data)
}

func (f *Fake) Send(ctx context.Context, id chain.Identity, req chain.TxRequest) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErr) > 0 {
		err := f.sendErr[0]
		f.sendErr = f.sendErr[1:]
		if err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, req)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.BigToHash(big.NewInt(int64(len(f.sent))))}, nil
}

func (f *Fake) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Uint encodes v as a single uint256 return value.
func Uint(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

// Returning answers every call with a fixed uint256.
func Returning(v *big.Int) CallFunc {
	return func(common.Address, []byte) ([]byte, error) { return Uint(v), nil }
}
