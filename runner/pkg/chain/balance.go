package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

// RequireBalance returns the native balance of addr, or a terminal error when it
// is zero or below minimum. A nil minimum only rejects an empty wallet.
func RequireBalance(ctx context.Context, c Client, addr common.Address, minimum *big.Int) (*big.Int, error) {
	bal, err := c.Balance(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if bal.Sign() == 0 {
		return bal, retry.Terminalf("wallet balance is 0")
	}
	if minimum != nil && bal.Cmp(minimum) < 0 {
		return bal, retry.Terminalf("insufficient funds: have %.6f, need %.6f", FromWei(bal), FromWei(minimum))
	}
	return bal, nil
}
