package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// ToWei converts an ether amount to wei, rounding toward zero.
func ToWei(ether float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(ether), new(big.Float).SetInt(big.NewInt(params.Ether)))
	out, _ := f.Int(nil)
	return out
}

// FromWei converts wei to ether for display.
func FromWei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether)).Float64()
	return f
}

// Percent returns pct percent of v.
func Percent(v *big.Int, pct int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(int64(pct)))
	return out.Quo(out, big.NewInt(100))
}
