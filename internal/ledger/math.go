package ledger

import (
	"math"
	"math/big"
	"strconv"
)

// mulDiv returns floor(a*b*c / d) computed without intermediate overflow.
// ok is false when the quotient does not fit in uint64.
func mulDiv(a, b, c, d uint64) (uint64, bool) {
	if d == 0 {
		return 0, false
	}
	n := new(big.Int).SetUint64(a)
	n.Mul(n, new(big.Int).SetUint64(b))
	n.Mul(n, new(big.Int).SetUint64(c))
	n.Quo(n, new(big.Int).SetUint64(d))
	if !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

func addChecked(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// feeFor returns floor(amount * feeBps / 10000).
func feeFor(amount, feeBps uint64) uint64 {
	fee, _ := mulDiv(amount, feeBps, 1, BpsDenominator)
	return fee
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
