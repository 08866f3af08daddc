package math

import (
	"math/big"
	"sync"
)

// BpsDenominator is the basis-point scale: rates are expressed out of 10,000.
const BpsDenominator = 10_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator truncating toward zero.
// Truncation keeps fee debits deterministic and reproducible across runs.
func DivideInt128(numerator *big.Int, denominator int64) int64 {
	quotient := getInt128()
	quotient.Quo(numerator, big.NewInt(denominator))

	result := quotient.Int64()
	putInt128(quotient)

	return result
}

// Notional returns |sizeDelta| * price. Sizes are whole contract units and
// prices are margin-asset units per contract, so the result lands directly
// in margin-asset units.
func Notional(sizeDelta, price int64) int64 {
	raw := MultiplyInt128(Abs(sizeDelta), price)
	result := raw.Int64()
	putInt128(raw)

	return result
}

// BpsFee returns notional * rateBps / 10,000 truncated toward zero.
func BpsFee(notional, rateBps int64) int64 {
	raw := MultiplyInt128(notional, rateBps)
	result := DivideInt128(raw, BpsDenominator)
	putInt128(raw)

	return result
}

// Abs returns |v|.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
