package engine

import (
	"math"
	"math/big"
)

// PriceResolution is the number of fractional bits in the on-chain
// cumulative price encoding (UQ112x112).
const PriceResolution = 112

// DecodeAmountOut converts accumulator delta ratios into prices by scaling
// each rate with amountIn and right-shifting away the fractional bits.
// The output slice has the same length as rates.
func DecodeAmountOut(rates []float64, amountIn float64) []float64 {
	out := make([]float64, len(rates))
	for i, r := range rates {
		out[i] = decodeRate(r, amountIn)
	}
	return out
}

// decodeRate computes int(rate*amountIn) >> PriceResolution. The product is
// truncated toward zero before shifting; a float substitute would round
// differently and diverge from the on-chain integer semantics.
func decodeRate(rate, amountIn float64) float64 {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return math.NaN()
	}
	product := new(big.Float).Mul(big.NewFloat(rate), big.NewFloat(amountIn))
	n, _ := product.Int(nil)
	n.Rsh(n, PriceResolution)
	f, _ := new(big.Float).SetInt(n).Float64()
	return f
}
