package math

import (
	"math/big"
	"sync"
)

// PPMScale is the parts-per-million fixed-point scale used for insurance
// premium and coverage rates: 1_000_000 PPM == 100%.
const PPMScale int64 = 1_000_000

// Intermediate products go through big.Int so amount * rate can never
// overflow int64, whatever bounds the operator configures.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

// ApplyPPM returns amount * ppm / PPMScale, truncated toward zero.
func ApplyPPM(amount, ppm int64) int64 {
	product := intPool.Get().(*big.Int)
	defer func() {
		product.SetInt64(0)
		intPool.Put(product)
	}()

	product.Mul(big.NewInt(amount), big.NewInt(ppm))
	product.Quo(product, big.NewInt(PPMScale))
	return product.Int64()
}

// PPMToFloat converts a PPM rate to its fractional value.
func PPMToFloat(ppm int64) float64 {
	return float64(ppm) / float64(PPMScale)
}
