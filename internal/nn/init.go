package nn

import (
	"math"
	"math/rand"
	"time"
)

// xavierUniform draws in*out weights from the Xavier/Glorot distribution
// U(-b, b) with b = sqrt(6 / (fan_in + fan_out)), which keeps activation
// variance roughly constant across layers.
func xavierUniform(rng *rand.Rand, fanIn, fanOut int) []float32 {
	if rng == nil {
		//nolint:gosec // math/rand is fine for weight initialization
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	data := make([]float32, fanIn*fanOut)
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return data
}
