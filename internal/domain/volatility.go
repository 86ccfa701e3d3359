package domain

import "math"

// VolatilityBucket clasifica la volatilidad realizada de un mercado.
type VolatilityBucket int

const (
	VolVeryLow VolatilityBucket = iota
	VolLow
	VolMedium
	VolHigh
	VolExtreme
)

// String devuelve el nombre del bucket.
func (b VolatilityBucket) String() string {
	switch b {
	case VolVeryLow:
		return "very_low"
	case VolLow:
		return "low"
	case VolMedium:
		return "medium"
	case VolHigh:
		return "high"
	default:
		return "extreme"
	}
}

// SizeMultiplier devuelve el factor de sizing del bucket:
// a mayor volatilidad, menor tamaño.
func (b VolatilityBucket) SizeMultiplier() float64 {
	switch b {
	case VolVeryLow:
		return 1.2
	case VolLow:
		return 1.0
	case VolMedium:
		return 0.8
	case VolHigh:
		return 0.6
	default:
		return 0.4
	}
}

// ClassifyVolatility calcula la desviación estándar de los retornos de precio
// recientes y la mapea a un bucket. Con menos de 2 muestras devuelve VolMedium.
func ClassifyVolatility(prices []float64) VolatilityBucket {
	if len(prices) < 3 {
		return VolMedium
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) < 2 {
		return VolMedium
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	sigma := math.Sqrt(variance)

	switch {
	case sigma < 0.005:
		return VolVeryLow
	case sigma < 0.015:
		return VolLow
	case sigma < 0.04:
		return VolMedium
	case sigma < 0.10:
		return VolHigh
	default:
		return VolExtreme
	}
}
