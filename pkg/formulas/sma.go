package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateSMA returns the latest simple moving average, or nil with fewer than length points
func CalculateSMA(values []float64, length int) *float64 {
	if length <= 0 || len(values) < length {
		return nil
	}

	sma := talib.Sma(values, length)
	if len(sma) > 0 && !math.IsNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}
