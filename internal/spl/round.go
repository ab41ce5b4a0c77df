package spl

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Round rounds d half-up (away from zero) to the given number of decimal
// places. The value goes through its shortest decimal representation first,
// so 2.0005 rounds to 2.001 even though its binary form is slightly below.
func Round(d float64, places int32) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return d
	}
	return decimal.NewFromFloat(d).Round(places).InexactFloat64()
}

// formatNumber prints a float without trailing zeros but always with one
// decimal, e.g. 2.0, 62.341, 1228800.0
func formatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.Trunc(f) == f && !math.IsInf(f, 0) {
		s += ".0"
	}
	return s
}
