package broker

import "github.com/shopspring/decimal"

// VolumeStep is the lot precision brokers accept
const VolumeStep = 2

// RoundVolume rounds a lot size to two decimals, half away from zero
func RoundVolume(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(VolumeStep).Float64()
	return f
}

// RoundPrice rounds a price to the symbol's digits
func RoundPrice(p float64, digits int) float64 {
	f, _ := decimal.NewFromFloat(p).Round(int32(digits)).Float64()
	return f
}

// Points converts a count of points into a price offset for the given digits
func Points(n float64, digits int) float64 {
	f, _ := decimal.NewFromFloat(n).Shift(int32(-digits)).Float64()
	return f
}
