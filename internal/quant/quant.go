// Package quant converts between real-valued features and the affine int8
// representation used by the classifier's input and output tensors.
package quant

import (
	"fmt"
	"math"
)

// Params holds the affine mapping real = Scale * (q - ZeroPoint).
type Params struct {
	Scale     float32 `json:"scale"`
	ZeroPoint int     `json:"zero_point"`
}

// Validate reports whether p describes a usable int8 mapping.
func (p Params) Validate() error {
	if !(p.Scale > 0) || math.IsInf(float64(p.Scale), 0) {
		return fmt.Errorf("quant scale must be positive and finite, got %v", p.Scale)
	}
	if p.ZeroPoint < math.MinInt8 || p.ZeroPoint > math.MaxInt8 {
		return fmt.Errorf("quant zero point %d outside int8 range", p.ZeroPoint)
	}
	return nil
}

// Equal compares two parameter sets with a small tolerance on the scale.
func (p Params) Equal(o Params, tol float64) bool {
	return p.ZeroPoint == o.ZeroPoint && math.Abs(float64(p.Scale-o.Scale)) <= tol
}

// Quantize maps x onto int8. The zero point is added before rounding half
// to even, then the result saturates.
func (p Params) Quantize(x float32) int8 {
	v := math.RoundToEven(float64(x)/float64(p.Scale) + float64(p.ZeroPoint))
	if math.IsNaN(v) {
		return clampInt8(float64(p.ZeroPoint))
	}
	return clampInt8(v)
}

// Dequantize maps q back to its real value.
func (p Params) Dequantize(q int8) float32 {
	return p.Scale * float32(int(q)-p.ZeroPoint)
}

// QuantizeInto quantizes src into dst. Both slices must have equal length.
func (p Params) QuantizeInto(dst []int8, src []float32) error {
	if len(dst) != len(src) {
		return fmt.Errorf("quantize: dst has %d elements, src has %d", len(dst), len(src))
	}
	for i, x := range src {
		dst[i] = p.Quantize(x)
	}
	return nil
}

// DequantizeInto dequantizes src into dst. Both slices must have equal length.
func (p Params) DequantizeInto(dst []float32, src []int8) error {
	if len(dst) != len(src) {
		return fmt.Errorf("dequantize: dst has %d elements, src has %d", len(dst), len(src))
	}
	for i, q := range src {
		dst[i] = p.Dequantize(q)
	}
	return nil
}

// Neutral returns the quantized value representing real zero.
func (p Params) Neutral() int8 {
	return clampInt8(float64(p.ZeroPoint))
}

// Fill returns a buffer of n copies of q.
func Fill(n int, q int8) []int8 {
	out := make([]int8, n)
	for i := range out {
		out[i] = q
	}
	return out
}

func clampInt8(v float64) int8 {
	if v < math.MinInt8 {
		return math.MinInt8
	}
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(v)
}
