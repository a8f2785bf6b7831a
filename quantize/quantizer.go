// Package quantize implements lossy float32 to int8 quantization of
// seismic amplitudes. Values are mapped onto 255 uniform bins between a
// fitted low/high range; everything outside the range clips to the
// nearest edge. Dequantizing a quantized value is exactly idempotent:
// quantize(dequantize(c)) == c for every code c.
package quantize

import (
	"errors"
	"math"
)

// Codes is the number of representable int8 codes, -127..127. The
// minimum code -128 is left unused so the range stays symmetric.
const Codes = 255

var ErrDegenerateRange = errors.New("quantize: low and high ranges coincide")

// Params are the serializable parameters of a fitted Quantizer.
type Params struct {
	Lo     float32 `json:"lo"`
	Hi     float32 `json:"hi"`
	Clip   bool    `json:"clip"`
	Center bool    `json:"center"`
	Mean   float32 `json:"mean"`
}

// Quantizer maps float32 amplitudes onto int8 codes.
type Quantizer struct {
	lo, hi float32
	mean   float32
	clip   bool
	center bool
	scale  float64 // (hi-lo)/(Codes-1)
}

// Options configures fitting.
type Options struct {
	// Clip maps out-of-range values to the nearest edge instead of
	// letting them wrap modulo the code range. Always recommended; on by
	// default in Fit.
	Clip bool

	// Center subtracts the mean before ranging so the zero amplitude
	// maps near code 0.
	Center bool
}

// New builds a Quantizer from explicit parameters.
func New(p Params) (*Quantizer, error) {
	lo, hi, mean := p.Lo, p.Hi, p.Mean
	if p.Center {
		lo -= mean
		hi -= mean
	}
	if hi <= lo {
		return nil, ErrDegenerateRange
	}
	return &Quantizer{
		lo:     lo,
		hi:     hi,
		mean:   mean,
		clip:   p.Clip,
		center: p.Center,
		scale:  float64(hi-lo) / (Codes - 1),
	}, nil
}

// Fit derives quantization parameters from a value range, typically the
// q01/q99 quantiles of the volume, and the volume mean.
func Fit(lo, hi, mean float32, opts Options) (*Quantizer, error) {
	return New(Params{Lo: lo, Hi: hi, Clip: true, Center: opts.Center, Mean: mean})
}

// Params returns the parameters needed to reconstruct the Quantizer.
func (q *Quantizer) Params() Params {
	lo, hi := q.lo, q.hi
	if q.center {
		lo += q.mean
		hi += q.mean
	}
	return Params{Lo: lo, Hi: hi, Clip: q.clip, Center: q.center, Mean: q.mean}
}

// Bins returns the 255 bin centers, i.e. the dequantized value of every
// code from -127 to 127 in order.
func (q *Quantizer) Bins() []float32 {
	bins := make([]float32, Codes)
	for i := range bins {
		bins[i] = q.Dequantize(int8(i - 127))
	}
	return bins
}

// Quantize maps one amplitude to its int8 code.
func (q *Quantizer) Quantize(v float32) int8 {
	x := float64(v)
	if q.center {
		x -= float64(q.mean)
	}
	c := math.Round((x - float64(q.lo)) / q.scale)
	if c < 0 || c > Codes-1 {
		if !q.clip {
			// Without clipping, out-of-range codes wrap modulo the code
			// range.
			m := int(c) % Codes
			if m < 0 {
				m += Codes
			}
			return int8(m - 127)
		}
		if c < 0 {
			c = 0
		} else {
			c = Codes - 1
		}
	}
	return int8(int(c) - 127)
}

// Dequantize maps one int8 code back to an amplitude.
func (q *Quantizer) Dequantize(c int8) float32 {
	x := float64(q.lo) + float64(int(c)+127)*q.scale
	if q.center {
		x += float64(q.mean)
	}
	return float32(x)
}

// QuantizeSlice quantizes src into dst. Both must be the same length.
func (q *Quantizer) QuantizeSlice(dst []int8, src []float32) {
	for i, v := range src {
		dst[i] = q.Quantize(v)
	}
}

// DequantizeSlice dequantizes src into dst. Both must be the same length.
func (q *Quantizer) DequantizeSlice(dst []float32, src []int8) {
	for i, c := range src {
		dst[i] = q.Dequantize(c)
	}
}

// Error estimates the quantization error over a sample of amplitudes:
// the mean absolute round-trip difference, normalized by std. Returns 0
// for an empty sample or zero std.
func (q *Quantizer) Error(sample []float32, std float32) float32 {
	if len(sample) == 0 || std == 0 {
		return 0
	}
	var sum float64
	for _, v := range sample {
		sum += math.Abs(float64(q.Dequantize(q.Quantize(v)) - v))
	}
	return float32(sum / float64(len(sample)) / float64(std))
}
