// Package dsp holds the numeric core of the meter: a radix-2 Fourier
// transform and the dominant-bin scan over its output.
package dsp

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotPowerOfTwo is returned when a transform input length is zero or not a power of two
var ErrNotPowerOfTwo = errors.New("length is not a power of two")

// IsPowerOfTwo reports whether n is a positive power of two
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FFT computes the discrete Fourier transform of x with a recursive radix-2
// decimation in time. The input is not modified and the result is a fresh
// slice, so concurrent calls on independent inputs need no locking.
func FFT(x []Complex) ([]Complex, error) {
	n := len(x)
	if !IsPowerOfTwo(n) {
		return nil, fmt.Errorf("fft of %d samples: %w", n, ErrNotPowerOfTwo)
	}

	out := make([]Complex, n)
	copy(out, x)
	transform(out, make([]Complex, n))
	return out, nil
}

// transform works in place on a, using scratch (same length) as the arena
// for the even/odd split and the butterfly results.
func transform(a, scratch []Complex) {
	n := len(a)
	if n == 1 {
		return
	}
	half := n / 2

	for k := 0; k < half; k++ {
		scratch[k] = a[2*k]
		scratch[half+k] = a[2*k+1]
	}
	copy(a, scratch)

	even, odd := a[:half], a[half:]
	transform(even, scratch[:half])
	transform(odd, scratch[half:])

	for k := 0; k < half; k++ {
		t := twiddle(k, n).Mul(odd[k])
		scratch[k] = even[k].Add(t)
		scratch[k+half] = even[k].Sub(t)
	}
	copy(a, scratch)
}

// twiddle returns the primitive root of unity e^(-2πik/n)
func twiddle(k, n int) Complex {
	theta := -2 * math.Pi * float64(k) / float64(n)
	return Complex{Re: math.Cos(theta), Im: math.Sin(theta)}
}
