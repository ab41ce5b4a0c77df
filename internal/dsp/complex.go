package dsp

import "math"

// Complex is an immutable complex number used by the transform.
type Complex struct {
	Re float64
	Im float64
}

// Real returns a complex value with a zero imaginary part
func Real(re float64) Complex {
	return Complex{Re: re}
}

func (c Complex) Add(o Complex) Complex {
	return Complex{Re: c.Re + o.Re, Im: c.Im + o.Im}
}

func (c Complex) Sub(o Complex) Complex {
	return Complex{Re: c.Re - o.Re, Im: c.Im - o.Im}
}

func (c Complex) Mul(o Complex) Complex {
	return Complex{
		Re: c.Re*o.Re - c.Im*o.Im,
		Im: c.Re*o.Im + c.Im*o.Re,
	}
}

// Abs returns the magnitude sqrt(re² + im²)
func (c Complex) Abs() float64 {
	return math.Sqrt(c.Re*c.Re + c.Im*c.Im)
}
