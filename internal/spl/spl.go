// Package spl turns the dominant spectral peak of a window into a sound
// pressure level reading.
package spl

import (
	"fmt"
	"math"

	"github.com/petems/spl-tray/internal/dsp"
)

const (
	// Impedance is the acoustic impedance of air at about 30°C
	Impedance = 406.2
	// ReferencePressure is the 0 dB SPL reference in pascal
	ReferencePressure = 2e-5
	// Places is the number of decimals kept in a decibel reading
	Places = 3
)

// FrequencyFormula selects how a bin index maps to a frequency.
type FrequencyFormula string

const (
	// Literal multiplies the bin by the window length. This is the
	// historical behavior every existing reading was produced with.
	Literal FrequencyFormula = "literal"
	// BinWidth multiplies the bin by sampleRate/N, the usual bin centre.
	BinWidth FrequencyFormula = "bin-width"
)

// Reading is the outcome of one calculation.
type Reading struct {
	Bin       int     `json:"bin"`
	Frequency float64 `json:"frequency_hz"`
	Amplitude float64 `json:"amplitude"`
	Decibels  float64 `json:"db_spl"`
}

// String renders the reading the way the meter display shows it
func (r Reading) String() string {
	return fmt.Sprintf("Frequency = %s Hz, %s db SPL", formatNumber(r.Frequency), formatNumber(r.Decibels))
}

// Calculator converts a spectral peak into a Reading.
type Calculator struct {
	SampleRate        int
	Formula           FrequencyFormula
	Impedance         float64
	ReferencePressure float64
}

// NewCalculator returns a calculator with the standard air constants
func NewCalculator(sampleRate int, formula FrequencyFormula) Calculator {
	return Calculator{
		SampleRate:        sampleRate,
		Formula:           formula,
		Impedance:         Impedance,
		ReferencePressure: ReferencePressure,
	}
}

// Calculate derives frequency, amplitude and decibel level from the peak of a
// window of n samples. When the pressure is zero the decibel level stays 0.
func (c Calculator) Calculate(peak dsp.Peak, n int) Reading {
	r := Reading{
		Bin:       peak.Bin,
		Frequency: c.frequency(peak.Bin, n),
		Amplitude: peak.Magnitude * 2 / float64(n),
	}

	z := c.Impedance
	intensity := z * 2 * math.Pi * math.Pi * r.Frequency * r.Frequency * r.Amplitude * r.Amplitude
	pressure := math.Sqrt(z * intensity)
	if pressure != 0 {
		r.Decibels = Round(20*math.Log10(pressure/c.ReferencePressure)/10, Places)
	}
	return r
}

func (c Calculator) frequency(bin, n int) float64 {
	if c.Formula == BinWidth {
		return float64(bin) * float64(c.SampleRate) / float64(n)
	}
	return float64(bin) * float64(n)
}
