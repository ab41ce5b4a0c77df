package dsp

// Peak is the strongest usable bin of a spectrum.
type Peak struct {
	Bin       int
	Magnitude float64
}

// DominantPeak scans bins 1..N/2-1 of a transform output and returns the one
// with the largest magnitude. DC and the mirrored upper half are skipped.
// The first bin wins a tie. A silent spectrum yields the zero Peak.
func DominantPeak(spectrum []Complex) Peak {
	var p Peak
	for i := 1; i < len(spectrum)/2; i++ {
		if w := spectrum[i].Abs(); w > p.Magnitude {
			p = Peak{Bin: i, Magnitude: w}
		}
	}
	return p
}

// Samples converts raw PCM samples into transform input, reusing dst when it
// is large enough.
func Samples(dst []Complex, pcm []int16) []Complex {
	if cap(dst) < len(pcm) {
		dst = make([]Complex, len(pcm))
	}
	dst = dst[:len(pcm)]
	for i, s := range pcm {
		dst[i] = Real(float64(s))
	}
	return dst
}
