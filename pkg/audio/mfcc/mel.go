package mfcc

import "math"

// hannWindow generates a periodic Hann window of the given length.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// hzToMel converts frequency in Hz to the HTK mel scale.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts HTK mel scale frequency back to Hz.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank creates triangular filters on the linear FFT frequency grid.
// Returns [numMels][numFreqs]. Filter edges are not snapped to FFT bins, so
// the filters are the same as torchaudio's melscale_fbanks with norm=None.
func melFilterBank(numMels, numFreqs, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	freqs := make([]float64, numFreqs)
	nyquist := float64(sampleRate / 2)
	for i := range freqs {
		freqs[i] = nyquist * float64(i) / float64(numFreqs-1)
	}

	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)
	points := make([]float64, numMels+2)
	for i := range points {
		points[i] = melToHz(lowMel + (highMel-lowMel)*float64(i)/float64(numMels+1))
	}

	bank := make([][]float64, numMels)
	for m := range numMels {
		left, center, right := points[m], points[m+1], points[m+2]
		filter := make([]float64, numFreqs)
		for k, f := range freqs {
			down := (f - left) / (center - left)
			up := (right - f) / (right - center)
			filter[k] = math.Max(0, math.Min(down, up))
		}
		bank[m] = filter
	}
	return bank
}

// dctMatrix returns the orthonormal DCT-II basis as [numCoeffs][numMels].
func dctMatrix(numCoeffs, numMels int) [][]float64 {
	scale := math.Sqrt(2.0 / float64(numMels))
	basis := make([][]float64, numCoeffs)
	for k := range numCoeffs {
		row := make([]float64, numMels)
		for n := range numMels {
			row[n] = math.Cos(math.Pi/float64(numMels)*(float64(n)+0.5)*float64(k)) * scale
		}
		if k == 0 {
			for n := range row {
				row[n] *= 1 / math.Sqrt2
			}
		}
		basis[k] = row
	}
	return basis
}
