package mfcc

import (
	"fmt"

	"github.com/mjibson/go-dsp/fft"
)

// powerSpectrogram returns |STFT|^2 as [T][FFTSize/2+1].
//
// FFTSize is usually 400, which is not a power of two; go-dsp falls back to
// Bluestein's algorithm for such lengths.
func (e *Extractor) powerSpectrogram(pcm []float32) ([][]float64, error) {
	cfg := e.cfg
	n := len(pcm)
	pad := 0
	if cfg.Center {
		pad = cfg.FFTSize / 2
		if n <= pad {
			return nil, fmt.Errorf("%w: %d samples, need more than %d for reflect padding", ErrTooShort, n, pad)
		}
	} else if n < cfg.FFTSize {
		return nil, fmt.Errorf("%w: %d samples, need at least %d", ErrTooShort, n, cfg.FFTSize)
	}

	numFrames := cfg.NumFrames(n)
	halfFFT := cfg.FFTSize/2 + 1
	frame := make([]float64, cfg.FFTSize)
	out := make([][]float64, numFrames)

	for t := range numFrames {
		start := t*cfg.HopSize - pad
		for i := range frame {
			frame[i] = float64(pcm[reflectIndex(start+i, n)]) * e.window[i]
		}
		spectrum := fft.FFTReal(frame)
		power := make([]float64, halfFFT)
		for k := range halfFFT {
			re, im := real(spectrum[k]), imag(spectrum[k])
			power[k] = re*re + im*im
		}
		out[t] = power
	}
	return out, nil
}

// reflectIndex maps i onto [0, n) by reflecting around the edges without
// repeating the edge sample, matching numpy/torch "reflect" padding.
func reflectIndex(i, n int) int {
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*(n-1) - i
	}
	return i
}
