// Package mfcc computes Mel-Frequency Cepstral Coefficients from PCM audio.
//
// The transform reproduces the torchaudio MFCC front-end the command
// classifier was trained with, so features computed here can be fed to the
// network without any calibration:
//
//	SampleRate: 16000
//	FFTSize:      400 (25 ms, periodic Hann window of the same length)
//	HopSize:      160 (10 ms)
//	Center:      true (reflect padding of FFTSize/2 on both sides)
//	NumMels:       80 (HTK mel scale, 0 - 8000 Hz, unnormalized filters)
//	NumCoeffs:     40 (orthonormal DCT-II)
//	TopDB:         80
//
// The output is a [T][NumCoeffs] float32 matrix, time-major.
package mfcc

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig is returned by New for inconsistent parameters.
	ErrInvalidConfig = errors.New("mfcc: invalid config")

	// ErrTooShort is returned when the input cannot be reflect-padded.
	ErrTooShort = errors.New("mfcc: input too short")
)

// Config controls MFCC extraction parameters.
type Config struct {
	SampleRate int     // audio sample rate in Hz (default 16000)
	FFTSize    int     // FFT and window length in samples (default 400)
	HopSize    int     // hop length in samples (default 160)
	NumMels    int     // number of mel bins (default 80)
	NumCoeffs  int     // number of retained cepstral coefficients (default 40)
	LowFreq    float64 // lowest mel frequency (default 0)
	HighFreq   float64 // highest mel frequency (default SampleRate/2)
	TopDB      float64 // dynamic range clamp in dB, 0 disables (default 80)
	Center     bool    // reflect-pad so frame t is centered at t*HopSize
}

// DefaultConfig returns the configuration the classifier was trained with.
func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		FFTSize:    400,
		HopSize:    160,
		NumMels:    80,
		NumCoeffs:  40,
		LowFreq:    0,
		HighFreq:   8000,
		TopDB:      80,
		Center:     true,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	case c.FFTSize <= 1:
		return fmt.Errorf("%w: fft size %d", ErrInvalidConfig, c.FFTSize)
	case c.HopSize <= 0:
		return fmt.Errorf("%w: hop size %d", ErrInvalidConfig, c.HopSize)
	case c.NumMels <= 0:
		return fmt.Errorf("%w: mel bins %d", ErrInvalidConfig, c.NumMels)
	case c.NumCoeffs <= 0 || c.NumCoeffs > c.NumMels:
		return fmt.Errorf("%w: %d coefficients for %d mel bins", ErrInvalidConfig, c.NumCoeffs, c.NumMels)
	case c.LowFreq < 0 || c.HighFreq <= c.LowFreq || c.HighFreq > float64(c.SampleRate)/2:
		return fmt.Errorf("%w: frequency range [%g, %g]", ErrInvalidConfig, c.LowFreq, c.HighFreq)
	case c.TopDB < 0:
		return fmt.Errorf("%w: top db %g", ErrInvalidConfig, c.TopDB)
	}
	return nil
}

// NumFrames returns the number of frames produced for n input samples.
func (c Config) NumFrames(n int) int {
	if c.Center {
		return 1 + n/c.HopSize
	}
	if n < c.FFTSize {
		return 0
	}
	return 1 + (n-c.FFTSize)/c.HopSize
}

// Extractor computes MFCC features. It is immutable after New and safe for
// concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64   // periodic Hann
	melBank [][]float64 // [NumMels][FFTSize/2+1]
	dct     [][]float64 // [NumCoeffs][NumMels]
}

// New creates a new Extractor with the given config.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:     cfg,
		window:  hannWindow(cfg.FFTSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize/2+1, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
		dct:     dctMatrix(cfg.NumCoeffs, cfg.NumMels),
	}, nil
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract computes MFCC features from float32 samples in [-1, 1].
// Output: [T][NumCoeffs] where T = Config.NumFrames(len(pcm)).
func (e *Extractor) Extract(pcm []float32) ([][]float32, error) {
	mel, err := e.MelSpectrogram(pcm)
	if err != nil {
		return nil, err
	}
	powerToDB(mel, e.cfg.TopDB)

	features := make([][]float32, len(mel))
	for t, frame := range mel {
		coeffs := make([]float32, e.cfg.NumCoeffs)
		for k, basis := range e.dct {
			sum := 0.0
			for m, w := range basis {
				sum += w * frame[m]
			}
			coeffs[k] = float32(sum)
		}
		features[t] = coeffs
	}
	return features, nil
}

// MelSpectrogram computes the [T][NumMels] mel power spectrogram.
func (e *Extractor) MelSpectrogram(pcm []float32) ([][]float64, error) {
	power, err := e.powerSpectrogram(pcm)
	if err != nil {
		return nil, err
	}
	mel := make([][]float64, len(power))
	for t, spec := range power {
		frame := make([]float64, e.cfg.NumMels)
		for m, filter := range e.melBank {
			sum := 0.0
			for k, w := range filter {
				if w != 0 {
					sum += w * spec[k]
				}
			}
			frame[m] = sum
		}
		mel[t] = frame
	}
	return mel, nil
}

// powerToDB converts power values to decibels in place and clamps the
// dynamic range to topDB below the global maximum.
func powerToDB(spec [][]float64, topDB float64) {
	const amin = 1e-10
	peak := math.Inf(-1)
	for _, frame := range spec {
		for i, v := range frame {
			db := 10 * math.Log10(math.Max(v, amin))
			frame[i] = db
			peak = math.Max(peak, db)
		}
	}
	if topDB <= 0 {
		return
	}
	floor := peak - topDB
	for _, frame := range spec {
		for i, v := range frame {
			if v < floor {
				frame[i] = floor
			}
		}
	}
}
