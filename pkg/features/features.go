// Package features turns utterances into fixed-shape MFCC tensors.
//
// Extraction is deterministic: the utterance is averaged down to mono,
// truncated or right-padded with zeros to MaxSamples, and transformed with
// the MFCC front-end from pkg/audio/mfcc. The output shape therefore depends
// only on the configuration, never on the utterance length.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/haivivi/voicecmd/pkg/audio/mfcc"
	"github.com/haivivi/voicecmd/pkg/audio/pcm"
	"github.com/haivivi/voicecmd/pkg/segment"
)

var (
	// ErrEmptyUtterance is returned for utterances without samples.
	ErrEmptyUtterance = errors.New("features: empty utterance")

	// ErrMalformed is returned for waveforms that cannot be interpreted:
	// bad channel layout or non-finite samples.
	ErrMalformed = errors.New("features: malformed waveform")
)

// Config configures an Extractor.
type Config struct {
	// MaxSamples is the fixed waveform length fed to the transform.
	// Zero means segment.DefaultMaxSamples.
	MaxSamples int
	// MFCC configures the cepstral transform. The zero value means
	// mfcc.DefaultConfig().
	MFCC mfcc.Config
}

// Extractor converts utterances into [frames][coeffs] tensors.
// It is immutable and safe for concurrent use.
type Extractor struct {
	maxSamples int
	mfcc       *mfcc.Extractor
}

// New creates an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.MaxSamples == 0 {
		cfg.MaxSamples = segment.DefaultMaxSamples
	}
	if cfg.MFCC == (mfcc.Config{}) {
		cfg.MFCC = mfcc.DefaultConfig()
	}
	if cfg.MFCC.SampleRate != pcm.SampleRate {
		return nil, fmt.Errorf("features: sample rate %d, pipeline runs at %d", cfg.MFCC.SampleRate, pcm.SampleRate)
	}
	if cfg.MaxSamples < 0 {
		return nil, fmt.Errorf("features: max samples %d", cfg.MaxSamples)
	}
	m, err := mfcc.New(cfg.MFCC)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	if cfg.MFCC.Center && cfg.MaxSamples <= cfg.MFCC.FFTSize/2 {
		return nil, fmt.Errorf("features: max samples %d shorter than half a window", cfg.MaxSamples)
	}
	return &Extractor{maxSamples: cfg.MaxSamples, mfcc: m}, nil
}

// Default returns an Extractor with the trained model's parameters.
func Default() *Extractor {
	e, err := New(Config{})
	if err != nil {
		panic(err)
	}
	return e
}

// MaxSamples returns the normalized waveform length.
func (e *Extractor) MaxSamples() int {
	return e.maxSamples
}

// Shape returns the constant output shape (frames, coefficients).
func (e *Extractor) Shape() (frames, coeffs int) {
	cfg := e.mfcc.Config()
	return cfg.NumFrames(e.maxSamples), cfg.NumCoeffs
}

// Extract computes the feature tensor of an utterance.
func (e *Extractor) Extract(u *segment.Utterance) ([][]float32, error) {
	if u == nil {
		return nil, ErrEmptyUtterance
	}
	channels := u.Channels
	if channels == 0 {
		channels = 1
	}
	mono, err := Downmix(u.Samples(), channels)
	if err != nil {
		return nil, err
	}
	return e.ExtractWaveform(mono)
}

// ExtractWaveform computes the feature tensor of a mono waveform of any
// length.
func (e *Extractor) ExtractWaveform(mono []float32) ([][]float32, error) {
	if len(mono) == 0 {
		return nil, ErrEmptyUtterance
	}
	for i, s := range mono {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, fmt.Errorf("%w: non-finite sample at %d", ErrMalformed, i)
		}
	}
	return e.mfcc.Extract(Normalize(mono, e.maxSamples))
}

// Downmix averages interleaved channels into mono. Mono input is returned
// unchanged.
func Downmix(interleaved []float32, channels int) ([]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrMalformed, channels)
	}
	if len(interleaved)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples not divisible by %d channels", ErrMalformed, len(interleaved), channels)
	}
	if channels == 1 {
		return interleaved, nil
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono, nil
}

// Normalize truncates samples to n or right-pads them with zeros. The
// result never aliases the input.
func Normalize(samples []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, samples)
	return out
}
