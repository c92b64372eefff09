package pcm

import (
	"math"
	"time"
)

// SampleRate is the only sample rate used by the recognizer. Nothing in the
// pipeline resamples.
const SampleRate = 16000

const (
	// L16Mono16K represents audio/L16; rate=16000; channels=1
	L16Mono16K Format = iota
	// L16Stereo16K represents audio/L16; rate=16000; channels=2
	L16Stereo16K
)

// Format represents an audio format configuration.
type Format int

// SampleRate returns the sample rate in Hz for this format.
func (f Format) SampleRate() int {
	switch f {
	case L16Mono16K, L16Stereo16K:
		return SampleRate
	}
	panic("pcm: invalid audio type")
}

// Channels returns the number of audio channels for this format.
func (f Format) Channels() int {
	switch f {
	case L16Mono16K:
		return 1
	case L16Stereo16K:
		return 2
	}
	panic("pcm: invalid audio type")
}

// Depth returns the bit depth for this format.
func (f Format) Depth() int {
	switch f {
	case L16Mono16K, L16Stereo16K:
		return 16
	}
	panic("pcm: invalid audio type")
}

// SamplesInDuration returns the number of frames (samples per channel) in
// the given duration.
func (f Format) SamplesInDuration(d time.Duration) int64 {
	return int64(time.Duration(f.SampleRate()) * d / time.Second)
}

// Duration returns the duration of the given number of frames.
func (f Format) Duration(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate())
}

// String returns a human-readable string representation of the format.
func (f Format) String() string {
	switch f {
	case L16Mono16K:
		return "audio/L16; rate=16000; channels=1"
	case L16Stereo16K:
		return "audio/L16; rate=16000; channels=2"
	}
	panic("pcm: invalid audio type")
}

// FormatFor returns the format with the given channel count.
func FormatFor(channels int) (Format, bool) {
	switch channels {
	case 1:
		return L16Mono16K, true
	case 2:
		return L16Stereo16K, true
	}
	return 0, false
}

// Float32FromInt16 converts signed 16-bit samples to float32 in [-1, 1).
func Float32FromInt16(src []int16) []float32 {
	dst := make([]float32, len(src))
	for i, s := range src {
		dst[i] = float32(s) / 32768.0
	}
	return dst
}

// Int16FromFloat32 converts float32 samples to signed 16-bit, clipping
// values outside [-1, 1].
func Int16FromFloat32(src []float32) []int16 {
	dst := make([]int16, len(src))
	for i, s := range src {
		v := math.Round(float64(s) * 32768.0)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		dst[i] = int16(v)
	}
	return dst
}
