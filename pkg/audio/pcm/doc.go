// Package pcm provides the audio format definitions shared by the capture,
// file and feature packages.
//
// The recognizer runs at a single sample rate (16 kHz). Samples travel
// through the pipeline as float32 in [-1, 1]; 16-bit integer PCM only
// appears at the edges (WAV files, some capture devices).
//
// Key types:
//   - Format: audio format (sample rate, channels, bit depth)
//   - AtomicFloat32: lock-free float32 used for runtime-tunable knobs
//
// Example usage:
//
//	// Samples in one 500ms capture block
//	n := pcm.L16Mono16K.SamplesInDuration(500 * time.Millisecond)
//
//	// Convert device samples
//	f := pcm.Float32FromInt16(samples)
package pcm
