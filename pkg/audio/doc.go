// Package audio groups the recognizer's audio packages:
//
//   - pcm: sample format definitions and conversions
//   - mfcc: MFCC feature transform
//   - portaudio: microphone capture
//   - wavfile: WAV decoding, encoding and replay
package audio
