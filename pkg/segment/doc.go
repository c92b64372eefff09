// Package segment splits a continuous stream of audio blocks into utterances.
//
// A Segmenter is a two-state machine (Idle, Recording) driven purely by the
// energy of each block:
//
//	Idle      --energy > level-->                      Recording
//	Recording --hangover blocks with energy <= level--> Idle (finalize)
//	Recording --accumulated >= MaxSamples-->           Idle (forced finalize)
//
// Every block seen while Recording, including the trailing quiet ones, is
// part of the finalized Utterance. Push never blocks and never performs I/O,
// so it is safe to call from a capture callback; ownership of a finalized
// Utterance passes to the caller.
package segment
