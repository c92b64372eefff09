// Package wavfile reads and writes 16 kHz PCM WAV files for offline
// classification, replay through the capture loop, and utterance dumps.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/haivivi/voicecmd/pkg/audio/pcm"
	"github.com/haivivi/voicecmd/pkg/capture"
	"github.com/haivivi/voicecmd/pkg/segment"
)

var (
	// ErrInvalid is returned for input that is not a PCM WAV file.
	ErrInvalid = errors.New("wavfile: invalid wav")
	// ErrSampleRate is returned for files not sampled at pcm.SampleRate.
	ErrSampleRate = errors.New("wavfile: unsupported sample rate")
)

// Audio is decoded interleaved float32 audio at pcm.SampleRate.
type Audio struct {
	Samples  []float32
	Channels int
}

// Frames returns the number of frames.
func (a *Audio) Frames() int {
	if a.Channels <= 0 {
		return 0
	}
	return len(a.Samples) / a.Channels
}

// Duration returns the playback duration.
func (a *Audio) Duration() time.Duration {
	return time.Duration(a.Frames()) * time.Second / pcm.SampleRate
}

// Decode reads a PCM WAV file. Only 16, 24 and 32-bit integer files at
// pcm.SampleRate are accepted.
func Decode(r io.ReadSeeker) (*Audio, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalid
	}
	if int(dec.SampleRate) != pcm.SampleRate {
		return nil, fmt.Errorf("%w: %d Hz, want %d", ErrSampleRate, dec.SampleRate, pcm.SampleRate)
	}
	depth := int(dec.BitDepth)
	switch depth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit samples", ErrInvalid, depth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: read pcm: %w", err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalid, channels)
	}
	scale := float32(int64(1) << (depth - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return &Audio{Samples: out, Channels: channels}, nil
}

// Encode writes interleaved float32 samples as a 16-bit PCM WAV file at
// pcm.SampleRate. Samples outside [-1, 1] are clipped.
func Encode(w io.WriteSeeker, samples []float32, channels int) error {
	if channels < 1 {
		return fmt.Errorf("wavfile: encode: %d channels", channels)
	}
	enc := wav.NewEncoder(w, pcm.SampleRate, 16, channels, 1)
	ints := pcm.Int16FromFloat32(samples)
	data := make([]int, len(ints))
	for i, v := range ints {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: pcm.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavfile: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: encode: %w", err)
	}
	return nil
}

// Bytes encodes samples into an in-memory WAV file, for stores that cannot
// seek.
func Bytes(samples []float32, channels int) ([]byte, error) {
	f, err := afero.NewMemMapFs().Create("scratch.wav")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := Encode(f, samples, channels); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// EncodeUtterance writes a finalized utterance as a 16-bit WAV file. w need
// not be seekable.
func EncodeUtterance(w io.Writer, u *segment.Utterance) error {
	data, err := Bytes(u.Samples(), max(u.Channels, 1))
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	return nil
}

// SourceOptions configures NewSource.
type SourceOptions struct {
	// BlockFrames is the frames per block. Zero means 0.5 s.
	BlockFrames int
	// Paced delays each block by its duration, imitating a live device.
	Paced bool
}

// NewSource returns a capture.Source that replays a in fixed-size blocks.
// The last partial block is zero padded, after which ReadBlock returns
// io.EOF. Streams share one cursor, so a stream reopened after a pause
// continues where the previous one stopped.
func NewSource(a *Audio, opts SourceOptions) capture.Source {
	frames := opts.BlockFrames
	if frames <= 0 {
		frames = pcm.SampleRate / 2
	}
	src := &replaySource{
		audio: a,
		size:  frames * max(a.Channels, 1),
		pace:  opts.Paced,
		every: time.Duration(frames) * time.Second / pcm.SampleRate,
	}
	return capture.SourceFunc(func() (capture.Stream, error) {
		return &replay{src: src, done: make(chan struct{})}, nil
	})
}

type replaySource struct {
	audio *Audio
	size  int
	pace  bool
	every time.Duration

	mu  sync.Mutex
	pos int
}

func (s *replaySource) next() (segment.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.audio.Samples) {
		return nil, io.EOF
	}
	b := make(segment.Block, s.size)
	s.pos += copy(b, s.audio.Samples[s.pos:])
	return b, nil
}

type replay struct {
	src  *replaySource
	due  time.Time
	once sync.Once
	done chan struct{}
}

func (r *replay) ReadBlock() (segment.Block, error) {
	if r.src.pace {
		if r.due.IsZero() {
			r.due = time.Now()
		}
		r.due = r.due.Add(r.src.every)
		t := time.NewTimer(time.Until(r.due))
		defer t.Stop()
		select {
		case <-t.C:
		case <-r.done:
			return nil, io.EOF
		}
	}
	select {
	case <-r.done:
		return nil, io.EOF
	default:
	}
	return r.src.next()
}

func (r *replay) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}
