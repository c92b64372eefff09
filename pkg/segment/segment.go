package segment

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/voicecmd/pkg/audio/pcm"
)

// Recorder defaults: level 7, one quiet block ends an utterance, 3 s cap.
const (
	DefaultSilenceLevel = 7
	DefaultHangover     = 1
	DefaultMaxSamples   = 3 * pcm.SampleRate
)

// ErrInvalidConfig is returned by New for unusable parameters.
var ErrInvalidConfig = errors.New("segment: invalid config")

// State is the segmenter state.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Block is a fixed-size run of samples delivered by the capture device.
// Multi-channel blocks are interleaved.
type Block []float32

// Energy returns the scaled L2 norm of the block: 10 * sqrt(sum(x^2)).
func Energy(b Block) float64 {
	var sum float64
	for _, s := range b {
		sum += float64(s) * float64(s)
	}
	return 10 * math.Sqrt(sum)
}

// Utterance is the ordered run of blocks between onset and finalize.
type Utterance struct {
	ID       uuid.UUID
	Blocks   []Block
	Channels int
	Started  time.Time
	// Forced reports that the utterance was cut at the maximum length
	// rather than ended by silence.
	Forced bool
}

// Samples returns all blocks concatenated, still interleaved.
func (u *Utterance) Samples() []float32 {
	n := 0
	for _, b := range u.Blocks {
		n += len(b)
	}
	out := make([]float32, 0, n)
	for _, b := range u.Blocks {
		out = append(out, b...)
	}
	return out
}

// Len returns the number of frames (samples per channel).
func (u *Utterance) Len() int {
	n := 0
	for _, b := range u.Blocks {
		n += len(b)
	}
	if u.Channels > 1 {
		return n / u.Channels
	}
	return n
}

// Duration returns the audio duration of the utterance.
func (u *Utterance) Duration() time.Duration {
	return time.Duration(u.Len()) * time.Second / pcm.SampleRate
}

// Config configures a Segmenter.
type Config struct {
	// SilenceLevel is the energy a block must exceed to count as speech.
	SilenceLevel float32
	// Hangover is the number of consecutive quiet blocks that end an
	// utterance. Must be at least 1.
	Hangover int
	// MaxSamples bounds the frames accumulated per utterance; reaching it
	// forces a finalize. Zero means DefaultMaxSamples.
	MaxSamples int
	// Channels is the interleaved channel count of incoming blocks.
	// Zero means mono.
	Channels int
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		SilenceLevel: DefaultSilenceLevel,
		Hangover:     DefaultHangover,
		MaxSamples:   DefaultMaxSamples,
		Channels:     1,
	}
}

// Segmenter is the utterance segmentation state machine. All methods are
// safe for concurrent use; the silence level may be changed while blocks are
// being pushed and takes effect on the next block.
type Segmenter struct {
	level      pcm.AtomicFloat32
	hangover   int
	maxSamples int
	channels   int

	mu      sync.Mutex
	state   State
	quiet   int
	frames  int
	current *Utterance
}

// New creates a Segmenter in the Idle state.
func New(cfg Config) (*Segmenter, error) {
	if cfg.MaxSamples == 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	switch {
	case cfg.Hangover < 1:
		return nil, fmt.Errorf("%w: hangover %d, must be >= 1", ErrInvalidConfig, cfg.Hangover)
	case cfg.MaxSamples < 0:
		return nil, fmt.Errorf("%w: max samples %d", ErrInvalidConfig, cfg.MaxSamples)
	case cfg.Channels < 0:
		return nil, fmt.Errorf("%w: channels %d", ErrInvalidConfig, cfg.Channels)
	case cfg.SilenceLevel < 0 || math.IsNaN(float64(cfg.SilenceLevel)):
		return nil, fmt.Errorf("%w: silence level %v", ErrInvalidConfig, cfg.SilenceLevel)
	}
	s := &Segmenter{
		hangover:   cfg.Hangover,
		maxSamples: cfg.MaxSamples,
		channels:   cfg.Channels,
	}
	s.level.Store(cfg.SilenceLevel)
	return s, nil
}

// SilenceLevel returns the current energy threshold.
func (s *Segmenter) SilenceLevel() float32 {
	return s.level.Load()
}

// SetSilenceLevel updates the energy threshold. Negative and NaN values are
// rejected.
func (s *Segmenter) SetSilenceLevel(level float32) error {
	if level < 0 || math.IsNaN(float64(level)) {
		return fmt.Errorf("%w: silence level %v", ErrInvalidConfig, level)
	}
	s.level.Store(level)
	return nil
}

// Hangover returns the configured hangover block count.
func (s *Segmenter) Hangover() int {
	return s.hangover
}

// Channels returns the interleaved channel count of accepted blocks.
func (s *Segmenter) Channels() int {
	return s.channels
}

// State returns the current state.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of frames accumulated for the in-progress
// utterance.
func (s *Segmenter) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Push feeds one block and returns the finalized utterance, if this block
// completed one. The block must not be modified after the call.
func (s *Segmenter) Push(b Block) *Utterance {
	loud := Energy(b) > float64(s.level.Load())

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle:
		if !loud {
			return nil
		}
		s.state = Recording
		s.quiet = 0
		s.frames = 0
		s.current = &Utterance{
			ID:       uuid.New(),
			Channels: s.channels,
			Started:  time.Now(),
		}
		s.appendLocked(b)
		if s.frames >= s.maxSamples {
			return s.finalizeLocked(true)
		}
		return nil

	case Recording:
		s.appendLocked(b)
		if loud {
			s.quiet = 0
		} else {
			s.quiet++
			if s.quiet >= s.hangover {
				return s.finalizeLocked(false)
			}
		}
		if s.frames >= s.maxSamples {
			return s.finalizeLocked(true)
		}
	}
	return nil
}

// Flush finalizes the in-progress utterance, if any, as if silence had
// been observed. It is used when the input ends.
func (s *Segmenter) Flush() *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return nil
	}
	return s.finalizeLocked(false)
}

// Reset discards any in-progress utterance and returns to Idle.
// It returns the number of frames discarded.
func (s *Segmenter) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.frames
	s.state = Idle
	s.quiet = 0
	s.frames = 0
	s.current = nil
	return n
}

func (s *Segmenter) appendLocked(b Block) {
	s.current.Blocks = append(s.current.Blocks, b)
	s.frames += len(b) / s.channels
}

func (s *Segmenter) finalizeLocked(forced bool) *Utterance {
	u := s.current
	u.Forced = forced
	s.current = nil
	s.state = Idle
	s.quiet = 0
	s.frames = 0
	return u
}
