package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/haivivi/voicecmd/pkg/audio/pcm"
	"github.com/haivivi/voicecmd/pkg/capture"
	"github.com/haivivi/voicecmd/pkg/segment"
)

// InputConfig configures an input stream.
type InputConfig struct {
	// Device is a device index from Devices, or DefaultDevice.
	Device int
	// BlockDuration is the length of each block returned by ReadBlock.
	BlockDuration time.Duration
}

// InputStream is a started blocking-read input stream. It satisfies
// capture.Stream.
type InputStream struct {
	stream *pa.Stream
	buf    []float32

	closeOnce sync.Once
	closeErr  error
}

// OpenInput initializes PortAudio, opens a mono float32 stream at
// pcm.SampleRate on the configured device and starts it.
func OpenInput(cfg InputConfig) (*InputStream, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	s, err := openInput(cfg)
	if err != nil {
		Terminate()
		return nil, err
	}
	return s, nil
}

func openInput(cfg InputConfig) (*InputStream, error) {
	dev, err := lookup(cfg.Device)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, BlockFrames(cfg.BlockDuration))

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(pcm.SampleRate)
	params.FramesPerBuffer = len(buf)

	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start %q: %w", dev.Name, err)
	}
	return &InputStream{stream: stream, buf: buf}, nil
}

// ReadBlock blocks until a full block is captured and returns a copy of it.
// Input overflow is tolerated: the block is returned as captured.
func (s *InputStream) ReadBlock() (segment.Block, error) {
	if err := s.stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return nil, fmt.Errorf("portaudio: read: %w", err)
	}
	b := make(segment.Block, len(s.buf))
	copy(b, s.buf)
	return b, nil
}

// Close stops and closes the stream and releases the library reference.
// It is safe to call more than once.
func (s *InputStream) Close() error {
	s.closeOnce.Do(func() {
		err := s.stream.Stop()
		if cerr := s.stream.Close(); err == nil {
			err = cerr
		}
		Terminate()
		s.closeErr = err
	})
	return s.closeErr
}

// Source returns a capture.Source that opens a new input stream on every
// Open, so the capture loop can reopen the device after a failure.
func Source(cfg InputConfig) capture.Source {
	return capture.SourceFunc(func() (capture.Stream, error) {
		return OpenInput(cfg)
	})
}
