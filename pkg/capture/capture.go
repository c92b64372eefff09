// Package capture drives an audio source into the segmenter.
//
// A Loop reads fixed-size blocks on its own goroutine, feeds each one to a
// segment.Segmenter and appends finalized utterances to an unbounded queue.
// The loop never waits on the consumer of that queue, so slow inference
// cannot stall the device.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haivivi/voicecmd/pkg/buffer"
	"github.com/haivivi/voicecmd/pkg/segment"
)

var (
	// ErrStarted is returned by Start on a loop that was already started.
	ErrStarted = errors.New("capture: already started")

	// ErrDevice wraps the last device error once retries are exhausted.
	ErrDevice = errors.New("capture: device failed")
)

// Stream is an opened audio input.
type Stream interface {
	// ReadBlock blocks until the next block is available. It returns
	// io.EOF when the input is exhausted.
	ReadBlock() (segment.Block, error)
	Close() error
}

// Source opens audio input streams. A Source may be opened again after its
// previous stream was closed.
type Source interface {
	Open() (Stream, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (Stream, error)

// Open implements Source.
func (f SourceFunc) Open() (Stream, error) { return f() }

// Config configures a Loop.
type Config struct {
	Source    Source
	Segmenter *segment.Segmenter
	// Output receives finalized utterances. The loop closes its write side
	// when it terminates.
	Output *buffer.Buffer[*segment.Utterance]
	// DiscardOnPause drops the in-progress utterance on Pause. By default
	// it is kept and continues after Resume.
	DiscardOnPause bool
	// MaxRetries is the number of consecutive reopen attempts after a read
	// or open error before the loop gives up. Default 3.
	MaxRetries int
	// RetryDelay is the initial backoff, doubled per attempt. Default 100ms.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Loop owns the device lifecycle.
type Loop struct {
	cfg    Config
	logger *slog.Logger

	paused atomic.Bool
	wake   chan struct{}
	blocks atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	stream  Stream
	done    chan struct{}
	err     error
}

// New creates a Loop. Nothing is opened until Start.
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil || cfg.Segmenter == nil || cfg.Output == nil {
		return nil, errors.New("capture: source, segmenter and output are required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		cfg:    cfg,
		logger: cfg.Logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Start opens the source and begins feeding blocks. An open failure is
// returned directly and the loop does not start.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrStarted
	}
	var stream Stream
	if !l.paused.Load() {
		s, err := l.cfg.Source.Open()
		if err != nil {
			return fmt.Errorf("capture: open: %w", err)
		}
		stream = s
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.started = true
	l.stream = stream
	go l.run(ctx)
	return nil
}

// Pause stops feeding blocks and releases the device. The segmenter state is
// kept unless DiscardOnPause is set.
func (l *Loop) Pause() {
	if l.paused.Swap(true) {
		return
	}
	l.logger.Info("capture: paused")
}

// Resume reopens the device and continues feeding blocks.
func (l *Loop) Resume() {
	if !l.paused.Swap(false) {
		return
	}
	l.logger.Info("capture: resumed")
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Paused reports whether capture is paused.
func (l *Loop) Paused() bool {
	return l.paused.Load()
}

// Blocks returns the number of blocks read so far.
func (l *Loop) Blocks() int64 {
	return l.blocks.Load()
}

// Stop halts block delivery, releases the device and waits for the loop to
// exit. The output queue is closed for writing; queued utterances remain.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.started = true
		l.mu.Unlock()
		l.cfg.Output.CloseWrite()
		close(l.done)
		return nil
	}
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return l.Wait()
}

// Done is closed when the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the loop exits and returns its terminal error: nil for
// Stop and end of input, an ErrDevice wrap when retries were exhausted.
func (l *Loop) Wait() error {
	<-l.done
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loop) run(ctx context.Context) {
	err := l.loop(ctx)
	l.closeStream()
	l.cfg.Output.CloseWrite()
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	if err != nil {
		l.logger.Error("capture: stopped", "error", err)
	}
	close(l.done)
}

func (l *Loop) loop(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		if l.paused.Load() {
			l.closeStream()
			if l.cfg.DiscardOnPause {
				if n := l.cfg.Segmenter.Reset(); n > 0 {
					l.logger.Info("capture: discarded partial utterance", "frames", n)
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-l.wake:
			}
			continue
		}

		stream := l.currentStream()
		if stream == nil {
			s, err := l.cfg.Source.Open()
			if err != nil {
				if failures, err = l.backoff(ctx, failures, err); err != nil {
					return err
				}
				continue
			}
			l.setStream(s)
			stream = s
		}

		block, err := stream.ReadBlock()
		if errors.Is(err, io.EOF) {
			if u := l.cfg.Segmenter.Flush(); u != nil {
				l.emit(u)
			}
			l.logger.Info("capture: end of input", "blocks", l.blocks.Load())
			return nil
		}
		if err != nil {
			l.closeStream()
			if failures, err = l.backoff(ctx, failures, err); err != nil {
				return err
			}
			continue
		}
		failures = 0
		if l.paused.Load() {
			// Captured after Pause.
			continue
		}
		l.blocks.Add(1)

		if l.logger.Enabled(ctx, slog.LevelDebug) {
			l.logger.Debug("capture: block", "energy", segment.Energy(block), "state", l.cfg.Segmenter.State())
		}
		if u := l.cfg.Segmenter.Push(block); u != nil {
			l.emit(u)
		}
	}
}

func (l *Loop) emit(u *segment.Utterance) {
	if err := l.cfg.Output.Add(u); err != nil {
		l.logger.Warn("capture: utterance dropped", "utterance", u.ID, "error", err)
		return
	}
	l.logger.Debug("capture: utterance", "utterance", u.ID, "frames", u.Len(), "forced", u.Forced)
}

// backoff records a device failure and sleeps before the next attempt.
// It returns an error once MaxRetries consecutive failures have occurred.
func (l *Loop) backoff(ctx context.Context, failures int, cause error) (int, error) {
	failures++
	if failures > l.cfg.MaxRetries {
		return failures, fmt.Errorf("%w: %d attempts: %w", ErrDevice, failures, cause)
	}
	delay := l.cfg.RetryDelay << (failures - 1)
	l.logger.Warn("capture: device error, retrying", "error", cause, "attempt", failures, "delay", delay)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	return failures, nil
}

func (l *Loop) currentStream() Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream
}

func (l *Loop) setStream(s Stream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stream = s
}

func (l *Loop) closeStream() {
	l.mu.Lock()
	s := l.stream
	l.stream = nil
	l.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		l.logger.Warn("capture: close stream", "error", err)
	}
}
