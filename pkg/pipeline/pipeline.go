// Package pipeline wires capture, segmentation, inference and the command
// channel into a running recognizer.
//
//	Source -> capture.Loop -> segment.Segmenter -> utterance queue
//	       -> inference.Controller -> command.Channel -> consumer
//
// Capture and inference run on separate goroutines connected by an
// unbounded queue, so results keep utterance order and the capture side
// never waits for the model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haivivi/voicecmd/pkg/buffer"
	"github.com/haivivi/voicecmd/pkg/capture"
	"github.com/haivivi/voicecmd/pkg/command"
	"github.com/haivivi/voicecmd/pkg/inference"
	"github.com/haivivi/voicecmd/pkg/segment"
)

// ErrStarted is returned by Start on a pipeline that was already started or
// stopped.
var ErrStarted = errors.New("pipeline: already started")

// Config configures a Pipeline.
type Config struct {
	Source    capture.Source
	Model     inference.Model
	Extractor inference.Extractor // nil means features.Default()

	Segment             segment.Config
	ConfidenceThreshold float64       // zero means inference.DefaultThreshold
	InferenceTimeout    time.Duration // zero disables the bound
	DiscardOnPause      bool
	MaxRetries          int

	Logger *slog.Logger
	// OnResult is forwarded to inference.Config.OnResult.
	OnResult func(u *segment.Utterance, r command.Result)
}

// Pipeline is a running recognizer.
type Pipeline struct {
	logger     *slog.Logger
	segmenter  *segment.Segmenter
	queue      *buffer.Buffer[*segment.Utterance]
	capture    *capture.Loop
	controller *inference.Controller
	commands   *command.Channel

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
	runErr   error
}

// New builds the components without opening the device.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	seg, err := segment.New(cfg.Segment)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	queue := buffer.N[*segment.Utterance](4)
	commands := command.NewChannel()

	ctrl, err := inference.New(inference.Config{
		Model:     cfg.Model,
		Extractor: cfg.Extractor,
		Output:    commands,
		Threshold: cfg.ConfidenceThreshold,
		Timeout:   cfg.InferenceTimeout,
		Logger:    cfg.Logger,
		OnResult:  cfg.OnResult,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	loop, err := capture.New(capture.Config{
		Source:         cfg.Source,
		Segmenter:      seg,
		Output:         queue,
		DiscardOnPause: cfg.DiscardOnPause,
		MaxRetries:     cfg.MaxRetries,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &Pipeline{
		logger:     cfg.Logger,
		segmenter:  seg,
		queue:      queue,
		capture:    loop,
		controller: ctrl,
		commands:   commands,
		done:       make(chan struct{}),
	}, nil
}

// Start opens the device and starts both goroutines. A device-open failure
// is returned and nothing keeps running; Start may then be retried.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := p.capture.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("pipeline: %w", err)
	}
	p.started = true
	p.cancel = cancel
	go p.run(ctx)
	p.logger.Info("pipeline: started",
		"silence_level", p.segmenter.SilenceLevel(),
		"hangover", p.segmenter.Hangover(),
		"threshold", p.controller.Threshold())
	return nil
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	err := p.controller.Run(ctx, p.queue)
	capErr := p.capture.Wait()
	if err != nil {
		// Abandoned: the in-flight utterance was rejected by Run, the
		// remaining ones are rejected here, in queue order.
		p.abandon(err)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}
	p.commands.Close()
	p.runErr = errors.Join(err, capErr)
}

// Pause suspends capture and releases the device.
func (p *Pipeline) Pause() { p.capture.Pause() }

// Resume restarts capture after Pause.
func (p *Pipeline) Resume() { p.capture.Resume() }

// Paused reports whether capture is paused.
func (p *Pipeline) Paused() bool { return p.capture.Paused() }

// SetSilenceLevel updates the segmentation energy threshold.
func (p *Pipeline) SetSilenceLevel(v float32) error {
	return p.segmenter.SetSilenceLevel(v)
}

// SilenceLevel returns the segmentation energy threshold.
func (p *Pipeline) SilenceLevel() float32 { return p.segmenter.SilenceLevel() }

// SetConfidenceThreshold updates the confidence gate.
func (p *Pipeline) SetConfidenceThreshold(v float64) error {
	return p.controller.SetThreshold(v)
}

// ConfidenceThreshold returns the confidence gate.
func (p *Pipeline) ConfidenceThreshold() float64 { return p.controller.Threshold() }

// Commands returns the result channel. It is closed once the pipeline has
// stopped and every finalized utterance has a result.
func (p *Pipeline) Commands() *command.Channel { return p.commands }

// Stats returns inference counters.
func (p *Pipeline) Stats() inference.Stats { return p.controller.Stats() }

// Wait blocks until capture has ended and all queued utterances have been
// processed. It returns the capture or inference error, if any.
func (p *Pipeline) Wait() error {
	<-p.done
	return p.runErr
}

// Stop halts capture and releases the device, then waits for queued
// utterances to be classified. If ctx ends first, the remaining work is
// abandoned: each abandoned utterance still yields a reject result.
func (p *Pipeline) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		err = p.capture.Stop()
		p.mu.Lock()
		p.started = true
		cancel := p.cancel
		p.mu.Unlock()
		if cancel == nil {
			// Never started.
			p.commands.Close()
			close(p.done)
			return
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			cancel()
			<-p.done
		}
		cancel()
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// abandon rejects every utterance still queued so that each one yields
// exactly one result.
func (p *Pipeline) abandon(cause error) {
	for {
		u, ok := p.queue.Poll()
		if !ok {
			return
		}
		r := command.Result{Label: command.Reject, UtteranceID: u.ID, Err: cause}
		if err := p.commands.Push(r); err != nil {
			p.logger.Warn("pipeline: result dropped", "utterance", u.ID, "error", err)
		}
	}
}
