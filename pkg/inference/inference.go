// Package inference turns finalized utterances into command results.
//
// A Controller runs feature extraction and the classifier on each
// utterance, applies the confidence gate, and pushes exactly one
// command.Result per utterance onto its output channel. Failures of a single
// utterance (malformed audio, numerical errors, panics, timeouts) become
// reject results carrying the cause in Result.Err; they never stop the
// controller.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/haivivi/voicecmd/pkg/buffer"
	"github.com/haivivi/voicecmd/pkg/command"
	"github.com/haivivi/voicecmd/pkg/features"
	"github.com/haivivi/voicecmd/pkg/segment"
)

// DefaultThreshold is the confidence a command must exceed to be emitted.
const DefaultThreshold = 0.9

var (
	// ErrTimeout is recorded on results whose evaluation exceeded the
	// configured timeout.
	ErrTimeout = errors.New("inference: evaluation timed out")

	// ErrInvalidThreshold is returned for thresholds outside (0, 1).
	ErrInvalidThreshold = errors.New("inference: threshold must be in (0, 1)")

	// ErrBadDistribution is recorded when the model output is not a
	// distribution over the known commands.
	ErrBadDistribution = errors.New("inference: bad distribution")
)

// Model maps a feature tensor to class probabilities.
// *model.Classifier implements Model.
type Model interface {
	Forward(feats [][]float32) ([]float64, error)
}

// Extractor converts an utterance into a feature tensor.
// *features.Extractor implements Extractor.
type Extractor interface {
	Extract(u *segment.Utterance) ([][]float32, error)
}

// Config configures a Controller.
type Config struct {
	Model     Model
	Extractor Extractor       // nil means features.Default()
	Output    *command.Channel // required
	// Threshold is the initial confidence gate. Zero means DefaultThreshold.
	Threshold float64
	// Timeout bounds a single evaluation. Zero disables the bound.
	Timeout time.Duration
	Logger  *slog.Logger
	// OnResult, if set, is called from the inference goroutine after each
	// result has been pushed.
	OnResult func(u *segment.Utterance, r command.Result)
}

// Stats counts processed utterances.
type Stats struct {
	Processed  int64
	Recognized int64
	Rejected   int64
	Failed     int64 // rejects caused by an error, included in Rejected
}

// Controller owns the loaded model and the confidence gate.
type Controller struct {
	model     Model
	extractor Extractor
	out       *command.Channel
	timeout   time.Duration
	logger    *slog.Logger
	onResult  func(*segment.Utterance, command.Result)

	threshold atomic.Uint64 // math.Float64bits

	processed  atomic.Int64
	recognized atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
}

// New creates a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Model == nil {
		return nil, errors.New("inference: nil model")
	}
	if cfg.Output == nil {
		return nil, errors.New("inference: nil output channel")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = features.Default()
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("inference: negative timeout %v", cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Controller{
		model:     cfg.Model,
		extractor: cfg.Extractor,
		out:       cfg.Output,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		onResult:  cfg.OnResult,
	}
	if err := c.SetThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	return c, nil
}

// Threshold returns the current confidence gate.
func (c *Controller) Threshold() float64 {
	return math.Float64frombits(c.threshold.Load())
}

// SetThreshold updates the confidence gate; the next utterance uses it.
func (c *Controller) SetThreshold(v float64) error {
	if !(v > 0 && v < 1) {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, v)
	}
	c.threshold.Store(math.Float64bits(v))
	return nil
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Processed:  c.processed.Load(),
		Recognized: c.recognized.Load(),
		Rejected:   c.rejected.Load(),
		Failed:     c.failed.Load(),
	}
}

// Run processes utterances from queue in order until the queue is closed
// and drained (returns nil) or ctx is done (returns ctx.Err()).
func (c *Controller) Run(ctx context.Context, queue *buffer.Buffer[*segment.Utterance]) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		u, err := queue.Next(ctx)
		if errors.Is(err, buffer.ErrIteratorDone) {
			return nil
		}
		if err != nil {
			return err
		}
		c.Process(ctx, u)
	}
}

// Process evaluates one utterance, pushes its result and returns it.
func (c *Controller) Process(ctx context.Context, u *segment.Utterance) command.Result {
	r := c.Evaluate(ctx, u)
	if err := c.out.Push(r); err != nil {
		c.logger.Warn("inference: result dropped", "utterance", r.UtteranceID, "error", err)
	}
	if c.onResult != nil {
		c.onResult(u, r)
	}
	return r
}

// Evaluate computes the result for one utterance without publishing it.
func (c *Controller) Evaluate(ctx context.Context, u *segment.Utterance) command.Result {
	var r command.Result
	if u != nil {
		r.UtteranceID = u.ID
	}
	c.processed.Add(1)

	probs, err := c.classify(ctx, u)
	if err == nil {
		r.Label, r.Confidence, err = Gate(probs, c.Threshold())
	}
	if err != nil {
		r.Label = command.Reject
		r.Err = err
		c.rejected.Add(1)
		c.failed.Add(1)
		attrs := []any{"utterance", r.UtteranceID, "error", err}
		if u != nil {
			attrs = append(attrs, "samples", u.Len())
		}
		c.logger.Warn("inference: utterance rejected", attrs...)
		return r
	}

	if r.Recognized() {
		c.recognized.Add(1)
		c.logger.Info("inference: command", "label", r.Label, "confidence", r.Confidence, "utterance", r.UtteranceID)
	} else {
		c.rejected.Add(1)
		c.logger.Info("inference: no confident match", "confidence", r.Confidence, "utterance", r.UtteranceID)
	}
	return r
}

type outcome struct {
	probs []float64
	err   error
}

// classify runs extraction and the model on a separate goroutine so that a
// timeout or cancellation can abandon it. An abandoned evaluation finishes
// in the background and its outcome is discarded.
func (c *Controller) classify(ctx context.Context, u *segment.Utterance) ([]float64, error) {
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("inference: panic: %v", p)}
			}
		}()
		feats, err := c.extractor.Extract(u)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		probs, err := c.model.Forward(feats)
		done <- outcome{probs: probs, err: err}
	}()

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case o := <-done:
		return o.probs, o.err
	case <-timeout:
		return nil, fmt.Errorf("%w after %v", ErrTimeout, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Gate applies the confidence rule to a distribution over the commands: the
// first class with the highest probability is emitted when that probability
// is strictly greater than threshold, otherwise command.Reject. The top
// probability is returned in both cases.
func Gate(probs []float64, threshold float64) (command.Label, float64, error) {
	if len(probs) != command.NumCommands {
		return command.Reject, 0, fmt.Errorf("%w: %d classes, want %d", ErrBadDistribution, len(probs), command.NumCommands)
	}
	best := 0
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1+1e-9 {
			return command.Reject, 0, fmt.Errorf("%w: class %d probability %v", ErrBadDistribution, i, p)
		}
		if p > probs[best] {
			best = i
		}
	}
	conf := probs[best]
	if conf > threshold {
		return command.Label(best), conf, nil
	}
	return command.Reject, conf, nil
}
