package command

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/haivivi/voicecmd/pkg/buffer"
)

// Result is the outcome for one finalized utterance.
type Result struct {
	Label       Label
	Confidence  float64   // probability of the top class, in [0, 1]
	UtteranceID uuid.UUID // correlates with segment.Utterance.ID
	// Err records why the utterance was rejected without a usable
	// distribution, e.g. a feature extraction failure or timeout.
	Err error
}

// Recognized reports whether the result carries a command.
func (r Result) Recognized() bool {
	return r.Label.Valid()
}

// ErrClosed is returned by Next after the channel is closed and drained.
var ErrClosed = errors.New("command: channel closed")

// Channel is an unbounded FIFO of results. Push never blocks and never
// drops; any number of goroutines may consume.
type Channel struct {
	buf *buffer.Buffer[Result]
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{buf: buffer.N[Result](16)}
}

// Push appends a result. It fails only after Close.
func (c *Channel) Push(r Result) error {
	if err := c.buf.Add(r); err != nil {
		return ErrClosed
	}
	return nil
}

// Poll returns the oldest result without blocking.
func (c *Channel) Poll() (Result, bool) {
	return c.buf.Poll()
}

// Next blocks until a result is available, the channel is closed and
// drained (ErrClosed), or ctx is done.
func (c *Channel) Next(ctx context.Context) (Result, error) {
	r, err := c.buf.Next(ctx)
	if errors.Is(err, buffer.ErrIteratorDone) {
		return r, ErrClosed
	}
	return r, err
}

// Len returns the number of queued results.
func (c *Channel) Len() int {
	return c.buf.Len()
}

// Close stops accepting results. Queued results remain readable.
func (c *Channel) Close() error {
	return c.buf.CloseWrite()
}
