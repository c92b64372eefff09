package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrIteratorDone is returned when iteration is complete.
var ErrIteratorDone = errors.New("iterator done")

// Buffer is a thread-safe growable FIFO queue. Writers never block: the
// backing slice grows as needed. Readers block in Next until an element is
// available, the write side is closed, or the context ends.
//
// The buffer supports graceful shutdown through CloseWrite() (readers drain
// the remaining elements, then get ErrIteratorDone) or CloseWithError()
// (both ends fail immediately and buffered elements are dropped).
type Buffer[T any] struct {
	writeNotify chan struct{}

	mu         sync.Mutex
	closeWrite bool
	closeErr   error
	buf        []T
}

// N creates a new Buffer with the specified initial capacity. The buffer
// grows beyond n when needed.
func N[T any](n int) *Buffer[T] {
	return &Buffer[T]{
		writeNotify: make(chan struct{}, 1),
		buf:         make([]T, 0, n),
	}
}

func (b *Buffer[T]) notifyLocked() {
	select {
	case b.writeNotify <- struct{}{}:
	default:
	}
}

// Add appends a single element to the tail of the buffer. It never blocks.
//
// Returns an error if the buffer is closed for writing or has been closed
// with an error.
func (b *Buffer[T]) Add(t T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return fmt.Errorf("buffer: write to closed buffer: %w", b.closeErr)
	}
	if b.closeWrite {
		return fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
	}
	b.buf = append(b.buf, t)
	b.notifyLocked()
	return nil
}

// Write appends all elements of p to the buffer.
func (b *Buffer[T]) Write(p []T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return 0, fmt.Errorf("buffer: write to closed buffer: %w", b.closeErr)
	}
	if b.closeWrite {
		return 0, fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
	}
	b.buf = append(b.buf, p...)
	b.notifyLocked()
	return len(p), nil
}

// Poll removes and returns the head element without blocking. The boolean
// is false when the buffer is empty or closed with an error.
func (b *Buffer[T]) Poll() (t T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil || len(b.buf) == 0 {
		return
	}
	return b.popLocked(), true
}

func (b *Buffer[T]) popLocked() T {
	var zero T
	t := b.buf[0]
	b.buf[0] = zero
	b.buf = b.buf[1:]
	if len(b.buf) == 0 {
		// Release the consumed prefix of the backing array.
		b.buf = nil
	}
	return t
}

// Next removes and returns the head element, blocking until one is
// available.
//
// Returns ErrIteratorDone once the write side is closed and the buffer is
// drained, the close error if the buffer was closed with CloseWithError, or
// ctx.Err() if the context ends first.
func (b *Buffer[T]) Next(ctx context.Context) (t T, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closeErr != nil {
			err = fmt.Errorf("buffer: read from closed buffer: %w", b.closeErr)
			return
		}
		if len(b.buf) > 0 {
			t = b.popLocked()
			if len(b.buf) > 0 && !b.closeWrite {
				// Hand the wakeup on to other waiting readers.
				b.notifyLocked()
			}
			return t, nil
		}
		if b.closeWrite {
			err = ErrIteratorDone
			return
		}
		b.mu.Unlock()
		select {
		case <-b.writeNotify:
		case <-ctx.Done():
			b.mu.Lock()
			err = ctx.Err()
			return
		}
		b.mu.Lock()
	}
}

func (b *Buffer[T]) closeWithErrorLocked(err error) error {
	if b.closeErr != nil {
		return nil
	}
	b.closeErr = err
	b.buf = nil
	if !b.closeWrite {
		b.closeWrite = true
		close(b.writeNotify)
	}
	return nil
}

// CloseWithError closes both ends of the buffer. Pending and future reads
// and writes return err (io.ErrClosedPipe when err is nil). Buffered
// elements are dropped.
func (b *Buffer[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeWithErrorLocked(err)
}

// Close is CloseWithError(io.ErrClosedPipe).
func (b *Buffer[T]) Close() error {
	return b.CloseWithError(io.ErrClosedPipe)
}

// CloseWrite closes the write side. Readers drain what is left and then
// receive ErrIteratorDone. Returns nil if the write side was already closed.
func (b *Buffer[T]) CloseWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeWrite {
		return nil
	}
	b.closeWrite = true
	close(b.writeNotify)
	return nil
}

// Error returns the error passed to CloseWithError, if any.
func (b *Buffer[T]) Error() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeErr
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Reset drops all buffered elements. It does not reopen a closed buffer.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.buf)
	b.buf = b.buf[:0]
}
