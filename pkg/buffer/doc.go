// Package buffer provides a thread-safe growable FIFO used to hand work
// between goroutines that must not block each other.
//
// Writers (Add, Write) never block, which makes the buffer suitable for
// latency-sensitive producers such as an audio capture goroutine. Readers
// either poll (Poll) or block with a context (Next).
//
// Shutdown is graceful through CloseWrite() (readers drain what is left,
// then receive ErrIteratorDone) or immediate through CloseWithError().
//
// Example usage:
//
//	q := buffer.N[int](16)
//	q.Add(1)
//	q.Add(2)
//	q.CloseWrite()
//
//	for {
//	    v, err := q.Next(ctx)
//	    if errors.Is(err, buffer.ErrIteratorDone) {
//	        break
//	    }
//	    ...
//	}
package buffer
