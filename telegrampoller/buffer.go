package telegrampoller

import (
	"context"
	"sync"
)

// Buffer is the unbounded FIFO queue handing updates from the fetcher to the
// dispatcher. All methods are safe for concurrent use.
//
// Waiters block on a one-slot signal channel and can also select on ctx. A
// signal only means "something was appended"; waiters re-check after waking.
type Buffer struct {
	mu     sync.Mutex
	items  []Update
	closed bool

	signal chan struct{}
	done   chan struct{}
}

// NewBuffer creates an empty, open buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Append adds batch to the tail of the queue, preserving its order, and wakes a
// waiter. It returns false without storing anything if the buffer is closed.
func (b *Buffer) Append(batch []Update) bool {
	if len(batch) == 0 {
		return true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, batch...)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
		// a wake-up is already pending
	}
	return true
}

// DrainAll removes and returns every buffered update in FIFO order.
// It never blocks and returns nil when the buffer is empty.
func (b *Buffer) DrainAll() []Update {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return nil
	}
	drained := b.items
	b.items = nil
	return drained
}

// AwaitNonEmpty blocks until the buffer holds at least one update. It returns
// immediately if data is already present, ErrBufferClosed once the buffer is
// closed, or the context error if ctx ends first. Use a context deadline to
// bound the wait.
func (b *Buffer) AwaitNonEmpty(ctx context.Context) error {
	for {
		b.mu.Lock()
		n, closed := len(b.items), b.closed
		b.mu.Unlock()

		switch {
		case closed:
			return ErrBufferClosed
		case n > 0:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBufferClosed
		case <-b.signal:
			// re-check: another consumer may have drained it already
		}
	}
}

// Clear discards all buffered updates and returns how many were dropped.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.items)
	b.items = nil
	return n
}

// Close clears the buffer, rejects further appends and releases every waiter.
// It returns the number of discarded updates. Safe to call multiple times.
func (b *Buffer) Close() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.items)
	b.items = nil
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return n
}

// Len returns the number of buffered updates.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
