package transport

import (
	"errors"
	"sync/atomic"

	"github.com/kstaniek/go-fp-driver/internal/syncutil"
)

var (
	ErrQueueClosed = errors.New("tx queue closed")
	// ErrTxOverflow is the conventional OnDrop result for a full queue.
	ErrTxOverflow = errors.New("tx queue overflow")
)

// QueueHooks customize TxQueue behavior.
type QueueHooks struct {
	// OnDrop is called when the queue is full; its returned error is returned
	// from Push. If nil, the overflow is silent.
	OnDrop func() error
}

// TxQueue is a bounded hand-off between producers on any goroutine and the
// single goroutine that owns the connection. Push never blocks; the owner
// empties the queue with Drain between reads.
type TxQueue[T any] struct {
	mu     syncutil.Mutex
	ch     chan T
	hooks  QueueHooks
	closed atomic.Bool
}

func NewTxQueue[T any](size int, hooks QueueHooks) *TxQueue[T] {
	if size <= 0 {
		size = 1
	}
	return &TxQueue[T]{ch: make(chan T, size), hooks: hooks}
}

// Push enqueues v or, when the queue is full, returns the OnDrop error.
func (q *TxQueue[T]) Push(v T) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		if q.hooks.OnDrop != nil {
			return q.hooks.OnDrop()
		}
		return nil
	}
}

// Drain hands every queued item to fn without blocking and returns how many
// were handed over.
func (q *TxQueue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		select {
		case v, ok := <-q.ch:
			if !ok {
				return n
			}
			fn(v)
			n++
		default:
			return n
		}
	}
}

func (q *TxQueue[T]) Len() int { return len(q.ch) }

// Close rejects further pushes. Items already queued can still be drained.
func (q *TxQueue[T]) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
}
