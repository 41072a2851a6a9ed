package logger

import (
	"io"
	"sync"
	"sync/atomic"
)

// AsyncWriter decouples log writes from the caller: Write enqueues and
// returns immediately, a single goroutine drains to the underlying writer.
// When the queue is full the event is dropped rather than blocking.
type AsyncWriter struct {
	ch      chan []byte
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncWriter starts the drain goroutine. buffer is the queue depth.
func NewAsyncWriter(w io.Writer, buffer int) *AsyncWriter {
	a := &AsyncWriter{
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(a.done)
		for p := range a.ch {
			_, _ = w.Write(p)
		}
	}()
	return a
}

// Write never blocks. The byte slice is copied because logrus reuses its
// buffer after Write returns.
func (a *AsyncWriter) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
	default:
		a.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped reports how many events were discarded due to a full queue.
func (a *AsyncWriter) Dropped() uint64 { return a.dropped.Load() }

// Close flushes queued events and stops the drain goroutine.
func (a *AsyncWriter) Close() error {
	a.closeOnce.Do(func() { close(a.ch) })
	<-a.done
	return nil
}
