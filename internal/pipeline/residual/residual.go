// Package residual writes messages the matching service could not classify.
package residual

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sync"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/models"
)

// Layout selects the columns written per message.
type Layout string

const (
	// LayoutFull writes receivedAt, recipientAddress, body.
	LayoutFull Layout = "full"
	// LayoutMinimal writes sender, body.
	LayoutMinimal Layout = "minimal"
)

// UnmatchedCounter is told how many rows each successful flush delivered.
type UnmatchedCounter interface {
	AddUnmatched(n int64)
}

// Sink appends residual rows in call order. It is safe for concurrent use,
// though the driver only writes from one goroutine.
type Sink struct {
	mu      sync.Mutex
	w       *csv.Writer
	closer  io.Closer
	layout  Layout
	counter UnmatchedCounter
	// buffered rows are counted once a flush succeeds.
	buffered int64
	written  int64
	closed   bool
}

// NewSink writes to w. counter may be nil.
func NewSink(w io.Writer, layout Layout, counter UnmatchedCounter) *Sink {
	if layout == "" {
		layout = LayoutFull
	}
	return &Sink{w: csv.NewWriter(w), layout: layout, counter: counter}
}

// Create truncates or creates path and returns a Sink that closes it.
func Create(path string, layout Layout, counter UnmatchedCounter) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.NewSinkWriteError(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, apperrors.NewSinkWriteError(err)
	}
	s := NewSink(f, layout, counter)
	s.closer = f
	return s, nil
}

func (s *Sink) record(msg *models.Message) []string {
	if s.layout == LayoutMinimal {
		return []string{msg.Sender, msg.Body}
	}
	return []string{msg.ReceivedAt, msg.RecipientAddress, msg.Body}
}

// Write appends msg. Output is buffered until Flush or Close, and the row
// counts as unmatched only once it has been flushed.
func (s *Sink) Write(msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.NewInvalidStateError("residual.Write", "closed")
	}
	if err := s.w.Write(s.record(msg)); err != nil {
		return apperrors.NewSinkWriteError(err)
	}
	s.buffered++
	return nil
}

// Flush pushes buffered rows to the underlying writer.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Sink) flushLocked() error {
	n := s.buffered
	s.buffered = 0

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return apperrors.NewSinkWriteError(err)
	}
	s.written += n
	if s.counter != nil && n > 0 {
		s.counter.AddUnmatched(n)
	}
	return nil
}

// Close flushes and closes the output. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.flushLocked()
	if s.closer != nil {
		if err := s.closer.Close(); err != nil && flushErr == nil {
			return apperrors.NewSinkWriteError(err)
		}
	}
	return flushErr
}

// Written is the number of rows flushed so far.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
