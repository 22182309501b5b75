package gateway

import (
	"context"
)

// AnswerStream delivers answer fragments from a producer goroutine through a
// bounded channel. It runs once; it cannot be restarted.
type AnswerStream struct {
	fragments chan string
	done      chan struct{}
	err       error
}

// NewAnswerStream starts produce in a goroutine. produce calls emit for every
// fragment; emit blocks while the buffer is full and fails once ctx is done.
func NewAnswerStream(ctx context.Context, buffer int, produce func(ctx context.Context, emit func(string) error) error) *AnswerStream {
	if buffer < 0 {
		buffer = 0
	}
	s := &AnswerStream{
		fragments: make(chan string, buffer),
		done:      make(chan struct{}),
	}
	emit := func(fragment string) error {
		select {
		case s.fragments <- fragment:
			return nil
		case <-ctx.Done():
			return ErrCancelled
		}
	}
	go func() {
		defer close(s.done)
		defer close(s.fragments)
		err := produce(ctx, emit)
		if err == nil && cancelled(ctx) {
			err = ErrCancelled
		}
		s.err = err
	}()
	return s
}

// Fragments is closed when the producer returns.
func (s *AnswerStream) Fragments() <-chan string { return s.fragments }

// Err blocks until the producer has exited and returns its error.
func (s *AnswerStream) Err() error {
	<-s.done
	return s.err
}
