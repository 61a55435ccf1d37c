package llm

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// Stream yields text fragments of a model reply in emission order.
//
// Recv returns (fragment, nil) for each non-empty fragment and io.EOF once the
// reply is complete. A Stream is finite and cannot be restarted. Close releases
// the underlying connection and may be called at any point, more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("llm: stream closed")

// Counter wraps a Stream and tallies what has been handed out.
type Counter struct {
	Stream

	Fragments  int
	Characters int
}

// Recv forwards to the wrapped stream and counts each fragment.
func (c *Counter) Recv() (string, error) {
	s, err := c.Stream.Recv()
	if err == nil {
		c.Fragments++
		c.Characters += utf8.RuneCountInString(s)
	}
	return s, err
}

// Collect drains the stream and returns the concatenated text. The stream is
// closed on return. The text received before a failure is returned with the
// error.
func Collect(s Stream) (string, error) {
	defer s.Close()

	var b strings.Builder
	for {
		frag, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return b.String(), err
		}
		b.WriteString(frag)
	}
}
