package azure

import (
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/papercomputeco/chatstream/pkg/llm"
)

type stream struct {
	inner   *openai.ChatCompletionStream
	backend string
	masker  *llm.Masker
	closed  bool
}

// Recv returns the next non-empty content delta of the first choice. Events
// without choices (Azure sends content filter results that way) and empty
// deltas are skipped.
func (s *stream) Recv() (string, error) {
	if s.closed {
		return "", llm.ErrStreamClosed
	}

	for {
		resp, err := s.inner.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", Classify(s.backend, err, s.masker)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.inner.Close()
}
