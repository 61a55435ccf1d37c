package azure

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/papercomputeco/chatstream/pkg/llm"
)

// Classify converts a go-openai error into an *llm.UpstreamError carrying a
// short, masked message. Context errors pass through untouched so callers can
// tell a client disconnect or timeout apart from a provider failure.
func Classify(backend string, err error, masker *llm.Masker) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	ue := &llm.UpstreamError{Backend: backend, Cause: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ue.StatusCode = apiErr.HTTPStatusCode
		ue.Message = apiErr.Message
	case errors.As(err, &reqErr):
		// The body did not carry a provider error envelope.
		ue.StatusCode = reqErr.HTTPStatusCode
	default:
		ue.Message = err.Error()
	}

	if ue.Message == "" && ue.StatusCode != 0 {
		ue.Message = http.StatusText(ue.StatusCode)
	}
	if ue.Message == "" {
		ue.Message = "provider request failed"
	}
	ue.Message = masker.Mask(ue.Message)

	return ue
}
