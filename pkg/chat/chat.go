// Package chat orchestrates a streamed completion: it applies generation
// defaults, builds the transcript and decides between the managed and direct
// backends.
package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatstream/pkg/backend"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// Acquirer resolves the managed backend.
type Acquirer interface {
	Acquire() backend.Acquisition
}

// DirectBackend is a backend with a configuration precondition.
type DirectBackend interface {
	backend.Backend
	Ready() error
}

// Service is the single entry point for streamed chat completions. It holds
// no per-request state and is safe for concurrent use.
type Service struct {
	config  Config
	managed Acquirer
	direct  DirectBackend
	logger  *zap.Logger
}

// New creates a Service. managed may be nil, in which case every request goes
// to direct.
func New(config Config, managed Acquirer, direct DirectBackend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:  config,
		managed: managed,
		direct:  direct,
		logger:  logger,
	}
}

// StreamChat starts a completion for req and returns its fragments.
//
// A failed managed acquisition falls back to the direct backend. Once the
// managed backend has been acquired its errors, at open or mid-stream, are
// returned to the caller as they are. An *llm.ConfigError is returned before
// any network call when the direct backend is not configured. The request is
// assumed to have been validated.
func (s *Service) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	params := s.config.Defaults.Merge(req.Options)
	transcript := llm.BuildTranscript(s.config.SystemPrompt, req.History, req.Message)

	logger := s.logger.With(
		zap.Int("message_count", len(transcript)),
		zap.Int("max_tokens", params.MaxTokens),
		zap.Float64("temperature", params.Temperature),
		zap.Float64("top_p", params.TopP),
	)
	if ce := logger.Check(zap.DebugLevel, "built transcript"); ce != nil {
		ce.Write(zap.String("fingerprint", truncate(transcript.Fingerprint(), 16)))
	}

	if s.managed != nil {
		acq := s.managed.Acquire()
		if acq.OK() {
			logger.Debug("streaming on backend", zap.String("backend", acq.Backend.Name()))
			return acq.Backend.Stream(ctx, transcript, params)
		}
		logger.Debug("managed backend unavailable, falling back", zap.Error(acq.Err))
	}

	if s.direct == nil {
		return nil, errors.New("chat: no direct backend configured")
	}
	if err := s.direct.Ready(); err != nil {
		return nil, err
	}

	logger.Debug("streaming on backend", zap.String("backend", s.direct.Name()))
	return s.direct.Stream(ctx, transcript, params)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
