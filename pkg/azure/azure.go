// Package azure wires the go-openai client to an Azure OpenAI deployment and
// decodes its streamed chat completions into llm.Stream fragments.
package azure

import (
	"context"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/papercomputeco/chatstream/pkg/llm"
)

// DefaultAPIVersion is used when no API version is configured.
const DefaultAPIVersion = "2024-07-01-preview"

// Settings are the Azure OpenAI credentials and deployment coordinates.
type Settings struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string

	// HTTPClient overrides the transport, mostly for tests. Nil uses the
	// go-openai default.
	HTTPClient *http.Client
}

// Check validates the settings without touching the network. Credentials are
// checked before the deployment name.
func (s Settings) Check() error {
	if strings.TrimSpace(s.APIKey) == "" || strings.TrimSpace(s.Endpoint) == "" {
		return &llm.ConfigError{
			Setting: "AZURE_OPENAI_API_KEY,AZURE_OPENAI_ENDPOINT",
			Message: "Missing Azure OpenAI settings: AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT must be set",
		}
	}
	if strings.TrimSpace(s.Deployment) == "" {
		return &llm.ConfigError{
			Setting: "AZURE_OPENAI_DEPLOYMENT",
			Message: "AZURE_OPENAI_DEPLOYMENT is not set",
		}
	}
	return nil
}

// NewClient builds a go-openai client bound to the configured deployment.
// Callers are expected to have run Check.
func NewClient(s Settings) *openai.Client {
	cfg := openai.DefaultAzureConfig(s.APIKey, strings.TrimRight(s.Endpoint, "/"))
	cfg.APIVersion = s.APIVersion
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	deployment := s.Deployment
	cfg.AzureModelMapperFunc = func(string) string { return deployment }

	if s.HTTPClient != nil {
		cfg.HTTPClient = s.HTTPClient
	}

	return openai.NewClientWithConfig(cfg)
}

// Request maps a transcript and effective parameters onto a streaming chat
// completion request.
func Request(deployment string, transcript llm.Transcript, params llm.Params) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(transcript))
	for _, m := range transcript {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	return openai.ChatCompletionRequest{
		Model:       deployment,
		Messages:    msgs,
		MaxTokens:   params.MaxTokens,
		Temperature: nonZero(params.Temperature),
		TopP:        nonZero(params.TopP),
		Stream:      true,
	}
}

// nonZero keeps an explicit zero from being dropped by go-openai's omitempty
// tags, which would let the provider apply its own default instead.
func nonZero(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

// OpenStream issues the streaming request. A failure to open is returned as an
// *llm.UpstreamError; context cancellation is returned as is.
func OpenStream(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest, backend string, masker *llm.Masker) (llm.Stream, error) {
	inner, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, Classify(backend, err, masker)
	}

	return &stream{inner: inner, backend: backend, masker: masker}, nil
}
