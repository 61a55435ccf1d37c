// Package kernel is a small orchestration runtime: it owns a provider factory
// whose chat-completion services are built lazily and shared by every request.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cecil-the-coder/ai-provider-kit/pkg/factory"
	"github.com/cecil-the-coder/ai-provider-kit/pkg/types"

	"github.com/papercomputeco/chatstream/pkg/llm"
)

// ErrNoService is returned when no chat-completion service is registered.
var ErrNoService = errors.New("kernel: no chat completion service registered")

// topPKey carries nucleus sampling through GenerateOptions.Metadata, which
// has no field of its own for it.
const topPKey = "top_p"

// ServiceFactory constructs an unconfigured provider. The kernel calls it at
// most once per registration and then hands the provider its config.
type ServiceFactory func(types.ProviderConfig) types.Provider

// ExecutionSettings are the generation parameters of one invocation.
type ExecutionSettings struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

func (s ExecutionSettings) options(history *ChatHistory) types.GenerateOptions {
	return types.GenerateOptions{
		Messages:    history.chatMessages(),
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
		Stream:      true,
		Metadata:    map[string]interface{}{topPKey: s.TopP},
	}
}

// SettingsFrom reads execution settings back out of generate options.
func SettingsFrom(opts types.GenerateOptions) ExecutionSettings {
	s := ExecutionSettings{MaxTokens: opts.MaxTokens, Temperature: opts.Temperature}
	if topP, ok := opts.Metadata[topPKey].(float64); ok {
		s.TopP = topP
	}
	return s
}

type entry struct {
	providerType types.ProviderType
	config       types.ProviderConfig
	once         sync.Once
	provider     types.Provider
	err          error
}

func (e *entry) get(f *factory.DefaultProviderFactory) (types.Provider, error) {
	e.once.Do(func() {
		p, err := f.CreateProvider(e.providerType, e.config)
		if err == nil {
			err = p.Configure(e.config)
		}
		if err != nil {
			e.err = err
			return
		}
		e.provider = p
	})
	return e.provider, e.err
}

// Kernel holds the registered services. The zero value is not usable; use New.
type Kernel struct {
	factory *factory.DefaultProviderFactory

	mu       sync.RWMutex
	services map[string]*entry
	order    []string
}

// New returns an empty kernel.
func New() *Kernel {
	return &Kernel{
		factory:  factory.NewProviderFactory(),
		services: make(map[string]*entry),
	}
}

// AddService registers build under id, replacing any earlier registration.
// config is handed to the provider on first use.
func (k *Kernel) AddService(id string, config types.ProviderConfig, build ServiceFactory) {
	providerType := types.ProviderType(id)
	if config.Type == "" {
		config.Type = providerType
	}
	if config.Name == "" {
		config.Name = id
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.factory.RegisterProvider(providerType, build)
	if _, ok := k.services[id]; !ok {
		k.order = append(k.order, id)
	}
	k.services[id] = &entry{providerType: providerType, config: config}
}

// Services lists registered service ids in registration order.
func (k *Kernel) Services() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string(nil), k.order...)
}

// ChatCompletion resolves a service by id, constructing and configuring it on
// first use. An empty id selects the first registered service. Construction
// errors are cached along with successes.
func (k *Kernel) ChatCompletion(id string) (types.Provider, error) {
	k.mu.RLock()
	if id == "" && len(k.order) > 0 {
		id = k.order[0]
	}
	e, ok := k.services[id]
	k.mu.RUnlock()

	if !ok {
		if id == "" {
			return nil, ErrNoService
		}
		return nil, fmt.Errorf("%w: %q", ErrNoService, id)
	}

	p, err := e.get(k.factory)
	if err != nil {
		return nil, fmt.Errorf("kernel: building service %q: %w", id, err)
	}
	return p, nil
}

// StreamChat invokes svc with history and relays its chunks as fragments.
func StreamChat(ctx context.Context, svc types.ChatProvider, history *ChatHistory, settings ExecutionSettings) (llm.Stream, error) {
	chunks, err := svc.GenerateChatCompletion(ctx, settings.options(history))
	if err != nil {
		return nil, err
	}
	return &chunkStream{chunks: chunks}, nil
}

// chunkStream adapts a provider chunk stream to llm.Stream. Empty chunks are
// skipped and a chunk marked done ends the reply.
type chunkStream struct {
	chunks  types.ChatCompletionStream
	pending error
	closed  bool
}

func (s *chunkStream) Recv() (string, error) {
	if s.closed {
		return "", llm.ErrStreamClosed
	}
	if s.pending != nil {
		return "", s.pending
	}

	for {
		chunk, err := s.chunks.Next()
		text := chunkText(chunk)
		if err == nil && chunk.Done {
			err = io.EOF
		}
		if err != nil {
			if text != "" {
				s.pending = err
				return text, nil
			}
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}
}

func (s *chunkStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.chunks.Close()
}

func chunkText(chunk types.ChatCompletionChunk) string {
	if chunk.Content != "" {
		return chunk.Content
	}
	if len(chunk.Choices) > 0 {
		return chunk.Choices[0].Delta.Content
	}
	return ""
}
