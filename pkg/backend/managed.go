package backend

import (
	"context"
	"errors"

	"github.com/cecil-the-coder/ai-provider-kit/pkg/types"

	"github.com/papercomputeco/chatstream/pkg/kernel"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// Managed runs completions through a kernel chat-completion provider.
type Managed struct {
	kernel    *kernel.Kernel
	serviceID string
}

// NewManaged adapts k. An empty serviceID selects the kernel's default service.
func NewManaged(k *kernel.Kernel, serviceID string) *Managed {
	return &Managed{kernel: k, serviceID: serviceID}
}

// Acquire resolves the kernel service. It never touches the network.
func (m *Managed) Acquire() Acquisition {
	if m == nil || m.kernel == nil {
		return Acquisition{Err: errors.New("backend: managed kernel not configured")}
	}

	svc, err := m.kernel.ChatCompletion(m.serviceID)
	if err != nil {
		return Acquisition{Err: err}
	}

	return Acquisition{Backend: &managedBackend{svc: svc}}
}

type managedBackend struct {
	svc types.ChatProvider
}

func (b *managedBackend) Name() string { return "managed" }

func (b *managedBackend) Stream(ctx context.Context, transcript llm.Transcript, params llm.Params) (llm.Stream, error) {
	history := kernel.NewChatHistory()
	for _, m := range transcript {
		switch m.Role {
		case llm.RoleSystem:
			history.AddSystemMessage(m.Content)
		case llm.RoleUser:
			history.AddUserMessage(m.Content)
		case llm.RoleAssistant:
			history.AddAssistantMessage(m.Content)
		}
	}

	return kernel.StreamChat(ctx, b.svc, history, kernel.ExecutionSettings{
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	})
}
