package kernel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/cecil-the-coder/ai-provider-kit/pkg/providers/base"
	"github.com/cecil-the-coder/ai-provider-kit/pkg/types"
	openai "github.com/sashabaranov/go-openai"

	"github.com/papercomputeco/chatstream/pkg/azure"
	"github.com/papercomputeco/chatstream/pkg/config"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// AzureServiceID is the id the Azure chat completion service registers under.
const AzureServiceID = "azure-openai"

const apiVersionKey = "api_version"

// AzureConfig describes an Azure OpenAI deployment as a provider config.
func AzureConfig(s azure.Settings) types.ProviderConfig {
	return types.ProviderConfig{
		Type:              types.ProviderType(AzureServiceID),
		Name:              AzureServiceID,
		BaseURL:           s.Endpoint,
		APIKey:            s.APIKey,
		DefaultModel:      s.Deployment,
		ProviderConfig:    map[string]interface{}{apiVersionKey: s.APIVersion},
		SupportsStreaming: true,
	}
}

func azureSettings(cfg types.ProviderConfig, httpClient *http.Client) azure.Settings {
	s := azure.Settings{
		APIKey:     cfg.APIKey,
		Endpoint:   cfg.BaseURL,
		Deployment: cfg.DefaultModel,
		HTTPClient: httpClient,
	}
	if v, ok := cfg.ProviderConfig[apiVersionKey].(string); ok {
		s.APIVersion = v
	}
	return s
}

// azureProvider serves chat completions from an Azure OpenAI deployment. The
// client is bound by Configure.
type azureProvider struct {
	*base.BaseProvider

	httpClient *http.Client
	masker     *llm.Masker

	mu         sync.RWMutex
	client     *openai.Client
	deployment string
}

// NewAzureChatCompletion returns a factory for providers backed by an Azure
// OpenAI deployment. httpClient may be nil to use the go-openai default.
func NewAzureChatCompletion(httpClient *http.Client, masker *llm.Masker) ServiceFactory {
	return func(cfg types.ProviderConfig) types.Provider {
		return &azureProvider{
			BaseProvider: base.NewBaseProvider(cfg.Name, cfg, httpClient, nil),
			httpClient:   httpClient,
			masker:       masker,
		}
	}
}

func (p *azureProvider) Description() string { return "Azure OpenAI chat completions" }

// Configure fails when the deployment settings are incomplete.
func (p *azureProvider) Configure(cfg types.ProviderConfig) error {
	s := azureSettings(cfg, p.httpClient)
	if err := s.Check(); err != nil {
		return err
	}

	p.mu.Lock()
	p.client = azure.NewClient(s)
	p.deployment = s.Deployment
	p.mu.Unlock()

	return p.BaseProvider.Configure(cfg)
}

func (p *azureProvider) HealthCheck(context.Context) error {
	return azureSettings(p.GetConfig(), p.httpClient).Check()
}

func (p *azureProvider) GenerateChatCompletion(ctx context.Context, opts types.GenerateOptions) (types.ChatCompletionStream, error) {
	p.mu.RLock()
	client, deployment := p.client, p.deployment
	p.mu.RUnlock()

	if client == nil {
		return nil, errors.New("kernel: azure provider is not configured")
	}
	p.IncrementRequestCount()

	settings := SettingsFrom(opts)
	req := azure.Request(deployment, TranscriptFrom(opts.Messages), llm.Params{
		MaxTokens:   settings.MaxTokens,
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
	})

	stream, err := azure.OpenStream(ctx, client, req, "kernel/"+AzureServiceID, p.masker)
	if err != nil {
		p.RecordError(err)
		return nil, err
	}
	return &fragmentChunks{stream: stream, model: deployment}, nil
}

// fragmentChunks exposes an llm.Stream as provider chunks.
type fragmentChunks struct {
	stream llm.Stream
	model  string
}

func (c *fragmentChunks) Next() (types.ChatCompletionChunk, error) {
	frag, err := c.stream.Recv()
	if errors.Is(err, io.EOF) {
		return types.ChatCompletionChunk{Model: c.model, Done: true}, io.EOF
	}
	if err != nil {
		return types.ChatCompletionChunk{}, err
	}
	return types.ChatCompletionChunk{Model: c.model, Content: frag}, nil
}

func (c *fragmentChunks) Close() error { return c.stream.Close() }

// AddAzureService registers an Azure OpenAI provider for s under
// AzureServiceID.
func (k *Kernel) AddAzureService(s azure.Settings, masker *llm.Masker) {
	k.AddService(AzureServiceID, AzureConfig(s), NewAzureChatCompletion(s.HTTPClient, masker))
}

// FromConfig builds the kernel for a process. The Azure service is only
// registered when the managed backend is enabled.
func FromConfig(cfg *config.Config, masker *llm.Masker) *Kernel {
	k := New()
	if cfg.Managed.Enabled {
		k.AddAzureService(cfg.AzureSettings(), masker)
	}
	return k
}
