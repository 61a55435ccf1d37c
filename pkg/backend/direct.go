package backend

import (
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/papercomputeco/chatstream/pkg/azure"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// Direct calls the Azure OpenAI chat completions API without the kernel.
type Direct struct {
	settings azure.Settings
	masker   *llm.Masker

	once   sync.Once
	client *openai.Client
}

// NewDirect returns a direct adapter for s. Incomplete settings are accepted
// here and reported by Ready.
func NewDirect(s azure.Settings, masker *llm.Masker) *Direct {
	return &Direct{settings: s, masker: masker}
}

func (d *Direct) Name() string { return "direct" }

// Ready reports the configuration precondition as an *llm.ConfigError. It
// never touches the network.
func (d *Direct) Ready() error {
	return d.settings.Check()
}

func (d *Direct) Stream(ctx context.Context, transcript llm.Transcript, params llm.Params) (llm.Stream, error) {
	d.once.Do(func() {
		d.client = azure.NewClient(d.settings)
	})

	req := azure.Request(d.settings.Deployment, transcript, params)
	return azure.OpenStream(ctx, d.client, req, d.Name(), d.masker)
}
