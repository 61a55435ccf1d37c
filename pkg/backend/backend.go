// Package backend provides the generation backends the orchestrator chooses
// between: a managed adapter running on the kernel and a direct adapter that
// talks to Azure OpenAI itself.
package backend

import (
	"context"

	"github.com/papercomputeco/chatstream/pkg/llm"
)

// Backend streams a chat completion for a prepared transcript.
//
// Stream returns an *llm.UpstreamError when the provider rejects the request
// and the returned llm.Stream reports mid-stream failures the same way.
// Backends do not check credentials; see Direct.Ready.
type Backend interface {
	Name() string
	Stream(ctx context.Context, transcript llm.Transcript, params llm.Params) (llm.Stream, error)
}

// Acquisition is the outcome of resolving the managed backend: either a
// usable Backend or the reason none is available.
type Acquisition struct {
	Backend Backend
	Err     error
}

// OK reports whether a backend was acquired.
func (a Acquisition) OK() bool {
	return a.Err == nil && a.Backend != nil
}
