package chat

import "github.com/papercomputeco/chatstream/pkg/llm"

// Config is the orchestrator configuration.
type Config struct {
	// SystemPrompt opens every transcript.
	SystemPrompt string

	// Defaults are the generation parameters used for options a request
	// leaves out.
	Defaults llm.Params
}
