package llm

import "fmt"

// Options contains the per-request generation overrides. A nil field means
// "use the configured default".
type Options struct {
	MaxTokens   *int     `json:"max_tokens,omitempty"`  // Max tokens to generate (>= 1)
	Temperature *float64 `json:"temperature,omitempty"` // Creativity (0.0-2.0)
	TopP        *float64 `json:"top_p,omitempty"`       // Nucleus sampling threshold (0.0-1.0)
}

// Validate checks the bounds of every present field.
func (o *Options) Validate() []string {
	if o == nil {
		return nil
	}

	var problems []string
	if o.MaxTokens != nil && *o.MaxTokens < 1 {
		problems = append(problems, fmt.Sprintf("options.max_tokens must be >= 1, got %d", *o.MaxTokens))
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
		problems = append(problems, fmt.Sprintf("options.temperature must be between 0 and 2, got %g", *o.Temperature))
	}
	if o.TopP != nil && (*o.TopP < 0 || *o.TopP > 1) {
		problems = append(problems, fmt.Sprintf("options.top_p must be between 0 and 1, got %g", *o.TopP))
	}
	return problems
}

// Params are the effective generation parameters sent to a backend.
type Params struct {
	MaxTokens   int     `json:"max_tokens" toml:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" toml:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" toml:"top_p" yaml:"top_p"`
}

// Merge overlays the present fields of o onto p. Fields are overridden
// independently; an absent field never replaces a default.
func (p Params) Merge(o *Options) Params {
	if o == nil {
		return p
	}
	if o.MaxTokens != nil {
		p.MaxTokens = *o.MaxTokens
	}
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		p.TopP = *o.TopP
	}
	return p
}
