package llm

import (
	"fmt"
	"strings"
)

// ChatRequest is the body accepted by the streaming chat endpoint.
type ChatRequest struct {
	Message string    `json:"message"`           // The current user message
	History []Message `json:"history,omitempty"` // Prior conversation, oldest first
	Options *Options  `json:"options,omitempty"` // Generation overrides
}

// Validate returns a list of human readable problems, or nil when the request
// is acceptable.
func (r *ChatRequest) Validate() []string {
	var problems []string

	if r.Message == "" {
		problems = append(problems, "message must not be empty")
	}

	for i, m := range r.History {
		if !m.Role.Valid() {
			problems = append(problems, fmt.Sprintf("history[%d].role must be one of system, user, assistant, got %q", i, m.Role))
		}
	}

	problems = append(problems, r.Options.Validate()...)
	return problems
}

// ValidationError is returned when a ChatRequest fails validation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid chat request: " + strings.Join(e.Problems, "; ")
}
