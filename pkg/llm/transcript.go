package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Transcript is the ordered list of messages sent to a backend for one
// completion.
type Transcript []Message

// BuildTranscript assembles the transcript for a completion: the system prompt,
// then the user and assistant turns of history in order, then message as the
// final user turn. System entries in history are dropped in favour of
// systemPrompt.
func BuildTranscript(systemPrompt string, history []Message, message string) Transcript {
	t := make(Transcript, 0, len(history)+2)
	t = append(t, Message{Role: RoleSystem, Content: systemPrompt})

	for _, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		t = append(t, m)
	}

	return append(t, Message{Role: RoleUser, Content: message})
}

type hashInput struct {
	Parent  string  `json:"parent,omitempty"`
	Message Message `json:"message"`
}

// Fingerprint returns a content-addressed hash of the transcript. Each message
// is hashed together with the hash of the message before it, so two transcripts
// share a fingerprint only when every message matches in order.
func (t Transcript) Fingerprint() string {
	var parent string
	for _, m := range t {
		data, err := json.Marshal(hashInput{Parent: parent, Message: m})
		if err != nil {
			panic("failed to marshal hash input: " + err.Error())
		}
		h := sha256.Sum256(data)
		parent = hex.EncodeToString(h[:])
	}
	return parent
}
