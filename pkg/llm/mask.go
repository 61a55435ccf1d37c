package llm

import (
	"regexp"
	"strings"

	providererrors "github.com/cecil-the-coder/ai-provider-kit/pkg/providers/common/errors"
)

// DefaultMaxMessageLen bounds the length of client-visible upstream messages.
const DefaultMaxMessageLen = 200

// secretMask replaces a configured secret found verbatim in provider text.
const secretMask = "***"

// Masker scrubs credentials out of provider error text before it reaches a
// client.
type Masker struct {
	credentials *providererrors.DefaultMasker
	maxLen      int
}

// NewMasker builds a masker on the provider kit's default credential
// patterns. Every non-empty secret is also replaced verbatim.
func NewMasker(secrets ...string) *Masker {
	credentials := providererrors.DefaultCredentialMasker()
	for _, s := range secrets {
		if strings.TrimSpace(s) == "" {
			continue
		}
		credentials.AddPattern(regexp.MustCompile(regexp.QuoteMeta(s)), secretMask)
	}

	return &Masker{credentials: credentials, maxLen: DefaultMaxMessageLen}
}

// Mask returns s with credentials replaced, whitespace collapsed and the
// result truncated.
func (m *Masker) Mask(s string) string {
	if m == nil {
		return s
	}

	s = m.credentials.MaskString(s)

	s = strings.Join(strings.Fields(s), " ")
	if m.maxLen > 0 && len(s) > m.maxLen {
		cut := m.maxLen
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
