// Package summarize produces the free-text summary stored on a call
// session. The default is a deterministic template; when a Gemini API
// key is configured the gateway upgrades to model-written summaries.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/dialwire/dialwire/pkg/core/call"
)

// Summarizer writes a short post-call summary from the transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []call.Utterance, classification string) (string, error)
}

// Template is the deterministic fallback Summarizer.
type Template struct{}

func (Template) Summarize(_ context.Context, transcript []call.Utterance, classification string) (string, error) {
	last := ""
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == call.RoleCaller {
			last = transcript[i].Text
			break
		}
	}
	if last == "" {
		return fmt.Sprintf("Call concluded; prospect classified as %q.", classification), nil
	}
	return fmt.Sprintf("Call concluded; prospect classified as %q. Last response: %s", classification, strings.TrimSpace(last)), nil
}
