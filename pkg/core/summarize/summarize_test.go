package summarize

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dialwire/dialwire/pkg/core/call"
)

func TestTemplate_UsesLastCallerUtterance(t *testing.T) {
	transcript := []call.Utterance{
		{Role: call.RoleAgent, Text: "Hi, is this Dana?", At: time.Now()},
		{Role: call.RoleCaller, Text: "Yes, tell me more", At: time.Now()},
		{Role: call.RoleAgent, Text: "Great!", At: time.Now()},
	}
	got, err := Template{}.Summarize(context.Background(), transcript, "interested")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(got, `"interested"`) || !strings.Contains(got, "Yes, tell me more") {
		t.Fatalf("summary = %q", got)
	}
}

func TestTemplate_EmptyTranscript(t *testing.T) {
	got, err := Template{}.Summarize(context.Background(), nil, "unclear")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(got, `"unclear"`) {
		t.Fatalf("summary = %q", got)
	}
}
