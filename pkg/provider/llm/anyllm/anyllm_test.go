package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/aurarelay/pkg/provider/llm"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   llm.Message
	}{
		{"system", llm.Message{Role: llm.RoleSystem, Content: "You are helpful."}},
		{"user", llm.Message{Role: llm.RoleUser, Content: "Hello!"}},
		{"assistant", llm.Message{Role: llm.RoleAssistant, Content: "Hi there!"}},
		{"named", llm.Message{Role: llm.RoleUser, Content: "Hi", Name: "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := convertMessage(tt.in)
			if got.Role != tt.in.Role {
				t.Errorf("role = %q, want %q", got.Role, tt.in.Role)
			}
			if got.ContentString() != tt.in.Content {
				t.Errorf("content = %q, want %q", got.ContentString(), tt.in.Content)
			}
			if got.Name != tt.in.Name {
				t.Errorf("name = %q, want %q", got.Name, tt.in.Name)
			}
		})
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.0-flash"}
	req := llm.UserPrompt("rewrite this")
	req.SystemPrompt = "be brief"

	params := p.buildParams(req)
	if params.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q, want gemini-2.0-flash", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "be brief" {
		t.Errorf("first message = %+v, want system prompt", params.Messages[0])
	}
	if params.Messages[1].ContentString() != "rewrite this" {
		t.Errorf("second message content = %q", params.Messages[1].ContentString())
	}
}

func TestBuildParams_OptionalFields(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "m"}

	params := p.buildParams(llm.UserPrompt("x"))
	if params.Temperature != nil {
		t.Errorf("temperature = %v, want nil for zero value", *params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("max tokens = %v, want nil for zero value", *params.MaxTokens)
	}

	req := llm.UserPrompt("x")
	req.Temperature = 0.2
	req.MaxTokens = 64
	params = p.buildParams(req)
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("max tokens = %v, want 64", params.MaxTokens)
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gemini-2.0-flash"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := New("gemini", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"NewGemini", func() (*Provider, error) { return NewGemini("gemini-2.0-flash", anyllmlib.WithAPIKey("test")) }},
		{"NewOpenAI", func() (*Provider, error) { return NewOpenAI("gpt-4o", anyllmlib.WithAPIKey("sk-test")) }},
		{"NewOllama", func() (*Provider, error) { return NewOllama("llama3") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			if p == nil || p.Model() == "" {
				t.Fatalf("%s: expected provider with a model", tt.name)
			}
		})
	}
}
