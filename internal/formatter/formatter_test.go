package formatter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/aurarelay/internal/observe"
	"github.com/MrWong99/aurarelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/aurarelay/pkg/provider/llm/mock"
)

func newFormatter(t *testing.T, p llm.Provider, opts ...Option) *Formatter {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return New(p, append([]Option{WithMetrics(met)}, opts...)...)
}

// ─── BuildPrompt ──────────────────────────────────────────────────────────────

func TestBuildPrompt_TextOnly(t *testing.T) {
	t.Parallel()
	got, err := BuildPrompt(Message{Text: "Build finished with 2 warnings"})
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if !strings.HasSuffix(got, `Input text: "Build finished with 2 warnings"`) {
		t.Errorf("prompt does not end with the quoted input:\n%s", got)
	}
	if !strings.Contains(got, "Do not mention JSON or field names.") {
		t.Errorf("prompt missing the field-name instruction:\n%s", got)
	}
	if strings.Contains(got, "Additional data") {
		t.Errorf("prompt has an additional data block without payload:\n%s", got)
	}
}

func TestBuildPrompt_Payload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{
			name:    "map",
			payload: map[string]any{"options": []any{"yes", "no"}},
			want:    "\n\nAdditional data:\n{\n  \"options\": [\n    \"yes\",\n    \"no\"\n  ]\n}",
		},
		{
			name:    "list",
			payload: []any{"main", "develop"},
			want:    "\n\nAdditional data:\n[\n  \"main\",\n  \"develop\"\n]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := BuildPrompt(Message{Text: "Pick one", Payload: tt.payload})
			if err != nil {
				t.Fatalf("BuildPrompt: %v", err)
			}
			if !strings.HasSuffix(got, tt.want) {
				t.Errorf("prompt suffix mismatch:\ngot:\n%s\nwant suffix:\n%s", got, tt.want)
			}
		})
	}
}

func TestBuildPrompt_EmptyPayloadsIgnored(t *testing.T) {
	t.Parallel()
	for _, p := range []any{nil, map[string]any{}, []any{}, "scalar", 42.0} {
		got, err := BuildPrompt(Message{Text: "ok", Payload: p})
		if err != nil {
			t.Fatalf("BuildPrompt(%v): %v", p, err)
		}
		if strings.Contains(got, "Additional data") {
			t.Errorf("payload %#v produced an additional data block", p)
		}
	}
}

// ─── Format ───────────────────────────────────────────────────────────────────

func TestFormat_TrimsResponse(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "\n  Your build passed.  \n"}}
	f := newFormatter(t, p)

	got, err := f.Format(context.Background(), Message{Text: "build ok"})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != "Your build passed." {
		t.Errorf("Format = %q, want %q", got, "Your build passed.")
	}
	if n := p.CallCount(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
	if !strings.Contains(p.LastPrompt(), `Input text: "build ok"`) {
		t.Errorf("prompt = %q", p.LastPrompt())
	}
}

func TestFormat_ErrorNotRetried(t *testing.T) {
	t.Parallel()
	boom := errors.New("503")
	p := &llmmock.Provider{CompleteErr: boom}
	f := newFormatter(t, p)

	if _, err := f.Format(context.Background(), Message{Text: "x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
	if n := p.CallCount(); n != 1 {
		t.Errorf("calls = %d, want exactly 1", n)
	}
}

func TestFormat_NilResponse(t *testing.T) {
	t.Parallel()
	f := newFormatter(t, &llmmock.Provider{})
	got, err := f.Format(context.Background(), Message{Text: "x"})
	if err != nil || got != "" {
		t.Errorf("Format = (%q, %v), want empty and nil", got, err)
	}
}

func TestFormat_Timeout(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newFormatter(t, p, WithTimeout(20*time.Millisecond))
	if _, err := f.Format(context.Background(), Message{Text: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
