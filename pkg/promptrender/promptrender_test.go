package promptrender

import (
	"errors"
	"strings"
	"testing"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

func TestRenderSimpleDocumentField(t *testing.T) {
	r := NewRenderer(0)
	ctx := BuildContext(map[string]any{"title": "Widget"}, nil, nil, nil)

	out, err := r.Render("Summarize: {{.document.title}}", ctx, "t1")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Summarize: Widget" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderJSONFilter(t *testing.T) {
	r := NewRenderer(0)
	ctx := BuildContext(map[string]any{"tags": []any{"a", "b"}}, nil, nil, nil)

	out, err := r.Render("{{.document.tags | json}}", ctx, "t2")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != `["a","b"]` {
		t.Fatalf("got %q", out)
	}
}

func TestRenderTruncateWordsFilter(t *testing.T) {
	r := NewRenderer(0)
	ctx := BuildContext(map[string]any{"body": "one two three four five"}, nil, nil, nil)

	out, err := r.Render("{{.document.body | truncateWords 3}}", ctx, "t3")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "one two three..." {
		t.Fatalf("got %q", out)
	}
}

func TestRenderUsesAgentAndEventContext(t *testing.T) {
	r := NewRenderer(0)
	agent := &model.Agent{ID: "agent-1"}
	event := &model.ChangeEvent{Operation: model.OpUpdate}
	ctx := BuildContext(map[string]any{}, event, agent, nil)

	out, err := r.Render("{{.agent.ID}}/{{.operation}}", ctx, "t4")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "agent-1/update" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderMissingKeyErrorsUnderStrictMode(t *testing.T) {
	r := NewRenderer(0)

	_, err := r.Render("{{.totally_missing}}", map[string]any{}, "t6")
	if err == nil {
		t.Fatal("expected missingkey=error to fail on an unknown context key")
	}
}

func TestRenderCachesParsedTemplates(t *testing.T) {
	r := NewRenderer(0)
	ctx := BuildContext(map[string]any{"title": "Widget"}, nil, nil, nil)

	if _, err := r.Render("{{.document.title}}", ctx, "same"); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(r.cache) != 1 {
		t.Fatalf("expected 1 cached template, got %d", len(r.cache))
	}
	if _, err := r.Render("{{.document.title}}", ctx, "same-again"); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(r.cache) != 1 {
		t.Fatalf("expected identical template bodies to share one cache entry, got %d", len(r.cache))
	}
}

func TestRenderEvictsOldestWhenOverCapacity(t *testing.T) {
	r := NewRenderer(2)
	ctx := map[string]any{}

	for i, body := range []string{"a", "b", "c"} {
		if _, err := r.Render(body, ctx, string(rune('a'+i))); err != nil {
			t.Fatalf("Render %d: %v", i, err)
		}
	}
	if len(r.cache) != 2 {
		t.Fatalf("expected cache capped at 2 entries, got %d", len(r.cache))
	}
}

func TestExtractFieldFilter(t *testing.T) {
	r := NewRenderer(0)
	ctx := BuildContext(map[string]any{"meta": map[string]any{"owner": "alice"}}, nil, nil, nil)

	out, err := r.Render(`{{extractField "meta.owner" .document}}`, ctx, "t7")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "alice" {
		t.Fatalf("got %q", out)
	}
}

func TestListToTextFilter(t *testing.T) {
	r := NewRenderer(0)
	ctx := BuildContext(map[string]any{"tags": []any{"a", "b", "c"}}, nil, nil, nil)

	out, err := r.Render(`{{.document.tags | listToText ", "}}`, ctx, "t8")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "a, b, c" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderErrorWrapsErrRender(t *testing.T) {
	r := NewRenderer(0)
	_, err := r.Render("{{ .document.unterminated ", map[string]any{}, "broken")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !errors.Is(err, ErrRender) {
		t.Fatalf("expected error to wrap ErrRender, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected template name in error, got %v", err)
	}
}
