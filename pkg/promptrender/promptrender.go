// Package promptrender renders an agent's prompt/system_prompt templates
// against the matched document and change event. Grounded on
// original_source/src/mongoclaw/ai/prompt_engine.py's PromptEngine, ported
// from Jinja2 to Go's text/template: Jinja2's pipe-style custom filters
// (`{{ value | json }}`) map onto template.FuncMap functions invoked through
// the same pipe syntax, and StrictUndefined becomes
// Option("missingkey=error") so a typo'd field name fails loudly instead of
// rendering an empty string. The prompt-template *language* itself is out of
// scope (spec.md Non-goals); this package only supplies the rendering
// engine an agent's own templates run against.
package promptrender

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// ErrRender wraps any failure to parse or execute a template, matching
// PromptRenderError.
var ErrRender = model.ErrPromptRender

// Renderer caches parsed templates keyed by a hash of their source text,
// evicting the oldest entry once the cache exceeds maxEntries, mirroring
// PromptEngine's simple oldest-eviction template cache.
type Renderer struct {
	mu         sync.Mutex
	cache      map[string]*template.Template
	order      []string
	maxEntries int
}

// NewRenderer builds a Renderer. maxEntries <= 0 defaults to 256.
func NewRenderer(maxEntries int) *Renderer {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &Renderer{
		cache:      make(map[string]*template.Template),
		maxEntries: maxEntries,
	}
}

// Render parses (or reuses a cached parse of) tmplText and executes it
// against ctx. templateName only affects error messages and the internal
// template name, not caching (identical template bodies share one parse).
func (r *Renderer) Render(tmplText string, ctx map[string]any, templateName string) (string, error) {
	tmpl, err := r.parse(tmplText, templateName)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRender, templateName, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRender, templateName, err)
	}
	return buf.String(), nil
}

func (r *Renderer) parse(tmplText, templateName string) (*template.Template, error) {
	key := cacheKey(tmplText)

	r.mu.Lock()
	if tmpl, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return tmpl, nil
	}
	r.mu.Unlock()

	tmpl, err := template.New(templateName).Funcs(FuncMap()).Option("missingkey=error").Parse(tmplText)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[key]; ok {
		return existing, nil
	}
	if len(r.order) >= r.maxEntries {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.cache, oldest)
	}
	r.cache[key] = tmpl
	r.order = append(r.order, key)
	return tmpl, nil
}

func cacheKey(tmplText string) string {
	sum := sha256.Sum256([]byte(tmplText))
	return hex.EncodeToString(sum[:])
}

// BuildContext assembles the variable namespace a prompt template renders
// against, matching PromptEngine.build_context's document/doc/now/event/
// agent keys plus any caller-supplied extras.
func BuildContext(document map[string]any, event *model.ChangeEvent, agent *model.Agent, extra map[string]any) map[string]any {
	ctx := map[string]any{
		"document":  document,
		"doc":       document,
		"now":       time.Now(),
		"timestamp": time.Now().Unix(),
	}
	if event != nil {
		ctx["event"] = event
		ctx["operation"] = string(event.Operation)
	}
	if agent != nil {
		ctx["agent"] = agent
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}
