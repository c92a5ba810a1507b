package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/aiprovider"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
	"github.com/codeready-toolchain/mongoclaw/pkg/promptrender"
	"github.com/codeready-toolchain/mongoclaw/pkg/worker"
)

func newTestRenderer() *promptrender.Renderer {
	return promptrender.NewRenderer(0)
}

// fakeAgentLookup mirrors pkg/worker's test fake so Executor can be driven
// without a live agentstore.Cache.
type fakeAgentLookup struct {
	agents map[string]*model.Agent
}

func newFakeAgentLookup(agents ...*model.Agent) *fakeAgentLookup {
	m := make(map[string]*model.Agent, len(agents))
	for _, a := range agents {
		m[a.ID] = a
	}
	return &fakeAgentLookup{agents: m}
}

func (f *fakeAgentLookup) Get(agentID string) (*model.Agent, bool) {
	a, ok := f.agents[agentID]
	return a, ok
}

func (f *fakeAgentLookup) All() []*model.Agent {
	out := make([]*model.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out
}

// fakeDocumentStore is an in-memory DocumentStore keyed by documentID,
// ignoring database/collection (tests use a single logical namespace),
// which is enough to drive every writeback branch.
type fakeDocumentStore struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

func newFakeDocumentStore(docs map[string]map[string]any) *fakeDocumentStore {
	s := &fakeDocumentStore{docs: make(map[string]map[string]any)}
	for k, v := range docs {
		s.docs[k] = cloneDoc(v)
	}
	return s
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func (s *fakeDocumentStore) FindOne(_ context.Context, _, _, documentID string) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return nil, false, nil
	}
	return cloneDoc(doc), true, nil
}

func (s *fakeDocumentStore) UpdateOne(_ context.Context, _, _, documentID string, filterExtra, update map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return 0, nil
	}
	if versionFilter, ok := filterExtra["_mongoclaw_version"]; ok {
		if !matchesVersionFilter(doc["_mongoclaw_version"], versionFilter) {
			return 0, nil
		}
	}

	if set, ok := update["$set"].(map[string]any); ok {
		for k, v := range set {
			doc[k] = v
		}
	}
	if push, ok := update["$push"].(map[string]any); ok {
		for field, spec := range push {
			each, _ := spec.(map[string]any)["$each"].([]any)
			existing, _ := doc[field].([]any)
			doc[field] = append(existing, each...)
		}
	}
	if inc, ok := update["$inc"].(map[string]any); ok {
		for k, v := range inc {
			delta, _ := v.(int)
			current, _ := doc[k].(int64)
			doc[k] = current + int64(delta)
		}
	}
	return 1, nil
}

func matchesVersionFilter(current any, filter any) bool {
	if m, ok := filter.(map[string]any); ok {
		if in, ok := m["$in"].([]any); ok {
			for _, v := range in {
				if v == nil && current == nil {
					return true
				}
				if cv, ok := current.(int64); ok {
					if iv, ok := v.(int64); ok && cv == iv {
						return true
					}
				}
			}
			return false
		}
	}
	if current == nil {
		return false
	}
	cv, _ := current.(int64)
	fv, _ := filter.(int64)
	return cv == fv
}

// sequencedProvider returns one canned Response or error per call, in
// order, repeating the last entry once exhausted.
type sequencedProvider struct {
	mu      sync.Mutex
	calls   int
	results []func() (aiprovider.Response, error)
}

func (p *sequencedProvider) Complete(_ context.Context, _ aiprovider.Request) (aiprovider.Response, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	return p.results[idx]()
}

func jsonResponder(content string) func() (aiprovider.Response, error) {
	return func() (aiprovider.Response, error) {
		return aiprovider.Response{Content: content, Model: "test-model", Provider: "stub", TotalTokens: 10}, nil
	}
}

func errorResponder(err error) func() (aiprovider.Response, error) {
	return func() (aiprovider.Response, error) {
		return aiprovider.Response{}, err
	}
}

func ticketAgent() *model.Agent {
	return &model.Agent{
		ID:      "ticket-classifier",
		Enabled: true,
		Watch:   model.WatchSpec{Database: "support", Collection: "tickets", Operations: []model.ChangeOperation{model.OpInsert}},
		AI: model.AISpec{
			Model:  "gpt-test",
			Prompt: "classify {{.document.title}}",
		},
		Write: model.WriteSpec{
			Strategy: model.WriteMerge,
			FieldMap: map[string]string{
				"category": "ai_category",
				"priority": "ai_priority",
				"summary":  "ai_summary",
			},
		},
		Execution: model.ExecutionSpec{
			MaxRetries:      2,
			TimeoutSeconds:  5,
			ConsistencyMode: model.ConsistencyEventual,
		},
	}
}

func newTestExecutor(agents worker.AgentLookup, ai aiprovider.Provider, store DocumentStore) *Executor {
	return New(agents, ai, newTestRenderer(), store, NewMemIdempotencyStore(), NewMemExecutionRecordStore())
}

func baseWorkItem(agentID, docID string) model.WorkItem {
	return model.WorkItem{
		ID:          "wi-" + docID,
		AgentID:     agentID,
		DocumentID:  docID,
		Document:    map[string]any{"_id": docID, "title": "Card declined"},
		MaxAttempts: 3,
	}
}

func TestExecuteHappyPathMergeWithFieldMap(t *testing.T) {
	agent := ticketAgent()
	store := newFakeDocumentStore(map[string]map[string]any{
		"t1": {"_id": "t1", "title": "Card declined", "status": "new"},
	})
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){
		jsonResponder(`{"category":"billing","priority":"high","summary":"s"}`),
	}}
	exec := newTestExecutor(newFakeAgentLookup(agent), ai, store)

	outcome := exec.Execute(context.Background(), baseWorkItem(agent.ID, "t1"))
	if outcome.Outcome != worker.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", outcome.Outcome, outcome.Err)
	}

	doc, _, _ := store.FindOne(context.Background(), "", "", "t1")
	if doc["ai_category"] != "billing" || doc["ai_priority"] != "high" || doc["ai_summary"] != "s" {
		t.Fatalf("document not enriched as expected: %+v", doc)
	}
	if _, ok := doc["_ai_metadata"]; !ok {
		t.Fatal("expected _ai_metadata to be stamped")
	}
}

func TestExecuteStrictConflictIsTerminalNotRetried(t *testing.T) {
	agent := ticketAgent()
	agent.Execution.ConsistencyMode = model.ConsistencyStrictPostCommit
	store := newFakeDocumentStore(map[string]map[string]any{
		"t1": {"_id": "t1", "title": "Card declined", "_mongoclaw_version": int64(4)},
	})
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){
		jsonResponder(`{"category":"billing","priority":"high","summary":"s"}`),
	}}
	exec := newTestExecutor(newFakeAgentLookup(agent), ai, store)

	item := baseWorkItem(agent.ID, "t1")
	item.SourceVersion = 3
	outcome := exec.Execute(context.Background(), item)

	if outcome.Outcome != worker.OutcomeSuccess {
		t.Fatalf("strict version conflict must not retry or DLQ, got %v", outcome.Outcome)
	}
	doc, _, _ := store.FindOne(context.Background(), "", "", "t1")
	if _, ok := doc["ai_category"]; ok {
		t.Fatal("conflicting write must not have been applied")
	}
}

func TestExecuteShadowModeSkipsWrite(t *testing.T) {
	agent := ticketAgent()
	agent.Execution.ConsistencyMode = model.ConsistencyShadow
	store := newFakeDocumentStore(map[string]map[string]any{
		"t1": {"_id": "t1", "title": "Card declined"},
	})
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){
		jsonResponder(`{"category":"billing","priority":"high","summary":"s"}`),
	}}
	exec := newTestExecutor(newFakeAgentLookup(agent), ai, store)

	outcome := exec.Execute(context.Background(), baseWorkItem(agent.ID, "t1"))
	if outcome.Outcome != worker.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", outcome.Outcome, outcome.Err)
	}
	doc, _, _ := store.FindOne(context.Background(), "", "", "t1")
	if _, ok := doc["ai_category"]; ok {
		t.Fatal("shadow mode must not write")
	}
}

func TestExecuteDedupSkipsSecondDispatch(t *testing.T) {
	agent := ticketAgent()
	store := newFakeDocumentStore(map[string]map[string]any{
		"t1": {"_id": "t1", "title": "Card declined"},
	})
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){
		jsonResponder(`{"category":"billing","priority":"high","summary":"s"}`),
		jsonResponder(`{"category":"billing","priority":"high","summary":"s2"}`),
	}}
	exec := newTestExecutor(newFakeAgentLookup(agent), ai, store)

	item := baseWorkItem(agent.ID, "t1")
	item.IdempotencyKey = "ticket-classifier:t1:abc"

	first := exec.Execute(context.Background(), item)
	if first.Outcome != worker.OutcomeSuccess {
		t.Fatalf("first dispatch: expected success, got %v", first.Outcome)
	}
	second := exec.Execute(context.Background(), item)
	if second.Outcome != worker.OutcomeSuccess {
		t.Fatalf("second dispatch: expected success (deduped), got %v", second.Outcome)
	}

	doc, _, _ := store.FindOne(context.Background(), "", "", "t1")
	if doc["ai_summary"] != "s" {
		t.Fatalf("expected first response's content to stick, got %v", doc["ai_summary"])
	}
}

func TestExecuteRetryThenDeadLetterAfterMaxRetries(t *testing.T) {
	agent := ticketAgent()
	agent.Execution.MaxRetries = 2
	store := newFakeDocumentStore(map[string]map[string]any{
		"t1": {"_id": "t1", "title": "Card declined"},
	})
	connErr := fmt.Errorf("%w: connection refused", model.ErrAIConnectivity)
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){
		errorResponder(connErr),
		errorResponder(connErr),
		errorResponder(connErr),
	}}
	exec := newTestExecutor(newFakeAgentLookup(agent), ai, store)

	item := baseWorkItem(agent.ID, "t1")
	item.MaxAttempts = 3

	outcomes := make([]worker.ExecutionOutcome, 0, 3)
	for attempt := 0; attempt < 3; attempt++ {
		item.Attempt = attempt
		outcomes = append(outcomes, exec.Execute(context.Background(), item))
	}

	if outcomes[0].Outcome != worker.OutcomeRetryable || outcomes[1].Outcome != worker.OutcomeRetryable {
		t.Fatalf("expected first two attempts retryable, got %v, %v", outcomes[0].Outcome, outcomes[1].Outcome)
	}
	if outcomes[2].Outcome != worker.OutcomeDeadLetter {
		t.Fatalf("expected third attempt to dead-letter, got %v", outcomes[2].Outcome)
	}
	for _, o := range outcomes {
		if !errors.Is(o.Err, model.ErrAIConnectivity) {
			t.Fatalf("expected connectivity error, got %v", o.Err)
		}
	}
}

func TestExecuteAgentNotFoundIsTerminal(t *testing.T) {
	store := newFakeDocumentStore(nil)
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){jsonResponder("{}")}}
	exec := newTestExecutor(newFakeAgentLookup(), ai, store)

	outcome := exec.Execute(context.Background(), baseWorkItem("missing-agent", "t1"))
	if outcome.Outcome != worker.OutcomeTerminal {
		t.Fatalf("expected terminal outcome, got %v", outcome.Outcome)
	}
	if !errors.Is(outcome.Err, model.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", outcome.Err)
	}
}

func TestExecuteDisabledAgentIsTerminal(t *testing.T) {
	agent := ticketAgent()
	agent.Enabled = false
	store := newFakeDocumentStore(map[string]map[string]any{"t1": {"_id": "t1"}})
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){jsonResponder("{}")}}
	exec := newTestExecutor(newFakeAgentLookup(agent), ai, store)

	outcome := exec.Execute(context.Background(), baseWorkItem(agent.ID, "t1"))
	if outcome.Outcome != worker.OutcomeTerminal {
		t.Fatalf("expected terminal outcome, got %v", outcome.Outcome)
	}
	if !errors.Is(outcome.Err, model.ErrAgentDisabled) {
		t.Fatalf("expected ErrAgentDisabled, got %v", outcome.Err)
	}
}

func TestExecuteQuarantinedAgentSkipsWithoutAICall(t *testing.T) {
	agent := ticketAgent()
	store := newFakeDocumentStore(map[string]map[string]any{"t1": {"_id": "t1"}})
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){jsonResponder("{}")}}
	exec := newTestExecutor(newFakeAgentLookup(agent), ai, store)

	until := time.Now().Add(time.Hour)
	exec.Quarantine.windows[agent.ID] = &model.QuarantineWindow{AgentID: agent.ID, QuarantinedUntil: &until}

	outcome := exec.Execute(context.Background(), baseWorkItem(agent.ID, "t1"))
	if outcome.Outcome != worker.OutcomeSuccess {
		t.Fatalf("expected success (skip), got %v", outcome.Outcome)
	}
	if ai.calls != 0 {
		t.Fatalf("expected no AI calls while quarantined, got %d", ai.calls)
	}
}

func TestExecutePolicyBlockSkipsWrite(t *testing.T) {
	agent := ticketAgent()
	agent.Policy = &model.PolicySpec{
		Condition:      `result.priority == "low"`,
		PrimaryAction:  model.PolicyBlock,
		FallbackAction: model.PolicyEnrich,
	}
	store := newFakeDocumentStore(map[string]map[string]any{"t1": {"_id": "t1"}})
	ai := &sequencedProvider{results: []func() (aiprovider.Response, error){
		jsonResponder(`{"category":"billing","priority":"low","summary":"s"}`),
	}}
	exec := newTestExecutor(newFakeAgentLookup(agent), ai, store)

	outcome := exec.Execute(context.Background(), baseWorkItem(agent.ID, "t1"))
	if outcome.Outcome != worker.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", outcome.Outcome, outcome.Err)
	}
	doc, _, _ := store.FindOne(context.Background(), "", "", "t1")
	if _, ok := doc["ai_category"]; ok {
		t.Fatal("policy block must suppress the write")
	}
}
