package agentstore

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// These tests cover Cache's pure in-memory bookkeeping (Get/All, the
// delete branch of handleChange, and the OnChange notification hook) that
// does not require a live MongoDB connection. The change-stream/polling
// refresh path and the upsert branch of handleChange (both of which call
// through to Store) are exercised by the end-to-end scenarios described in
// SPEC_FULL.md, which require a real or containerized Mongo instance
// unavailable in this environment.

func newTestCache() *Cache {
	return &Cache{
		agents: make(map[string]*model.Agent),
		stopCh: make(chan struct{}),
	}
}

func TestNewCacheAppliesDefaultPollInterval(t *testing.T) {
	c := NewCache(nil, nil, 0)
	if c.pollInterval <= 0 {
		t.Fatalf("expected a positive default poll interval, got %v", c.pollInterval)
	}
}

func TestGetAndAllReflectSeededAgents(t *testing.T) {
	c := newTestCache()
	c.agents["a1"] = &model.Agent{ID: "a1"}
	c.agents["a2"] = &model.Agent{ID: "a2"}

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected Get to report absent agent as not found")
	}
	a, ok := c.Get("a1")
	if !ok || a.ID != "a1" {
		t.Fatalf("expected to find a1, got %+v ok=%v", a, ok)
	}
	if len(c.All()) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(c.All()))
	}
}

func TestHandleChangeDeleteEvictsAgentAndNotifies(t *testing.T) {
	c := newTestCache()
	c.agents["a1"] = &model.Agent{ID: "a1"}

	notified := 0
	c.OnChange = func() { notified++ }

	c.handleChange(context.Background(), "delete", "a1")

	if _, ok := c.Get("a1"); ok {
		t.Fatal("expected a1 to be evicted")
	}
	if notified != 1 {
		t.Fatalf("expected OnChange called once, got %d", notified)
	}
}

func TestHandleChangeIgnoresEmptyAgentID(t *testing.T) {
	c := newTestCache()
	notified := 0
	c.OnChange = func() { notified++ }

	c.handleChange(context.Background(), "update", "")

	if notified != 0 {
		t.Fatalf("expected no notification for an empty agent id, got %d", notified)
	}
}

func TestNotifyChangeToleratesNilHook(t *testing.T) {
	c := newTestCache()
	c.notifyChange() // must not panic with OnChange unset
}
