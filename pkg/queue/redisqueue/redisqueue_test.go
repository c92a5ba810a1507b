package redisqueue

import (
	"testing"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

func TestDecodeWorkItemMissingField(t *testing.T) {
	if _, err := decodeWorkItem(map[string]any{}); err == nil {
		t.Fatalf("expected error for missing data field")
	}
}

func TestDecodeWorkItemInvalidJSON(t *testing.T) {
	if _, err := decodeWorkItem(map[string]any{dataField: "not json"}); err == nil {
		t.Fatalf("expected error for invalid json payload")
	}
}

func TestDecodeWorkItemRoundTrip(t *testing.T) {
	item := model.WorkItem{ID: "w1", AgentID: "a1"}
	payload := `{"id":"w1","agent_id":"a1"}`
	decoded, err := decodeWorkItem(map[string]any{dataField: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.ID != item.ID || decoded.AgentID != item.AgentID {
		t.Fatalf("got %+v, want id=%s agent_id=%s", decoded, item.ID, item.AgentID)
	}
}
