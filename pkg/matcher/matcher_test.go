package matcher

import (
	"testing"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

func agentWithFilter(filter map[string]any, ops ...model.ChangeOperation) *model.Agent {
	return &model.Agent{
		ID:      "agent-1",
		Enabled: true,
		Watch: model.WatchSpec{
			Database:   "shop",
			Collection: "orders",
			Operations: ops,
			Filter:     filter,
		},
	}
}

func event(op model.ChangeOperation, doc map[string]any) *model.ChangeEvent {
	return &model.ChangeEvent{
		Operation:    op,
		Database:     "shop",
		Collection:   "orders",
		DocumentKey:  map[string]any{"_id": "doc-1"},
		FullDocument: doc,
	}
}

func TestMatchesAgentOperationMismatch(t *testing.T) {
	agent := agentWithFilter(nil, model.OpInsert)
	e := event(model.OpUpdate, map[string]any{"status": "shipped"})
	if MatchesAgent(e, agent) {
		t.Fatal("expected operation mismatch to fail")
	}
}

func TestMatchesAgentNoFilterMatchesAnyDocument(t *testing.T) {
	agent := agentWithFilter(nil, model.OpUpdate)
	e := event(model.OpUpdate, map[string]any{"status": "shipped"})
	if !MatchesAgent(e, agent) {
		t.Fatal("expected no-filter agent to match")
	}
}

func TestMatchesAgentDirectFieldMatch(t *testing.T) {
	agent := agentWithFilter(map[string]any{"status": "shipped"}, model.OpUpdate)

	if !MatchesAgent(event(model.OpUpdate, map[string]any{"status": "shipped"}), agent) {
		t.Fatal("expected matching status to satisfy filter")
	}
	if MatchesAgent(event(model.OpUpdate, map[string]any{"status": "pending"}), agent) {
		t.Fatal("expected mismatched status to fail filter")
	}
}

func TestMatchesAgentDeleteWithoutFullDocumentAndFilterFails(t *testing.T) {
	agent := agentWithFilter(map[string]any{"status": "shipped"}, model.OpDelete)
	e := event(model.OpDelete, nil)
	if MatchesAgent(e, agent) {
		t.Fatal("expected delete event with no full document and a filter to fail")
	}
}

func TestMatchesAgentDeleteWithoutFullDocumentNoFilterPasses(t *testing.T) {
	agent := agentWithFilter(nil, model.OpDelete)
	e := event(model.OpDelete, nil)
	if !MatchesAgent(e, agent) {
		t.Fatal("expected delete event with no filter to pass")
	}
}

func TestMatchesFilterComparisonOperators(t *testing.T) {
	doc := map[string]any{"total": float64(42), "tags": []any{"a", "b"}, "note": "Hello World"}

	cases := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"gt true", map[string]any{"total": map[string]any{"$gt": float64(10)}}, true},
		{"gt false", map[string]any{"total": map[string]any{"$gt": float64(100)}}, false},
		{"gte equal", map[string]any{"total": map[string]any{"$gte": float64(42)}}, true},
		{"lt false", map[string]any{"total": map[string]any{"$lt": float64(10)}}, false},
		{"ne true", map[string]any{"total": map[string]any{"$ne": float64(1)}}, true},
		{"in true", map[string]any{"total": map[string]any{"$in": []any{float64(1), float64(42)}}}, true},
		{"nin true", map[string]any{"total": map[string]any{"$nin": []any{float64(1), float64(2)}}}, true},
		{"exists true", map[string]any{"total": map[string]any{"$exists": true}}, true},
		{"exists false field absent", map[string]any{"missing": map[string]any{"$exists": false}}, true},
		{"regex match", map[string]any{"note": map[string]any{"$regex": "^Hello"}}, true},
		{"regex no match", map[string]any{"note": map[string]any{"$regex": "^Goodbye"}}, false},
		{"type string", map[string]any{"note": map[string]any{"$type": "string"}}, true},
		{"type mismatch", map[string]any{"note": map[string]any{"$type": "int"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchesFilter(doc, tc.filter); got != tc.want {
				t.Errorf("MatchesFilter(%v) = %v, want %v", tc.filter, got, tc.want)
			}
		})
	}
}

func TestMatchesFilterDotPathAndArrayIndex(t *testing.T) {
	doc := map[string]any{
		"address": map[string]any{"city": "Springfield"},
		"items":   []any{map[string]any{"sku": "A1"}, map[string]any{"sku": "B2"}},
	}

	if !MatchesFilter(doc, map[string]any{"address.city": "Springfield"}) {
		t.Fatal("expected dot-path match")
	}
	if !MatchesFilter(doc, map[string]any{"items.1.sku": "B2"}) {
		t.Fatal("expected array-index path match")
	}
	if MatchesFilter(doc, map[string]any{"items.5.sku": "B2"}) {
		t.Fatal("expected out-of-range array index to fail")
	}
}

func TestMatchesFilterLogicalOperators(t *testing.T) {
	doc := map[string]any{"status": "shipped", "total": float64(42)}

	and := map[string]any{"$and": []any{
		map[string]any{"status": "shipped"},
		map[string]any{"total": map[string]any{"$gt": float64(10)}},
	}}
	if !MatchesFilter(doc, and) {
		t.Fatal("expected $and to match")
	}

	or := map[string]any{"$or": []any{
		map[string]any{"status": "pending"},
		map[string]any{"status": "shipped"},
	}}
	if !MatchesFilter(doc, or) {
		t.Fatal("expected $or to match")
	}

	not := map[string]any{"$not": map[string]any{"status": "pending"}}
	if !MatchesFilter(doc, not) {
		t.Fatal("expected $not to match")
	}

	nor := map[string]any{"$nor": []any{
		map[string]any{"status": "pending"},
		map[string]any{"status": "cancelled"},
	}}
	if !MatchesFilter(doc, nor) {
		t.Fatal("expected $nor to match")
	}
}

func TestMatchesFilterUnknownOperatorFailsOpen(t *testing.T) {
	doc := map[string]any{"status": "shipped"}
	filter := map[string]any{"status": map[string]any{"$weird": "shipped"}}
	if !MatchesFilter(doc, filter) {
		t.Fatal("expected unknown operator to fail open (treated as satisfied)")
	}
}
