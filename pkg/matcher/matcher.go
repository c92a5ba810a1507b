// Package matcher matches change events against agent watch specs: operation
// type, then an optional restricted MongoDB-query-shaped document filter.
// Grounded directly on
// original_source/src/mongoclaw/watcher/event_matcher.py.
package matcher

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/mongoclaw/pkg/agentstore"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// Matcher finds the agents that should react to a change event, backed by a
// hot-reloaded agentstore.Cache rather than event_matcher.py's own
// per-namespace agent cache (pkg/agentstore/cache.go already owns that
// concern, so this package stays a pure predicate evaluator plus a
// namespace lookup).
type Matcher struct {
	cache *agentstore.Cache
}

// New builds a Matcher over cache.
func New(cache *agentstore.Cache) *Matcher {
	return &Matcher{cache: cache}
}

// Match returns every enabled agent watching event's namespace whose filter
// (if any) the event satisfies, matching EventMatcher.match.
func (m *Matcher) Match(event *model.ChangeEvent) []*model.Agent {
	var matched []*model.Agent
	for _, agent := range m.cache.All() {
		if !agent.Enabled {
			continue
		}
		if agent.Watch.Database != event.Database || agent.Watch.Collection != event.Collection {
			continue
		}
		if MatchesAgent(event, agent) {
			matched = append(matched, agent)
		}
	}
	return matched
}

// MatchesAgent reports whether event satisfies agent's watch spec,
// matching _matches_agent.
func MatchesAgent(event *model.ChangeEvent, agent *model.Agent) bool {
	watch := agent.Watch

	if !watch.MatchesOperation(event.Operation) {
		slog.Debug("operation mismatch", "agent_id", agent.ID, "event_op", event.Operation)
		return false
	}

	if len(watch.Filter) > 0 {
		if event.Operation == model.OpDelete && event.FullDocument == nil {
			slog.Debug("skipping delete event with filter (no full document)", "agent_id", agent.ID)
			return false
		}
		if event.FullDocument != nil && !MatchesFilter(event.FullDocument, watch.Filter) {
			slog.Debug("filter mismatch", "agent_id", agent.ID, "document_id", event.DocumentID())
			return false
		}
	}

	return true
}

// MatchesFilter evaluates the restricted MongoDB-query-shaped filter
// against document, matching _matches_filter. Supported top-level logical
// operators are $and/$or/$not/$nor; field entries may be a direct value or
// a map of comparison operators ($eq/$ne/$gt/$gte/$lt/$lte/$in/$nin/
// $exists/$type/$regex). An unrecognized operator is logged and treated as
// satisfied, matching the original's fail-open behavior.
func MatchesFilter(document, filter map[string]any) bool {
	for key, value := range filter {
		if strings.HasPrefix(key, "$") {
			if !evaluateLogicalOperator(key, value, document) {
				return false
			}
			continue
		}
		if !matchesField(document, key, value) {
			return false
		}
	}
	return true
}

func matchesField(document map[string]any, field string, expected any) bool {
	actual := fieldValue(document, field)

	if operators, ok := expected.(map[string]any); ok {
		return evaluateFieldOperators(actual, operators)
	}
	return valuesEqual(actual, expected)
}

// fieldValue resolves a dot-path (with numeric segments indexing into
// arrays) against document, matching _get_field_value.
func fieldValue(document any, field string) any {
	current := document
	for _, part := range strings.Split(field, ".") {
		switch v := current.(type) {
		case map[string]any:
			current = v[part]
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}
	}
	return current
}

func evaluateFieldOperators(actual any, operators map[string]any) bool {
	for op, expected := range operators {
		if !evaluateComparisonOperator(op, actual, expected) {
			return false
		}
	}
	return true
}

func evaluateLogicalOperator(op string, value any, document map[string]any) bool {
	switch op {
	case "$and":
		for _, clause := range asFilterList(value) {
			if !MatchesFilter(document, clause) {
				return false
			}
		}
		return true

	case "$or":
		for _, clause := range asFilterList(value) {
			if MatchesFilter(document, clause) {
				return true
			}
		}
		return false

	case "$not":
		clause, ok := value.(map[string]any)
		if !ok {
			return true
		}
		return !MatchesFilter(document, clause)

	case "$nor":
		for _, clause := range asFilterList(value) {
			if MatchesFilter(document, clause) {
				return false
			}
		}
		return true

	default:
		slog.Warn("unknown top-level filter operator", "operator", op)
		return true
	}
}

func asFilterList(value any) []map[string]any {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if clause, ok := v.(map[string]any); ok {
			out = append(out, clause)
		}
	}
	return out
}
