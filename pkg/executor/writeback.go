package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/mongoclaw/pkg/aiprovider"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// writebackResult reports what happened to a writeback attempt without
// raising an error for the ordinary non-written cases (shadow mode, a
// duplicate idempotency key, a version or hash conflict), matching
// writer.py's ResultWriter.write returning (was_written, reason) rather
// than throwing. Only infrastructure failures (a Mongo error) are surfaced
// as err.
type writebackResult struct {
	Written bool
	Reason  string
}

// Writeback outcome reasons, stamped onto the ExecutionRecord and into
// metrics.
const (
	reasonWritten               = "written"
	reasonShadowMode            = "shadow_mode"
	reasonIdempotencyDuplicate  = "idempotency_duplicate"
	reasonHashConflict          = "hash_conflict"
	reasonStrictVersionConflict = "strict_version_conflict"
	reasonDocumentNotFound      = "document_not_found"
	reasonPolicyBlocked         = "policy_blocked"
	reasonSimulationMode        = "simulation_mode"
)

// writebackInput bundles everything writeback needs to build and apply the
// update, separate from the Agent itself so tests can exercise it without a
// full agent fixture.
type writebackInput struct {
	Agent              *model.Agent
	DocumentID         string
	Content            map[string]any
	AIResult           aiprovider.Response
	WorkItemID         string
	IdempotencyKey     string
	SourceVersion      int64
	SourceDocumentHash string
}

// writeback applies write.Strategy's update to the target document,
// honoring the agent's consistency mode, grounded on writer.py's write()
// plus strategies.py's WriteStrategyHandler.build_update.
func writeback(ctx context.Context, store DocumentStore, idempotency IdempotencyStore, in writebackInput) (writebackResult, error) {
	write := in.Agent.Write
	exec := in.Agent.Execution

	if exec.ConsistencyMode == model.ConsistencyShadow {
		return writebackResult{Written: false, Reason: reasonShadowMode}, nil
	}

	if in.IdempotencyKey != "" {
		seen, err := idempotency.Seen(ctx, in.IdempotencyKey)
		if err != nil {
			return writebackResult{}, fmt.Errorf("checking idempotency key: %w", err)
		}
		if seen {
			return writebackResult{Written: false, Reason: reasonIdempotencyDuplicate}, nil
		}
	}

	targetDB := in.Agent.TargetDatabase()
	targetColl := in.Agent.TargetCollection()
	strict := exec.ConsistencyMode == model.ConsistencyStrictPostCommit

	if exec.RequireDocumentHashMatch && in.SourceDocumentHash != "" {
		current, found, err := store.FindOne(ctx, targetDB, targetColl, in.DocumentID)
		if err != nil {
			return writebackResult{}, fmt.Errorf("re-reading document for hash check: %w", err)
		}
		if !found || model.ContentHash(current) != in.SourceDocumentHash {
			return writebackResult{Written: false, Reason: reasonHashConflict}, nil
		}
	}

	content := mapFields(write.FieldMap, in.Content)
	if write.TargetNesting != "" {
		content = map[string]any{write.TargetNesting: content}
	}

	update := buildStrategyUpdate(write, content)
	attachMetadata(update, write.MetadataFieldName(), writebackMetadata(in))

	filterExtra := map[string]any{}
	if strict {
		expected := in.SourceVersion
		if expected == 0 {
			filterExtra["_mongoclaw_version"] = map[string]any{"$in": []any{nil, int64(0)}}
		} else {
			filterExtra["_mongoclaw_version"] = expected
		}
		inc, _ := update["$inc"].(map[string]any)
		if inc == nil {
			inc = map[string]any{}
		}
		inc["_mongoclaw_version"] = 1
		update["$inc"] = inc
	}

	matched, err := store.UpdateOne(ctx, targetDB, targetColl, in.DocumentID, filterExtra, update)
	if err != nil {
		return writebackResult{}, fmt.Errorf("applying writeback update: %w", err)
	}

	if matched == 0 {
		if strict {
			return writebackResult{Written: false, Reason: reasonStrictVersionConflict}, nil
		}
		return writebackResult{Written: false, Reason: reasonDocumentNotFound}, nil
	}

	if in.IdempotencyKey != "" {
		now := time.Now()
		rec := model.IdempotencyRecord{
			Key:       in.IdempotencyKey,
			AgentID:   in.Agent.ID,
			FirstSeen: now,
			ExpiresAt: dedupeExpiry(exec, now),
		}
		if err := idempotency.Record(ctx, rec); err != nil {
			return writebackResult{}, fmt.Errorf("recording idempotency key: %w", err)
		}
	}

	return writebackResult{Written: true, Reason: reasonWritten}, nil
}

// mapFields remaps parsed-response keys to target document field names per
// write.field_map, dropping any source field the agent did not name,
// matching writer.py's _build_update field-mapping branch. An empty map
// passes content through unchanged.
func mapFields(fieldMap map[string]string, content map[string]any) map[string]any {
	if len(fieldMap) == 0 {
		return content
	}
	mapped := make(map[string]any, len(fieldMap))
	for source, target := range fieldMap {
		if v, ok := content[source]; ok {
			mapped[target] = v
		}
	}
	return mapped
}

// buildStrategyUpdate builds the $set/$push update document for each write
// strategy, a direct translation of strategies.py's WriteStrategyHandler.
func buildStrategyUpdate(write model.WriteSpec, content map[string]any) map[string]any {
	switch write.Strategy {
	case model.WriteAppend:
		return map[string]any{
			"$push": map[string]any{
				write.ArrayField: map[string]any{"$each": []any{content}},
			},
		}
	case model.WriteNested:
		set := make(map[string]any, len(content))
		for k, v := range content {
			set[write.Path+"."+k] = v
		}
		return map[string]any{"$set": set}
	default: // WriteMerge, WriteReplace
		return map[string]any{"$set": content}
	}
}

// attachMetadata stamps field into update's $set, creating the $set branch
// if the strategy did not already produce one (the append strategy writes
// via $push, so metadata is the only $set key in that case).
func attachMetadata(update map[string]any, field string, metadata map[string]any) {
	set, ok := update["$set"].(map[string]any)
	if !ok {
		set = map[string]any{}
		update["$set"] = set
	}
	set[field] = metadata
}

func writebackMetadata(in writebackInput) map[string]any {
	return map[string]any{
		"processed_at":    time.Now(),
		"work_item_id":    in.WorkItemID,
		"source_agent_id": in.Agent.ID,
		"model":           in.AIResult.Model,
		"provider":        in.AIResult.Provider,
		"tokens":          in.AIResult.TotalTokens,
		"cost_usd":        in.AIResult.CostUSD,
		"latency_ms":      in.AIResult.LatencyMillis,
	}
}

func dedupeExpiry(exec model.ExecutionSpec, now time.Time) time.Time {
	window := exec.DedupeWindowSeconds
	if window <= 0 {
		window = 86400
	}
	return now.Add(time.Duration(window * float64(time.Second)))
}
