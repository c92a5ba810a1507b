package model

import (
	"errors"
	"testing"
)

func TestAgentValidateRequiresID(t *testing.T) {
	a := &Agent{Write: WriteSpec{Strategy: WriteMerge}}
	if err := a.Validate(); !errors.Is(err, ErrAgentConfig) {
		t.Fatalf("expected ErrAgentConfig, got %v", err)
	}
}

func TestAgentValidateRetryDelayOrdering(t *testing.T) {
	a := &Agent{
		ID:        "a1",
		Write:     WriteSpec{Strategy: WriteMerge},
		Execution: ExecutionSpec{RetryBaseDelaySeconds: 10, RetryMaxDelaySeconds: 5},
	}
	if err := a.Validate(); !errors.Is(err, ErrAgentConfig) {
		t.Fatalf("expected ErrAgentConfig for inverted retry delays, got %v", err)
	}
}

func TestAgentValidateAppendRequiresArrayField(t *testing.T) {
	a := &Agent{ID: "a1", Write: WriteSpec{Strategy: WriteAppend}}
	if err := a.Validate(); !errors.Is(err, ErrAgentConfig) {
		t.Fatalf("expected ErrAgentConfig for missing array_field, got %v", err)
	}
}

func TestAgentValidateNestedRequiresPath(t *testing.T) {
	a := &Agent{ID: "a1", Write: WriteSpec{Strategy: WriteNested}}
	if err := a.Validate(); !errors.Is(err, ErrAgentConfig) {
		t.Fatalf("expected ErrAgentConfig for missing path, got %v", err)
	}
}

func TestAgentValidateOK(t *testing.T) {
	a := &Agent{
		ID:    "a1",
		Watch: WatchSpec{Database: "db", Collection: "coll"},
		Write: WriteSpec{Strategy: WriteMerge},
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("expected valid agent, got %v", err)
	}
}

func TestAgentTargetDefaultsToWatchSource(t *testing.T) {
	a := &Agent{Watch: WatchSpec{Database: "db", Collection: "coll"}}
	if a.TargetDatabase() != "db" || a.TargetCollection() != "coll" {
		t.Fatalf("expected target to default to watch source")
	}
}

func TestAgentTargetOverride(t *testing.T) {
	a := &Agent{
		Watch: WatchSpec{Database: "db", Collection: "coll"},
		Write: WriteSpec{TargetDatabase: "otherdb", TargetCollection: "othercoll"},
	}
	if a.TargetDatabase() != "otherdb" || a.TargetCollection() != "othercoll" {
		t.Fatalf("expected target override to take effect")
	}
}

func TestWriteSpecMetadataFieldDefault(t *testing.T) {
	w := &WriteSpec{}
	if w.MetadataFieldName() != "_ai_metadata" {
		t.Fatalf("expected default metadata field, got %q", w.MetadataFieldName())
	}
	w.MetadataField = "_custom"
	if w.MetadataFieldName() != "_custom" {
		t.Fatalf("expected override metadata field")
	}
}

func TestWatchSpecMatchesOperation(t *testing.T) {
	w := &WatchSpec{Operations: []ChangeOperation{OpInsert, OpUpdate}}
	if !w.MatchesOperation(OpInsert) {
		t.Fatalf("expected insert to match")
	}
	if w.MatchesOperation(OpDelete) {
		t.Fatalf("did not expect delete to match")
	}
}
