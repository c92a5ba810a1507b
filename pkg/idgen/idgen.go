// Package idgen generates the identifiers stamped on work items and
// execution records, grounded on the uuid.New().String() idiom used
// throughout the teacher's pkg/services for session/message/interaction ids.
package idgen

import "github.com/google/uuid"

// NewWorkItemID returns a fresh work item identifier.
func NewWorkItemID() string { return uuid.New().String() }

// NewExecutionID returns a fresh execution record identifier.
func NewExecutionID() string { return uuid.New().String() }

// NewWatcherID returns a fresh change-stream watcher instance identifier,
// used as the resume-token store key and leader-election holder id.
func NewWatcherID() string { return uuid.New().String() }
