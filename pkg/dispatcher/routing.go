// Package dispatcher routes change events into work items and enqueues them
// onto the appropriate stream, applying deduplication and priority-aware
// backpressure admission. Grounded directly on
// original_source/src/mongoclaw/dispatcher/{agent_dispatcher.py,routing.py}.
package dispatcher

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// DefaultStream and DLQStream are the stream names used by the single/global
// routing strategies and the shared dead-letter queue.
const (
	DefaultStream = "mongoclaw:work"
	DLQStream     = "mongoclaw:dlq"
)

// StreamName computes the destination stream for item under strategy,
// matching routing.py's get_stream_name.
func StreamName(agent *model.Agent, item model.WorkItem, strategy model.RoutingStrategy, numPartitions int) string {
	switch strategy {
	case model.RouteByAgent:
		return fmt.Sprintf("mongoclaw:agent:%s", agent.ID)
	case model.RouteByCollection:
		return fmt.Sprintf("mongoclaw:collection:%s:%s", item.Database, item.Collection)
	case model.RouteSingle:
		return DefaultStream
	case model.RoutePartitioned:
		return PartitionStreamName(hashPartition(item.DocumentID, numPartitions))
	case model.RouteByPriority:
		return fmt.Sprintf("mongoclaw:priority:%d", item.Priority)
	default:
		return DefaultStream
	}
}

// DLQStreamName returns the dead-letter stream for agent under strategy,
// matching routing.py's get_dlq_stream_name.
func DLQStreamName(agent *model.Agent, strategy model.RoutingStrategy) string {
	if strategy == model.RouteByAgent && agent != nil {
		return fmt.Sprintf("mongoclaw:dlq:agent:%s", agent.ID)
	}
	return DLQStream
}

// PartitionStreamName returns the stream name for partition index n, used by
// both StreamName (RoutePartitioned) and pkg/worker's stream discovery so the
// two stay in agreement on the naming scheme.
func PartitionStreamName(n int) string {
	return fmt.Sprintf("mongoclaw:partition:%d", n)
}

func hashPartition(key string, numPartitions int) int {
	if key == "" || numPartitions <= 0 {
		return 0
	}
	sum := md5.Sum([]byte(key))
	// Use the low 8 bytes as a uint64, matching the magnitude of Python's
	// int(md5_hex, 16) % num_partitions without requiring bignum arithmetic.
	v := binary.BigEndian.Uint64(sum[8:])
	return int(v % uint64(numPartitions))
}
