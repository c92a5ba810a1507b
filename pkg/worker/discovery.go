package worker

import (
	"sort"

	"github.com/codeready-toolchain/mongoclaw/pkg/dispatcher"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// discoverStreams computes the stream set a pool should be consuming from
// agents/strategy/numPartitions, translating pool.py's _discover_streams.
//
// The original scans Redis keyspace with KEYS for wildcard-named streams and
// separately adds one mongoclaw:agent:{id} stream per enabled agent. KEYS is
// a known anti-pattern in production Redis (it blocks the server and scales
// with keyspace size), and mongoclaw's stream universe is always derivable
// from the agent list plus the routing strategy's own structure, so this
// recomputes the set deterministically instead of introspecting Redis.
func discoverStreams(agents []*model.Agent, strategy model.RoutingStrategy, numPartitions int) []string {
	seen := make(map[string]struct{})
	var streams []string
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		streams = append(streams, s)
	}

	switch strategy {
	case model.RouteSingle:
		add(dispatcher.DefaultStream)

	case model.RoutePartitioned:
		for i := 0; i < numPartitions; i++ {
			add(dispatcher.PartitionStreamName(i))
		}

	default:
		for _, agent := range agents {
			if !agent.Enabled {
				continue
			}
			item := model.WorkItem{
				Database:   agent.Watch.Database,
				Collection: agent.Watch.Collection,
				Priority:   agent.Execution.Priority,
			}
			add(dispatcher.StreamName(agent, item, strategy, numPartitions))
		}
	}

	sort.Strings(streams)
	return streams
}
