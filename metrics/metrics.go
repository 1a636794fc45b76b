package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Distributions
var defaultMillisecondsDistribution = view.Distribution(
	0.1, 0.3, 0.6, 1, 2, 3, 5, 8, // very short local operations
	10, 20, 30, 50, 75, 100, // 10 ms steps up to 100 ms
	150, 200, 300, 500, 750, 1000, // network round trips
	2000, 3000, 5000, 10000, 20000, 30000, 60000, // slow peers up to the dispatch timeout
)

var roundsDistribution = view.Distribution(0, 1, 2, 3, 4, 5, 7, 10, 15, 20, 50)

var queueSizeDistribution = view.Distribution(0, 1, 2, 3, 5, 7, 10, 15, 25, 35, 50, 70, 90, 130, 200, 300, 500, 1000)

// Tags
var (
	// common
	Version, _     = tag.NewKey("version")
	Commit, _      = tag.NewKey("commit")
	NodeType, _    = tag.NewKey("node_type")
	Participant, _ = tag.NewKey("participant")
	FailureType, _ = tag.NewKey("failure_type")

	// negotiation
	Role, _        = tag.NewKey("role")
	Event, _       = tag.NewKey("event")
	State, _       = tag.NewKey("state")
	MessageType, _ = tag.NewKey("message_type")
	Result, _      = tag.NewKey("result")
)

// Measures
var (
	// common
	DataspaceInfo = stats.Int64("info", "Arbitrary counter to tag dataspace node info to", stats.UnitDimensionless)

	// negotiation
	NegotiationTransition   = stats.Int64("negotiation/transition", "Counter of persisted negotiation transitions", stats.UnitDimensionless)
	NegotiationFinished     = stats.Int64("negotiation/finished", "Counter of negotiations reaching a terminal state", stats.UnitDimensionless)
	NegotiationRounds       = stats.Int64("negotiation/rounds", "Counter-offers received by finished negotiations", stats.UnitDimensionless)
	NegotiationDuration     = stats.Float64("negotiation/duration_ms", "Time from creation to terminal state", stats.UnitMilliseconds)
	NegotiationSendRetry    = stats.Int64("negotiation/send_retry", "Counter of failed sends scheduled for retry", stats.UnitDimensionless)
	NegotiationCommandQueue = stats.Int64("negotiation/command_queue", "Administrative commands waiting to be applied", stats.UnitDimensionless)

	// transport
	DispatchDuration = stats.Float64("dispatch/duration_ms", "Duration of outbound message sends", stats.UnitMilliseconds)
	DispatchCount    = stats.Int64("dispatch/count", "Counter of outbound message sends", stats.UnitDimensionless)
)

var (
	InfoView = &view.View{
		Name:        "info",
		Description: "Dataspace node information",
		Measure:     DataspaceInfo,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit, NodeType, Participant},
	}
	NegotiationTransitionView = &view.View{
		Measure:     NegotiationTransition,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Role, Event, State},
	}
	NegotiationFinishedView = &view.View{
		Measure:     NegotiationFinished,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Role, State},
	}
	NegotiationRoundsView = &view.View{
		Measure:     NegotiationRounds,
		Aggregation: roundsDistribution,
		TagKeys:     []tag.Key{Role},
	}
	NegotiationDurationView = &view.View{
		Measure:     NegotiationDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Role, State},
	}
	NegotiationSendRetryView = &view.View{
		Measure:     NegotiationSendRetry,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Role, State},
	}
	NegotiationCommandQueueView = &view.View{
		Measure:     NegotiationCommandQueue,
		Aggregation: queueSizeDistribution,
		TagKeys:     []tag.Key{Role},
	}
	DispatchDurationView = &view.View{
		Measure:     DispatchDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{MessageType, Result},
	}
	DispatchCountView = &view.View{
		Measure:     DispatchCount,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{MessageType, Result, FailureType},
	}
)

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = []*view.View{
	InfoView,
	NegotiationTransitionView,
	NegotiationFinishedView,
	NegotiationRoundsView,
	NegotiationDurationView,
	NegotiationSendRetryView,
	NegotiationCommandQueueView,
	DispatchDurationView,
	DispatchCountView,
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}
