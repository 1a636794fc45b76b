package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

var log = logging.Logger("metrics")

func role(t cn.NegotiationType) string {
	return strings.ToLower(t.String())
}

// NegotiationRecorder returns a subscriber recording negotiation transitions
func NegotiationRecorder(ctx context.Context) cn.Subscriber {
	return func(evt cn.Event, n cn.ContractNegotiation) {
		ctx, err := tag.New(ctx,
			tag.Upsert(Role, role(n.Type)),
			tag.Upsert(Event, evt.String()),
			tag.Upsert(State, n.State.String()),
		)
		if err != nil {
			log.Errorw("tagging negotiation metrics", "err", err)
			return
		}

		stats.Record(ctx, NegotiationTransition.M(1))
		if evt == cn.EventSendFailed {
			stats.Record(ctx, NegotiationSendRetry.M(1))
		}
		if n.State.IsTerminal() {
			stats.Record(ctx,
				NegotiationFinished.M(1),
				NegotiationRounds.M(int64(n.Rounds)),
				NegotiationDuration.M(float64(n.StateTimestamp.Sub(n.CreatedAt))/float64(time.Millisecond)),
			)
		}
	}
}

// RecordCommandQueue records the number of commands waiting for a role
func RecordCommandQueue(ctx context.Context, t cn.NegotiationType, size int) {
	ctx, _ = tag.New(ctx, tag.Upsert(Role, role(t)))
	stats.Record(ctx, NegotiationCommandQueue.M(int64(size)))
}

// Dispatcher wraps a dispatcher and records the duration and outcome of every send
func Dispatcher(d cn.Dispatcher) cn.Dispatcher {
	return &measuredDispatcher{next: d}
}

type measuredDispatcher struct {
	next cn.Dispatcher
}

func (m *measuredDispatcher) Send(ctx context.Context, destination string, msg cn.Message) <-chan error {
	start := time.Now()
	in := m.next.Send(ctx, destination, msg)
	out := make(chan error, 1)
	go func() {
		err := <-in
		result, failure := "success", ""
		switch {
		case err == nil:
		case errors.Is(err, cn.ErrNotFound):
			result, failure = "failure", "not_found"
		case cn.IsFatal(err):
			result, failure = "failure", "fatal"
		default:
			result, failure = "failure", "retryable"
		}
		tctx, _ := tag.New(context.Background(),
			tag.Upsert(MessageType, msg.Type.String()),
			tag.Upsert(Result, result),
			tag.Upsert(FailureType, failure),
		)
		stats.Record(tctx, DispatchCount.M(1), DispatchDuration.M(SinceInMilliseconds(start)))
		out <- err
	}()
	return out
}
