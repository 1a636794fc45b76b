package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/metrics"
)

func rowsWith(t *testing.T, name string, key tag.Key, value string) int64 {
	rows, err := view.RetrieveData(name)
	require.NoError(t, err)
	var total int64
	for _, r := range rows {
		for _, tg := range r.Tags {
			if tg.Key == key && tg.Value == value {
				if c, ok := r.Data.(*view.CountData); ok {
					total += c.Value
				}
			}
		}
	}
	return total
}

func TestNegotiationRecorder(t *testing.T) {
	require.NoError(t, view.Register(metrics.DefaultViews...))
	defer view.Unregister(metrics.DefaultViews...)

	record := metrics.NegotiationRecorder(context.Background())
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	n := cn.ContractNegotiation{ID: "n", Type: cn.TypeProvider, State: cn.Offering, CreatedAt: start, StateTimestamp: start}

	record(cn.EventCounter, n)
	record(cn.EventSendFailed, n)
	n.State, n.StateTimestamp = cn.Terminated, start.Add(time.Second)
	record(cn.EventCancel, n)

	require.Equal(t, int64(3), rowsWith(t, metrics.NegotiationTransitionView.Name, metrics.Role, "provider"))
	require.Equal(t, int64(1), rowsWith(t, metrics.NegotiationSendRetryView.Name, metrics.Role, "provider"))
	require.Equal(t, int64(1), rowsWith(t, metrics.NegotiationFinishedView.Name, metrics.State, "TERMINATED"))
}

type fixedDispatcher struct{ err error }

func (f fixedDispatcher) Send(context.Context, string, cn.Message) <-chan error {
	out := make(chan error, 1)
	out <- f.err
	return out
}

func TestMeasuredDispatcher(t *testing.T) {
	require.NoError(t, view.Register(metrics.DefaultViews...))
	defer view.Unregister(metrics.DefaultViews...)
	ctx := context.Background()
	msg := cn.Message{Type: cn.MessageAgreement}

	require.NoError(t, <-metrics.Dispatcher(fixedDispatcher{}).Send(ctx, "x", msg))
	boom := errors.New("boom")
	require.ErrorIs(t, <-metrics.Dispatcher(fixedDispatcher{err: boom}).Send(ctx, "x", msg), boom)
	require.True(t, cn.IsFatal(<-metrics.Dispatcher(fixedDispatcher{err: cn.Fatalf("no")}).Send(ctx, "x", msg)))

	require.Equal(t, int64(3), rowsWith(t, metrics.DispatchCountView.Name, metrics.MessageType, "Agreement"))
	require.Equal(t, int64(1), rowsWith(t, metrics.DispatchCountView.Name, metrics.FailureType, "retryable"))
	require.Equal(t, int64(1), rowsWith(t, metrics.DispatchCountView.Name, metrics.FailureType, "fatal"))
}
