package impl

import (
	"testing"

	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

func TestObservableIsolatesPanics(t *testing.T) {
	o := newObservable()

	var seen []cn.Event
	o.Subscribe(func(event cn.Event, negotiation cn.ContractNegotiation) {
		panic("listener bug")
	})
	unsub := o.Subscribe(func(event cn.Event, negotiation cn.ContractNegotiation) {
		seen = append(seen, event)
	})

	require.NotPanics(t, func() {
		o.notify(cn.EventInitiate, cn.ContractNegotiation{ID: "n1", State: cn.Requesting})
	})
	require.Equal(t, []cn.Event{cn.EventInitiate}, seen)

	unsub()
	o.notify(cn.EventRequestSent, cn.ContractNegotiation{ID: "n1", State: cn.Requested})
	require.Len(t, seen, 1)
}

func TestCommandQueueIsBounded(t *testing.T) {
	m := &manager{commands: make(chan Command, 2)}
	require.NoError(t, m.Enqueue(CancelNegotiation{ID: "a"}))
	require.NoError(t, m.Enqueue(TerminateNegotiation{ID: "b"}))
	require.ErrorIs(t, m.Enqueue(DeclineNegotiation{ID: "c"}), ErrCommandQueueFull)
}

func TestCommandDefaults(t *testing.T) {
	tests := map[string]struct {
		cmd    Command
		event  cn.Event
		detail string
	}{
		"cancel":            {cmd: CancelNegotiation{ID: "n"}, event: cn.EventCancel, detail: "cancelled"},
		"terminate":         {cmd: TerminateNegotiation{ID: "n"}, event: cn.EventTerminate, detail: "terminated"},
		"decline":           {cmd: DeclineNegotiation{ID: "n"}, event: cn.EventForceDecline, detail: "declined"},
		"reason overridden": {cmd: CancelNegotiation{ID: "n", Reason: "operator"}, event: cn.EventCancel, detail: "operator"},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, "n", data.cmd.NegotiationID())
			require.Equal(t, data.event, data.cmd.event())
			require.Equal(t, data.detail, data.cmd.detail())
		})
	}
}
