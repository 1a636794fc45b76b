package fsm_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/fsm"
)

var testEvents = fsm.Events{
	fsm.Event(cn.EventInitiate).From(cn.Initial).To(cn.Requesting),
	fsm.Event(cn.EventRequestSent).From(cn.Requesting).To(cn.Requested),
	fsm.Event(cn.EventSendFailed).From(cn.Requesting).ToJustRecord().
		Action(func(n *cn.ContractNegotiation) error {
			n.RetryCount++
			return nil
		}),
	fsm.Event(cn.EventCancel).FromAny().To(cn.Terminated),
	fsm.Event(cn.EventDeclined).FromMany(cn.Requesting, cn.Requested).To(cn.Declined).
		Action(func(n *cn.ContractNegotiation) error {
			n.Agreement = nil
			return nil
		}),
}

func TestApply(t *testing.T) {
	m := fsm.MustNew(testEvents)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	n := &cn.ContractNegotiation{State: cn.Initial}
	require.NoError(t, m.Apply(n, cn.EventInitiate, now))
	assert.Equal(t, cn.Requesting, n.State)
	assert.Equal(t, now, n.StateTimestamp)

	t.Run("just record keeps the state", func(t *testing.T) {
		c := n.Clone()
		later := now.Add(time.Minute)
		require.NoError(t, m.Apply(&c, cn.EventSendFailed, later))
		assert.Equal(t, cn.Requesting, c.State)
		assert.Equal(t, uint64(1), c.RetryCount)
		assert.Equal(t, now, c.StateTimestamp)
	})

	t.Run("state change resets retry bookkeeping", func(t *testing.T) {
		c := n.Clone()
		c.RetryCount = 3
		c.NextAttempt = now.Add(time.Hour)
		require.NoError(t, m.Apply(&c, cn.EventRequestSent, now))
		assert.Equal(t, cn.Requested, c.State)
		assert.Zero(t, c.RetryCount)
		assert.True(t, c.NextAttempt.IsZero())
	})

	t.Run("mutators run after the action", func(t *testing.T) {
		c := n.Clone()
		c.Agreement = &cn.ContractAgreement{ID: "a"}
		require.NoError(t, m.Apply(&c, cn.EventDeclined, now, func(n *cn.ContractNegotiation) {
			n.ErrorDetail = "declined by peer"
		}))
		assert.Equal(t, cn.Declined, c.State)
		assert.Nil(t, c.Agreement)
		assert.Equal(t, "declined by peer", c.ErrorDetail)
	})

	t.Run("invalid transitions leave the record untouched", func(t *testing.T) {
		c := n.Clone()
		err := m.Apply(&c, cn.EventInitiate, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fsm.ErrInvalidTransition))
		assert.Equal(t, n.Clone(), c)
	})

	t.Run("from any excludes terminal states", func(t *testing.T) {
		assert.True(t, m.Can(cn.Requested, cn.EventCancel))
		assert.False(t, m.Can(cn.Declined, cn.EventCancel))
		assert.False(t, m.Can(cn.Terminated, cn.EventCancel))
	})
}

func TestDuplicateEvents(t *testing.T) {
	_, err := fsm.New(fsm.Events{
		fsm.Event(cn.EventInitiate).From(cn.Initial).To(cn.Requesting),
		fsm.Event(cn.EventInitiate).From(cn.Requested).To(cn.Requesting),
	})
	require.Error(t, err)
}

func TestEdges(t *testing.T) {
	m := fsm.MustNew(testEvents)
	edges := m.Edges()
	assert.Contains(t, edges, fsm.Edge{Event: cn.EventInitiate, From: cn.Initial, To: cn.Requesting})
	assert.Contains(t, edges, fsm.Edge{Event: cn.EventSendFailed, From: cn.Requesting, To: cn.Requesting})
	assert.Contains(t, edges, fsm.Edge{Event: cn.EventCancel, From: cn.Offered, To: cn.Terminated})
	for _, e := range edges {
		assert.False(t, e.From.IsTerminal(), "edge %v leaves a terminal state", e)
	}
}

func TestOutboundStates(t *testing.T) {
	o := fsm.Outbounds{
		cn.Verifying:  {Sent: cn.EventVerificationSent},
		cn.Requesting: {Sent: cn.EventRequestSent},
		cn.Declining:  {Sent: cn.EventDeclineSent},
	}
	assert.Equal(t, []cn.State{cn.Requesting, cn.Declining, cn.Verifying}, o.States())
}
