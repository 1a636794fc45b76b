package consumerstates_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/fsm"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/impl/consumerstates"
)

type env struct{}

func (env) ParticipantID() string   { return "consumer" }
func (env) CallbackAddress() string { return "http://consumer.local" }

func makeNegotiation(state cn.State) cn.ContractNegotiation {
	return cn.ContractNegotiation{
		ID:                  "c-1",
		CounterPartyID:      "provider",
		CounterPartyAddress: "http://provider.local",
		Protocol:            "dataspace-protocol-http",
		Type:                cn.TypeConsumer,
		State:               state,
		Offers: []cn.ContractOffer{{
			ID:         "o-1",
			AssetID:    "asset",
			ProviderID: "provider",
			ConsumerID: "consumer",
		}},
	}
}

func TestConsumerPaths(t *testing.T) {
	m := fsm.MustNew(consumerstates.ConsumerEvents)
	now := time.Now()

	paths := map[string][]cn.Event{
		"accepted without counter-offer": {
			cn.EventInitiate, cn.EventRequestSent, cn.EventAgreementReceived, cn.EventVerify,
			cn.EventVerificationSent, cn.EventFinalized,
		},
		"counter-offer loop": {
			cn.EventInitiate, cn.EventRequestSent, cn.EventOfferReceived, cn.EventCounter,
			cn.EventRequestSent, cn.EventOfferReceived, cn.EventAccept, cn.EventAcceptanceSent,
			cn.EventAgreementReceived, cn.EventVerify, cn.EventVerificationSent, cn.EventFinalized,
		},
		"peer answers before the send completed": {
			cn.EventInitiate, cn.EventOfferReceived, cn.EventAccept, cn.EventAgreementReceived,
			cn.EventVerify, cn.EventFinalized,
		},
	}
	for name, events := range paths {
		t.Run(name, func(t *testing.T) {
			n := makeNegotiation(cn.Initial)
			for _, evt := range events {
				require.NoError(t, m.Apply(&n, evt, now), "event %s", evt)
			}
			assert.Equal(t, cn.Confirmed, n.State)
		})
	}
}

func TestConsumerDecline(t *testing.T) {
	m := fsm.MustNew(consumerstates.ConsumerEvents)
	now := time.Now()

	t.Run("declining clears an agreement", func(t *testing.T) {
		n := makeNegotiation(cn.Agreed)
		n.Agreement = &cn.ContractAgreement{ID: "a"}
		require.NoError(t, m.Apply(&n, cn.EventDeclined, now))
		assert.Equal(t, cn.Declined, n.State)
		assert.Nil(t, n.Agreement)
	})

	t.Run("decline is not possible once agreed", func(t *testing.T) {
		n := makeNegotiation(cn.Agreed)
		assert.False(t, m.Can(n.State, cn.EventDecline))
		assert.True(t, m.Can(n.State, cn.EventForceDecline))
	})

	t.Run("terminal states accept nothing", func(t *testing.T) {
		for _, s := range []cn.State{cn.Confirmed, cn.Declined, cn.Terminated, cn.Error} {
			for evt := range cn.Events {
				assert.False(t, m.Can(s, evt), "event %s from %s", evt, s)
			}
		}
	})
}

func TestConsumerOutbounds(t *testing.T) {
	t.Run("initial offer", func(t *testing.T) {
		n := makeNegotiation(cn.Requesting)
		msg, err := consumerstates.SendRequest(env{}, n)
		require.NoError(t, err)
		assert.Equal(t, cn.MessageInitialOffer, msg.Type)
		assert.Equal(t, cn.ProcessIDs{ConsumerPID: "c-1"}, msg.ProcessIDs)
		assert.Equal(t, "http://consumer.local", msg.CallbackAddress)
		require.NotNil(t, msg.Offer)
		assert.Equal(t, cn.MustHashOffer(*msg.Offer), msg.OfferHash)
	})

	t.Run("counter-offer", func(t *testing.T) {
		n := makeNegotiation(cn.Requesting)
		n.CorrelationID = "p-1"
		n.Offers = append(n.Offers, cn.ContractOffer{ID: "o-2"}, cn.ContractOffer{ID: "o-3"})
		msg, err := consumerstates.SendRequest(env{}, n)
		require.NoError(t, err)
		assert.Equal(t, cn.MessageCounterOffer, msg.Type)
		assert.Equal(t, "o-3", msg.Offer.ID)
		assert.Equal(t, cn.ProcessIDs{ConsumerPID: "c-1", ProviderPID: "p-1"}, msg.ProcessIDs)
	})

	t.Run("no offer is fatal", func(t *testing.T) {
		n := makeNegotiation(cn.Requesting)
		n.Offers = nil
		_, err := consumerstates.SendRequest(env{}, n)
		require.Error(t, err)
		assert.True(t, cn.IsFatal(err))
	})

	t.Run("verification requires an agreement", func(t *testing.T) {
		n := makeNegotiation(cn.Verifying)
		_, err := consumerstates.SendVerification(env{}, n)
		require.Error(t, err)

		n.Agreement = &cn.ContractAgreement{ID: "a"}
		msg, err := consumerstates.SendVerification(env{}, n)
		require.NoError(t, err)
		assert.Equal(t, cn.MessageVerification, msg.Type)
	})

	t.Run("decline carries the reason", func(t *testing.T) {
		n := makeNegotiation(cn.Declining)
		n.ErrorDetail = "policy mismatch"
		msg, err := consumerstates.SendDecline(env{}, n)
		require.NoError(t, err)
		assert.Equal(t, cn.MessageDecline, msg.Type)
		assert.Equal(t, "policy mismatch", msg.Reason)
	})

	t.Run("every actionable state can fail a send", func(t *testing.T) {
		m := fsm.MustNew(consumerstates.ConsumerEvents)
		for _, s := range consumerstates.ConsumerOutbounds.States() {
			assert.True(t, m.Can(s, cn.EventSendFailed), "state %s", s)
			assert.True(t, m.Can(s, consumerstates.ConsumerOutbounds[s].Sent), "state %s", s)
		}
	})
}
