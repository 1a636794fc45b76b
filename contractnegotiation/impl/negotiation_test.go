package impl_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/impl"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/memstore"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/network"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/testutil"
	"github.com/filecoin-project/go-dataspace/lib/retry"
)

const (
	consumerAddress = "loop://consumer"
	providerAddress = "loop://provider"
)

// history checks that every record only ever moves forward
type history struct {
	t  *testing.T
	lk sync.Mutex

	counts map[string]uint64
	states map[string][]cn.State
}

func newHistory(t *testing.T) *history {
	return &history{t: t, counts: map[string]uint64{}, states: map[string][]cn.State{}}
}

func (h *history) subscriber(_ cn.Event, n cn.ContractNegotiation) {
	h.lk.Lock()
	defer h.lk.Unlock()
	// events applied by one write share its state count
	if last, ok := h.counts[n.ID]; ok && n.StateCount < last {
		h.t.Errorf("negotiation %s went back from state count %d to %d", n.ID, last, n.StateCount)
	}
	h.counts[n.ID] = n.StateCount
	h.states[n.ID] = append(h.states[n.ID], n.State)
}

func (h *history) of(id string) []cn.State {
	h.lk.Lock()
	defer h.lk.Unlock()
	return append([]cn.State(nil), h.states[id]...)
}

type harness struct {
	net   *network.Loopback
	clock *clock.Mock

	consumer   *impl.Consumer
	provider   *impl.Provider
	consumerV  *testutil.Validator
	providerV  *testutil.Validator
	consumerH  *history
	providerH  *history
	providerDS *memstore.Store
}

type harnessOpts struct {
	consumerDecider cn.DeciderFunc
	providerDecider cn.DeciderFunc
	maxOfferRounds  uint64
	retryPolicy     retry.Policy
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	clk := clock.NewMock()
	clk.Set(epoch)
	h := &harness{
		net:       network.NewLoopback(),
		clock:     clk,
		consumerV: &testutil.Validator{},
		providerV: &testutil.Validator{},
		consumerH: newHistory(t),
		providerH: newHistory(t),
	}

	common := []impl.Option{impl.WithClock(clk)}
	if o.retryPolicy != nil {
		common = append(common, impl.WithRetryPolicy(o.retryPolicy))
	}

	consumerOpts := common
	if o.consumerDecider != nil {
		consumerOpts = append(consumerOpts[:len(consumerOpts):len(consumerOpts)], impl.WithDecider(o.consumerDecider))
	}
	c, err := impl.NewConsumer(impl.Config{
		ParticipantID:   "consumer",
		CallbackAddress: consumerAddress,
		DispatchTimeout: 30 * time.Second,
		MaxOfferRounds:  o.maxOfferRounds,
	}, memstore.New(memstore.WithClock(clk)), h.net.Dispatcher("consumer"), h.consumerV, consumerOpts...)
	require.NoError(t, err)

	providerOpts := common
	if o.providerDecider != nil {
		providerOpts = append(providerOpts[:len(providerOpts):len(providerOpts)], impl.WithDecider(o.providerDecider))
	}
	h.providerDS = memstore.New(memstore.WithClock(clk))
	p, err := impl.NewProvider(impl.Config{
		ParticipantID:   "provider",
		CallbackAddress: providerAddress,
		DispatchTimeout: 30 * time.Second,
		MaxOfferRounds:  o.maxOfferRounds,
	}, h.providerDS, h.net.Dispatcher("provider"), h.providerV, providerOpts...)
	require.NoError(t, err)

	h.consumer, h.provider = c, p
	c.Subscribe(h.consumerH.subscriber)
	p.Subscribe(h.providerH.subscriber)
	h.net.Register(consumerAddress, network.NewConsumerReceiver(c))
	h.net.Register(providerAddress, network.NewProviderReceiver(p))
	return h
}

func (h *harness) initiate(t *testing.T) cn.ContractNegotiation {
	n, err := h.consumer.Initiate(context.Background(), cn.OfferRequest{
		ProviderID:      "provider",
		ProviderAddress: providerAddress,
		Protocol:        "dataspace-protocol-http",
		Offer:           testutil.GenerateOffer("provider", "consumer", "asset-1"),
	})
	require.NoError(t, err)
	return n
}

// step ticks the consumer and then the provider, each time waiting until
// the messages sent were handled and their outcome recorded
func (h *harness) step(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, h.consumer.Tick(ctx))
	h.net.Wait()
	h.consumer.Wait()
	require.NoError(t, h.provider.Tick(ctx))
	h.net.Wait()
	h.provider.Wait()
}

// run steps until both sides of the negotiation started by consumerID are terminal
func (h *harness) run(t *testing.T, consumerID string) (consumer, provider cn.ContractNegotiation) {
	for i := 0; i < 30; i++ {
		h.step(t)
		consumer, provider = h.sides(t, consumerID)
		if consumer.State.IsTerminal() && provider.State.IsTerminal() {
			return consumer, provider
		}
	}
	t.Fatalf("negotiation did not finish: consumer %s, provider %s", consumer.State, provider.State)
	return
}

func (h *harness) sides(t *testing.T, consumerID string) (consumer, provider cn.ContractNegotiation) {
	ctx := context.Background()
	consumer, err := h.consumer.Get(ctx, consumerID)
	require.NoError(t, err)
	p, err := h.providerDS.FindForCorrelationID(ctx, consumerID)
	if err == nil {
		provider = *p
	} else {
		require.ErrorIs(t, err, cn.ErrNotFound)
	}
	return consumer, provider
}

func counterOnce(prohibited string) cn.DeciderFunc {
	return func(_ context.Context, n cn.ContractNegotiation, offer cn.ContractOffer) cn.Decision {
		if len(n.Offers) == 1 {
			counter := testutil.GenerateCounterOffer(offer, prohibited)
			return cn.Decision{Kind: cn.DecisionCounter, CounterOffer: &counter}
		}
		return cn.Decision{Kind: cn.DecisionAccept}
	}
}

func alwaysCounter(_ context.Context, n cn.ContractNegotiation, offer cn.ContractOffer) cn.Decision {
	counter := testutil.GenerateCounterOffer(offer, "resell")
	return cn.Decision{Kind: cn.DecisionCounter, CounterOffer: &counter}
}

func TestNegotiationConfirmed(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Confirmed, consumer.State)
	require.Equal(t, cn.Confirmed, provider.State)
	require.Len(t, consumer.Offers, 1)
	require.Len(t, provider.Offers, 1)
	require.NotNil(t, consumer.Agreement)
	require.NotNil(t, provider.Agreement)
	require.Equal(t, *provider.Agreement, *consumer.Agreement)
	require.Equal(t, cn.MustHashOffer(consumer.Offers[0]), consumer.Agreement.OfferHash)
	require.Equal(t, "provider", consumer.Agreement.ProviderID)
	require.Equal(t, "consumer", consumer.Agreement.ConsumerID)

	require.Equal(t, provider.ID, consumer.CorrelationID)
	require.Equal(t, consumer.ID, provider.CorrelationID)

	require.Equal(t, []cn.State{cn.Requesting, cn.Requested, cn.Agreed, cn.Verifying, cn.Verified, cn.Confirmed},
		h.consumerH.of(consumer.ID))
	require.Equal(t, []cn.State{cn.Requested, cn.Agreeing, cn.Agreed, cn.Verified, cn.Confirming, cn.Confirmed},
		h.providerH.of(provider.ID))
	require.Equal(t, 1, h.providerV.InitialOfferCalls)
	require.Equal(t, 1, h.consumerV.ConfirmedCalls)
}

func TestNegotiationInitialOfferRejected(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.providerV.InitialOfferErr = errors.New("asset is not offered to this consumer")
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Declined, consumer.State)
	require.Contains(t, consumer.ErrorDetail, "declined by counter-party")
	require.Contains(t, consumer.ErrorDetail, "asset is not offered")
	require.Equal(t, cn.Declined, provider.State)
	require.Contains(t, provider.ErrorDetail, "asset is not offered")
	for _, side := range []cn.ContractNegotiation{consumer, provider} {
		require.Len(t, side.Offers, 1)
		require.Nil(t, side.Agreement)
	}
	require.NotContains(t, h.consumerH.of(consumer.ID), cn.Confirmed)
	require.NotContains(t, h.providerH.of(provider.ID), cn.Confirmed)
	require.NotContains(t, h.consumerH.of(consumer.ID), cn.Error)
}

func TestNegotiationAgreementRejected(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.consumerV.ConfirmedErr = errors.New("agreement policy differs from offer")
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Declined, consumer.State)
	require.Contains(t, consumer.ErrorDetail, "agreement rejected")
	require.Equal(t, cn.Declined, provider.State)
	require.Contains(t, provider.ErrorDetail, "agreement policy differs from offer")
	for _, side := range []cn.ContractNegotiation{consumer, provider} {
		require.Len(t, side.Offers, 1)
		require.Nil(t, side.Agreement)
	}
	// the provider did hold and send an agreement before it was rejected
	require.Contains(t, h.providerH.of(provider.ID), cn.Agreeing)
	require.NotContains(t, h.providerH.of(provider.ID), cn.Error)
}

func TestCounterOfferRejected(t *testing.T) {
	h := newHarness(t, harnessOpts{providerDecider: counterOnce("distribute")})
	h.consumerV.CounterOfferErr = errors.New("counter-offer drops a required permission")
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Declined, consumer.State)
	require.Equal(t, cn.Declined, provider.State)
	require.Contains(t, provider.ErrorDetail, "drops a required permission")
	require.Equal(t, consumer.Offers, provider.Offers)
	for _, side := range []cn.ContractNegotiation{consumer, provider} {
		require.Len(t, side.Offers, 2)
		require.Nil(t, side.Agreement)
	}
}

func TestCancelDuringOfferLoop(t *testing.T) {
	wait := func(context.Context, cn.ContractNegotiation, cn.ContractOffer) cn.Decision {
		return cn.Decision{Kind: cn.DecisionWait}
	}
	h := newHarness(t, harnessOpts{
		providerDecider: counterOnce("distribute"),
		consumerDecider: wait,
		retryPolicy:     retry.ExponentialBackoff{Min: time.Hour, Max: time.Hour, Factor: 2},
	})
	ctx := context.Background()
	n := h.initiate(t)

	for i := 0; i < 5; i++ {
		h.step(t)
	}
	consumer, provider := h.sides(t, n.ID)
	require.Equal(t, cn.Offered, consumer.State)
	require.Equal(t, cn.Offered, provider.State)

	// the consumer answers, but the provider is unreachable
	h.net.FailHook = func(destination string, msg cn.Message) error {
		return errors.New("connection reset")
	}
	counter := testutil.GenerateCounterOffer(consumer.Offers[1], "resell")
	_, err := h.consumer.Counter(ctx, n.ID, counter)
	require.NoError(t, err)
	h.step(t)

	consumer, _ = h.sides(t, n.ID)
	require.Equal(t, cn.Requesting, consumer.State)
	require.Equal(t, uint64(1), consumer.RetryCount)

	require.NoError(t, h.consumer.Enqueue(impl.CancelNegotiation{ID: n.ID, Reason: "operator cancelled"}))
	require.NoError(t, h.provider.Enqueue(impl.CancelNegotiation{ID: provider.ID}))
	h.step(t)

	consumer, provider = h.sides(t, n.ID)
	require.Equal(t, cn.Terminated, consumer.State)
	require.Equal(t, "operator cancelled", consumer.ErrorDetail)
	require.Equal(t, cn.Terminated, provider.State)
	require.Equal(t, "cancelled", provider.ErrorDetail)
}

func TestCounterOfferRounds(t *testing.T) {
	h := newHarness(t, harnessOpts{
		providerDecider: counterOnce("distribute"),
		consumerDecider: func(_ context.Context, n cn.ContractNegotiation, offer cn.ContractOffer) cn.Decision {
			if len(n.Offers) == 2 {
				counter := testutil.GenerateCounterOffer(offer, "resell")
				return cn.Decision{Kind: cn.DecisionCounter, CounterOffer: &counter}
			}
			return cn.Decision{Kind: cn.DecisionAccept}
		},
	})
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Confirmed, consumer.State)
	require.Equal(t, cn.Confirmed, provider.State)
	require.Len(t, consumer.Offers, 3)
	require.Equal(t, consumer.Offers, provider.Offers)
	require.Equal(t, *provider.Agreement, *consumer.Agreement)
	require.Equal(t, consumer.Offers[2].Policy, consumer.Agreement.Policy)
	require.Equal(t, uint64(1), consumer.Rounds)
	require.Equal(t, uint64(1), provider.Rounds)
	require.Equal(t, 2, h.providerV.CounterOfferCalls+h.consumerV.CounterOfferCalls)
}

func TestAcceptedCounterOffer(t *testing.T) {
	h := newHarness(t, harnessOpts{providerDecider: counterOnce("distribute")})
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Confirmed, consumer.State)
	require.Equal(t, cn.Confirmed, provider.State)
	require.Len(t, provider.Offers, 2)
	require.Equal(t, consumer.Offers[1].Policy, provider.Agreement.Policy)
	require.Contains(t, h.consumerH.of(consumer.ID), cn.Accepting)
	require.Contains(t, h.providerH.of(provider.ID), cn.Accepted)
}

func TestOfferRoundLimit(t *testing.T) {
	h := newHarness(t, harnessOpts{
		providerDecider: alwaysCounter,
		consumerDecider: alwaysCounter,
		maxOfferRounds:  1,
	})
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Declined, consumer.State)
	require.Equal(t, cn.Declined, provider.State)
	require.Equal(t, consumer.Offers, provider.Offers)
	for _, side := range []cn.ContractNegotiation{consumer, provider} {
		require.Nil(t, side.Agreement)
	}
	// whoever saw the second counter-offer first gave up
	require.True(t, consumer.ErrorDetail == "maximum offer rounds exceeded" ||
		provider.ErrorDetail == "maximum offer rounds exceeded")
}

func TestDeclineReachesProvider(t *testing.T) {
	h := newHarness(t, harnessOpts{
		providerDecider: counterOnce("distribute"),
		consumerDecider: func(context.Context, cn.ContractNegotiation, cn.ContractOffer) cn.Decision {
			return cn.Decision{Kind: cn.DecisionDecline, Reason: "terms unacceptable"}
		},
	})
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Declined, consumer.State)
	require.Equal(t, cn.Declined, provider.State)
	require.Equal(t, "terms unacceptable", consumer.ErrorDetail)
	require.Equal(t, "terms unacceptable", provider.ErrorDetail)
}

func TestDuplicateDeliveries(t *testing.T) {
	h := newHarness(t, harnessOpts{providerDecider: counterOnce("distribute")})
	h.net.DuplicateHook = func(string, cn.Message) bool { return true }
	n := h.initiate(t)

	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Confirmed, consumer.State)
	require.Equal(t, cn.Confirmed, provider.State)
	require.Len(t, consumer.Offers, 2)
	require.Len(t, provider.Offers, 2)
	require.Equal(t, *provider.Agreement, *consumer.Agreement)
	require.Equal(t, 1, h.providerV.InitialOfferCalls)
	require.Equal(t, 1, h.consumerV.CounterOfferCalls)
	require.Equal(t, 1, h.consumerV.ConfirmedCalls)
}

func TestTerminationReachesPeer(t *testing.T) {
	wait := func(context.Context, cn.ContractNegotiation, cn.ContractOffer) cn.Decision {
		return cn.Decision{Kind: cn.DecisionWait}
	}
	h := newHarness(t, harnessOpts{providerDecider: wait})
	n := h.initiate(t)
	h.step(t)

	_, provider := h.sides(t, n.ID)
	require.Equal(t, cn.Requested, provider.State)

	require.NoError(t, h.provider.Enqueue(impl.TerminateNegotiation{ID: provider.ID, Reason: "asset withdrawn"}))
	consumer, provider := h.run(t, n.ID)

	require.Equal(t, cn.Terminated, provider.State)
	require.Equal(t, cn.Terminated, consumer.State)
	require.Equal(t, "asset withdrawn", consumer.ErrorDetail)
	require.Equal(t, provider.ID, consumer.CorrelationID)
}

func TestManualProviderAgreement(t *testing.T) {
	wait := func(context.Context, cn.ContractNegotiation, cn.ContractOffer) cn.Decision {
		return cn.Decision{Kind: cn.DecisionWait}
	}
	h := newHarness(t, harnessOpts{providerDecider: wait})
	ctx := context.Background()
	n := h.initiate(t)
	h.step(t)

	_, provider := h.sides(t, n.ID)
	require.Equal(t, cn.Requested, provider.State)

	_, err := h.provider.Agree(ctx, provider.ID)
	require.NoError(t, err)

	consumer, provider := h.run(t, n.ID)
	require.Equal(t, cn.Confirmed, consumer.State)
	require.Equal(t, cn.Confirmed, provider.State)
}

func TestForeignCallerIsRejected(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	n := h.initiate(t)
	consumer, provider := h.run(t, n.ID)

	mallory := cn.ClaimToken{ParticipantID: "mallory"}
	_, err := h.provider.Terminated(ctx, mallory, provider.ProcessIDs(), "hijack")
	require.True(t, cn.IsFatal(err))
	_, err = h.consumer.Declined(ctx, mallory, consumer.ProcessIDs(), "hijack")
	require.True(t, cn.IsFatal(err))

	// the right caller with a foreign provider process id
	ids := consumer.ProcessIDs()
	ids.ProviderPID = "someone-else"
	_, err = h.consumer.Terminated(ctx, cn.ClaimToken{ParticipantID: "provider"}, ids, "hijack")
	require.True(t, cn.IsFatal(err))

	after, afterProvider := h.sides(t, n.ID)
	require.Equal(t, consumer, after)
	require.Equal(t, provider, afterProvider)
}

func TestUnknownNegotiation(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	token := cn.ClaimToken{ParticipantID: "provider"}

	_, err := h.consumer.Finalized(ctx, token, cn.ProcessIDs{ConsumerPID: "nope", ProviderPID: "p"})
	require.ErrorIs(t, err, cn.ErrNotFound)
	_, err = h.provider.Accepted(ctx, cn.ClaimToken{ParticipantID: "consumer"}, cn.ProcessIDs{ConsumerPID: "nope"})
	require.ErrorIs(t, err, cn.ErrNotFound)
}

func TestProviderUnreachableUntilRegistered(t *testing.T) {
	h := newHarness(t, harnessOpts{
		retryPolicy: retry.ExponentialBackoff{Min: time.Second, Max: time.Second, Factor: 2, MaxAttempts: 5},
	})
	h.net.Unregister(providerAddress)
	n := h.initiate(t)

	h.step(t)
	consumer, _ := h.sides(t, n.ID)
	require.Equal(t, cn.Requesting, consumer.State)
	require.Equal(t, uint64(1), consumer.RetryCount)

	h.net.Register(providerAddress, network.NewProviderReceiver(h.provider))
	h.clock.Add(time.Second)

	consumer, provider := h.run(t, n.ID)
	require.Equal(t, cn.Confirmed, consumer.State)
	require.Equal(t, cn.Confirmed, provider.State)
}

func TestCounterOfferOpensUnknownNegotiation(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	token := cn.ClaimToken{ParticipantID: "consumer"}
	offer := testutil.GenerateOffer("provider", "consumer", "asset-1")

	n, err := h.provider.OfferReceived(ctx, token, cn.ContractRequest{
		ProcessIDs:      cn.ProcessIDs{ConsumerPID: "c-new"},
		Protocol:        "dataspace-protocol-http",
		CallbackAddress: consumerAddress,
		Offer:           offer,
		OfferHash:       cn.MustHashOffer(offer),
	})
	require.NoError(t, err)
	require.Equal(t, "c-new", n.CorrelationID)
	require.Equal(t, "consumer", n.CounterPartyID)
	require.Equal(t, consumerAddress, n.CounterPartyAddress)
	require.Equal(t, cn.Agreeing, n.State)
	require.Len(t, n.Offers, 1)
	require.Equal(t, 1, h.providerV.InitialOfferCalls)

	found, err := h.providerDS.FindForCorrelationID(ctx, "c-new")
	require.NoError(t, err)
	require.Equal(t, n.ID, found.ID)

	// an offer naming a provider process that does not exist opens nothing
	_, err = h.provider.OfferReceived(ctx, token, cn.ContractRequest{
		ProcessIDs:      cn.ProcessIDs{ConsumerPID: "c-other", ProviderPID: "p-gone"},
		CallbackAddress: consumerAddress,
		Offer:           offer,
	})
	require.ErrorIs(t, err, cn.ErrNotFound)
}
