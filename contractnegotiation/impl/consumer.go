package impl

import (
	"context"

	"github.com/google/uuid"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/impl/consumerstates"
)

// Consumer negotiates with providers to obtain assets
type Consumer struct {
	*manager
}

// NewConsumer returns a consumer. Its engine does nothing until Start is called.
func NewConsumer(cfg Config, store cn.Store, dispatcher cn.Dispatcher, validator cn.Validator, opts ...Option) (*Consumer, error) {
	m, err := newManager(cn.TypeConsumer, consumerstates.ConsumerEvents, consumerstates.ConsumerOutbounds,
		cfg, store, dispatcher, validator, opts...)
	if err != nil {
		return nil, err
	}
	return &Consumer{manager: m}, nil
}

// Initiate starts a negotiation with req's provider. The initial offer is sent
// on a following tick.
func (c *Consumer) Initiate(ctx context.Context, req cn.OfferRequest) (cn.ContractNegotiation, error) {
	switch {
	case req.ProviderID == "":
		return cn.ContractNegotiation{}, cn.Fatalf("offer request without provider id")
	case req.ProviderAddress == "":
		return cn.ContractNegotiation{}, cn.Fatalf("offer request without provider address")
	case req.Protocol == "":
		return cn.ContractNegotiation{}, cn.Fatalf("offer request without protocol")
	case req.Offer.AssetID == "":
		return cn.ContractNegotiation{}, cn.Fatalf("offer request without asset")
	}
	offer := req.Offer
	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}

	id := uuid.NewString()
	n, err := c.update(ctx, func(context.Context) (*cn.ContractNegotiation, error) {
		n := c.newNegotiation(id)
		n.CounterPartyID = req.ProviderID
		n.CounterPartyAddress = req.ProviderAddress
		n.Protocol = req.Protocol
		return n, nil
	}, func(t *transition) error {
		return t.apply(cn.EventInitiate, appendOffer(offer))
	})
	if err != nil {
		return n, err
	}
	log.Infow("negotiation initiated", "id", n.ID, "provider", n.CounterPartyID, "asset", offer.AssetID)
	return n, nil
}

// OfferReceived records a counter-offer from the provider and asks the decider
// how to answer it. An offer failing validation is recorded and declined, and
// the returned error is a rejection.
func (c *Consumer) OfferReceived(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, offer cn.ContractOffer, hash string) (cn.ContractNegotiation, error) {
	return c.update(ctx, c.inbound(ids), func(t *transition) error {
		n := t.n
		if err := c.checkInbound(token, ids, n); err != nil {
			return err
		}
		if n.HasOffer(offer.ID) {
			return nil
		}
		if !c.machine.Can(n.State, cn.EventOfferReceived) {
			return invalidTransition(n, cn.EventOfferReceived)
		}

		previous, _ := n.LastOffer()
		verr := checkOfferHash(offer, hash)
		if verr == nil {
			verr = c.validator.ValidateCounterOffer(ctx, token, offer, previous)
		}
		if err := t.apply(cn.EventOfferReceived, c.correlate(ids), appendOffer(offer)); err != nil {
			return err
		}
		if verr != nil {
			log.Infow("counter-offer rejected", "id", n.ID, "offer", offer.ID, "err", verr)
			if err := t.apply(cn.EventDecline, withDetail("offer rejected: "+verr.Error())); err != nil {
				return err
			}
			return t.fail(cn.NewRejectedError(verr))
		}
		if c.overRoundLimit(n) {
			return t.apply(cn.EventDecline, withDetail("maximum offer rounds exceeded"))
		}
		return c.decide(ctx, t, offer)
	})
}

func (c *Consumer) decide(ctx context.Context, t *transition, offer cn.ContractOffer) error {
	d := c.decider(ctx, t.n.Clone(), offer)
	switch d.Kind {
	case cn.DecisionAccept:
		return t.apply(cn.EventAccept)
	case cn.DecisionCounter:
		if d.CounterOffer == nil {
			log.Errorw("counter decision without offer, waiting", "id", t.n.ID)
			return nil
		}
		counter, err := nextOfferID(t.n, *d.CounterOffer)
		if err != nil {
			log.Errorw("invalid counter-offer decision, waiting", "id", t.n.ID, "err", err)
			return nil
		}
		return t.apply(cn.EventCounter, appendOffer(counter))
	case cn.DecisionDecline:
		return t.apply(cn.EventDecline, withDetail(orDefault(d.Reason, "declined")))
	default:
		return nil
	}
}

// Accept accepts the provider's last offer
func (c *Consumer) Accept(ctx context.Context, id string) (cn.ContractNegotiation, error) {
	return c.update(ctx, c.local(id), func(t *transition) error {
		if !c.machine.Can(t.n.State, cn.EventAccept) {
			return invalidTransition(t.n, cn.EventAccept)
		}
		return t.apply(cn.EventAccept)
	})
}

// Confirmed records the provider's agreement once it validates against the
// last offer and policy, and starts verifying it. A rejected agreement is not
// recorded, the negotiation is declined and the returned error is a rejection.
func (c *Consumer) Confirmed(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs, agreement cn.ContractAgreement, policy cn.Policy) (cn.ContractNegotiation, error) {
	return c.update(ctx, c.inbound(ids), func(t *transition) error {
		n := t.n
		if err := c.checkInbound(token, ids, n); err != nil {
			return err
		}
		if cn.HasAgreement(n.Type, n.State) {
			if n.Agreement != nil && n.Agreement.ID == agreement.ID {
				return nil
			}
			return cn.Fatalf("negotiation %s already holds another agreement", n.ID)
		}
		if n.State == cn.Declining || n.State == cn.Declined {
			// a redelivered agreement we already refused
			return cn.Rejectedf("negotiation %s is declined: %s", n.ID, n.ErrorDetail)
		}
		if !c.machine.Can(n.State, cn.EventAgreementReceived) {
			return invalidTransition(n, cn.EventAgreementReceived)
		}

		offer, ok := n.LastOffer()
		if !ok {
			return cn.Fatalf("negotiation %s has no offer to confirm", n.ID)
		}
		if verr := c.validator.ValidateConfirmed(ctx, token, agreement, policy, offer); verr != nil {
			log.Infow("agreement rejected", "id", n.ID, "agreement", agreement.ID, "err", verr)
			if err := t.apply(cn.EventDecline, c.correlate(ids), withDetail("agreement rejected: "+verr.Error())); err != nil {
				return err
			}
			return t.fail(cn.NewRejectedError(verr))
		}

		recorded := agreement
		if err := t.apply(cn.EventAgreementReceived, c.correlate(ids), func(n *cn.ContractNegotiation) {
			n.Agreement = &recorded
		}); err != nil {
			return err
		}
		return t.apply(cn.EventVerify)
	})
}

// Finalized records the provider closing a verified negotiation
func (c *Consumer) Finalized(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs) (cn.ContractNegotiation, error) {
	return c.update(ctx, c.inbound(ids), func(t *transition) error {
		if err := c.checkInbound(token, ids, t.n); err != nil {
			return err
		}
		if t.n.State == cn.Confirmed {
			return nil
		}
		if !c.machine.Can(t.n.State, cn.EventFinalized) {
			return invalidTransition(t.n, cn.EventFinalized)
		}
		return t.apply(cn.EventFinalized)
	})
}
