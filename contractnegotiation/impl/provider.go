package impl

import (
	"context"
	"errors"

	"github.com/google/uuid"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/impl/providerstates"
)

// Provider answers consumers negotiating for its assets
type Provider struct {
	*manager
}

// NewProvider returns a provider. Its engine does nothing until Start is called.
func NewProvider(cfg Config, store cn.Store, dispatcher cn.Dispatcher, validator cn.Validator, opts ...Option) (*Provider, error) {
	m, err := newManager(cn.TypeProvider, providerstates.ProviderEvents, providerstates.ProviderOutbounds,
		cfg, store, dispatcher, validator, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{manager: m}, nil
}

// Requested records a consumer's initial offer and asks the decider how to
// answer it. A redelivered request is acknowledged without effect.
//
// An offer failing validation is recorded in a negotiation that is declined
// right away, so the consumer is told, and the returned error is a rejection.
func (p *Provider) Requested(ctx context.Context, token cn.ClaimToken, req cn.ContractRequest) (cn.ContractNegotiation, error) {
	switch {
	case req.ConsumerPID == "":
		return cn.ContractNegotiation{}, cn.Fatalf("contract request without consumer process id")
	case req.CallbackAddress == "":
		return cn.ContractNegotiation{}, cn.Fatalf("contract request without callback address")
	case req.Offer.ID == "":
		return cn.ContractNegotiation{}, cn.Fatalf("contract request without offer id")
	}

	id := uuid.NewString()
	load := func(ctx context.Context) (*cn.ContractNegotiation, error) {
		n, err := p.store.FindForCorrelationID(ctx, req.ConsumerPID)
		if errors.Is(err, cn.ErrNotFound) {
			n = p.newNegotiation(id)
			n.CorrelationID = req.ConsumerPID
			n.CounterPartyID = token.ParticipantID
			n.CounterPartyAddress = req.CallbackAddress
			n.Protocol = req.Protocol
			return n, nil
		}
		return n, err
	}

	n, err := p.update(ctx, load, func(t *transition) error {
		n := t.n
		if n.StateCount > 0 {
			if err := p.checkInbound(token, req.ProcessIDs, n); err != nil {
				return err
			}
			if n.HasOffer(req.Offer.ID) {
				return nil
			}
			return p.offerReceived(ctx, t, token, req.Offer, req.OfferHash)
		}

		verr := checkOfferHash(req.Offer, req.OfferHash)
		if verr == nil {
			verr = p.validator.ValidateInitialOffer(ctx, token, req.Offer)
		}
		if verr != nil {
			log.Infow("initial offer rejected", "consumer", token.ParticipantID, "offer", req.Offer.ID, "err", verr)
			if err := t.apply(cn.EventDecline, appendOffer(req.Offer), withDetail("offer rejected: "+verr.Error())); err != nil {
				return err
			}
			return t.fail(cn.NewRejectedError(verr))
		}
		if err := t.apply(cn.EventRequestReceived, appendOffer(req.Offer)); err != nil {
			return err
		}
		return p.decide(ctx, t, req.Offer)
	})
	if err == nil {
		log.Infow("contract request received", "id", n.ID, "consumer", n.CounterPartyID, "state", n.State)
	}
	return n, err
}

// OfferReceived records a consumer's counter-offer and asks the decider how to
// answer it. An offer for a negotiation the provider has no record of, and
// which the consumer has not correlated yet, opens one like Requested.
func (p *Provider) OfferReceived(ctx context.Context, token cn.ClaimToken, req cn.ContractRequest) (cn.ContractNegotiation, error) {
	n, err := p.update(ctx, p.inbound(req.ProcessIDs), func(t *transition) error {
		if err := p.checkInbound(token, req.ProcessIDs, t.n); err != nil {
			return err
		}
		if t.n.HasOffer(req.Offer.ID) {
			return nil
		}
		return p.offerReceived(ctx, t, token, req.Offer, req.OfferHash)
	})
	if errors.Is(err, cn.ErrNotFound) && req.ProviderPID == "" {
		log.Debugw("offer without negotiation, creating one", "consumer", token.ParticipantID, "consumerPid", req.ConsumerPID)
		return p.Requested(ctx, token, req)
	}
	return n, err
}

func (p *Provider) offerReceived(ctx context.Context, t *transition, token cn.ClaimToken, offer cn.ContractOffer, hash string) error {
	n := t.n
	if !p.machine.Can(n.State, cn.EventOfferReceived) {
		return invalidTransition(n, cn.EventOfferReceived)
	}

	previous, _ := n.LastOffer()
	verr := checkOfferHash(offer, hash)
	if verr == nil {
		verr = p.validator.ValidateCounterOffer(ctx, token, offer, previous)
	}
	if err := t.apply(cn.EventOfferReceived, appendOffer(offer)); err != nil {
		return err
	}
	if verr != nil {
		log.Infow("counter-offer rejected", "id", n.ID, "offer", offer.ID, "err", verr)
		if err := t.apply(cn.EventDecline, withDetail("offer rejected: "+verr.Error())); err != nil {
			return err
		}
		return t.fail(cn.NewRejectedError(verr))
	}
	if p.overRoundLimit(n) {
		return t.apply(cn.EventDecline, withDetail("maximum offer rounds exceeded"))
	}
	return p.decide(ctx, t, offer)
}

func (p *Provider) decide(ctx context.Context, t *transition, offer cn.ContractOffer) error {
	d := p.decider(ctx, t.n.Clone(), offer)
	switch d.Kind {
	case cn.DecisionAccept:
		return p.agree(t)
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

// agree forms the agreement from the last offer
func (p *Provider) agree(t *transition) error {
	offer, ok := t.n.LastOffer()
	if !ok {
		return cn.Fatalf("negotiation %s has no offer to agree on", t.n.ID)
	}
	hash, err := cn.HashOffer(offer)
	if err != nil {
		return cn.NewFatalError(err)
	}
	agreement := cn.ContractAgreement{
		ID:          uuid.NewString(),
		ProviderID:  p.cfg.ParticipantID,
		ConsumerID:  t.n.CounterPartyID,
		AssetID:     offer.AssetID,
		Policy:      offer.Policy,
		SigningDate: p.clock.Now().UTC(),
		OfferHash:   hash,
	}
	return t.apply(cn.EventAgree, func(n *cn.ContractNegotiation) {
		n.Agreement = &agreement
	})
}

// Agree agrees to the consumer's last offer
func (p *Provider) Agree(ctx context.Context, id string) (cn.ContractNegotiation, error) {
	return p.update(ctx, p.local(id), func(t *transition) error {
		if !p.machine.Can(t.n.State, cn.EventAgree) {
			return invalidTransition(t.n, cn.EventAgree)
		}
		return p.agree(t)
	})
}

// Accepted records the consumer accepting the provider's last offer and forms the agreement
func (p *Provider) Accepted(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs) (cn.ContractNegotiation, error) {
	return p.update(ctx, p.inbound(ids), func(t *transition) error {
		n := t.n
		if err := p.checkInbound(token, ids, n); err != nil {
			return err
		}
		if n.State == cn.Accepted || cn.HasAgreement(n.Type, n.State) {
			return nil
		}
		if !p.machine.Can(n.State, cn.EventAccepted) {
			return invalidTransition(n, cn.EventAccepted)
		}
		if err := t.apply(cn.EventAccepted); err != nil {
			return err
		}
		return p.agree(t)
	})
}

// Verified records the consumer verifying the agreement and starts finalizing
func (p *Provider) Verified(ctx context.Context, token cn.ClaimToken, ids cn.ProcessIDs) (cn.ContractNegotiation, error) {
	return p.update(ctx, p.inbound(ids), func(t *transition) error {
		n := t.n
		if err := p.checkInbound(token, ids, n); err != nil {
			return err
		}
		switch n.State {
		case cn.Verified, cn.Confirming, cn.Confirmed:
			return nil
		}
		if !p.machine.Can(n.State, cn.EventVerified) {
			return invalidTransition(n, cn.EventVerified)
		}
		if err := t.apply(cn.EventVerified); err != nil {
			return err
		}
		return t.apply(cn.EventConfirm)
	})
}
