// Package validation is the default validation service: it checks that offers
// are well formed, current and consistent with their predecessor, and that an
// agreement matches the offer it was formed from.
package validation

import (
	"context"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/raulk/clock"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// Validator implements contractnegotiation.Validator
type Validator struct {
	participantID string
	clock         clock.Clock
}

var _ cn.Validator = (*Validator)(nil)

// Option configures a Validator
type Option func(*Validator)

// WithClock sets the clock offer windows are checked against
func WithClock(clk clock.Clock) Option {
	return func(v *Validator) {
		v.clock = clk
	}
}

// New returns a validator for the local participant. Initial offers must be
// addressed to it when it is set.
func New(participantID string, opts ...Option) *Validator {
	v := &Validator{participantID: participantID, clock: clock.New()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var policyComparer = cmpopts.EquateEmpty()

func (v *Validator) ValidateInitialOffer(ctx context.Context, token cn.ClaimToken, offer cn.ContractOffer) error {
	err := v.checkOffer(offer)
	if token.ParticipantID != offer.ConsumerID {
		err = multierr.Append(err, xerrors.Errorf("caller %q is not the offer's consumer %q", token.ParticipantID, offer.ConsumerID))
	}
	if v.participantID != "" && offer.ProviderID != v.participantID {
		err = multierr.Append(err, xerrors.Errorf("offer is addressed to %q, not %q", offer.ProviderID, v.participantID))
	}
	if err != nil {
		return xerrors.Errorf("invalid initial offer %s: %w", offer.ID, err)
	}
	return nil
}

func (v *Validator) ValidateCounterOffer(ctx context.Context, token cn.ClaimToken, offer cn.ContractOffer, previous cn.ContractOffer) error {
	err := v.checkOffer(offer)
	if token.ParticipantID != offer.ConsumerID && token.ParticipantID != offer.ProviderID {
		err = multierr.Append(err, xerrors.Errorf("caller %q is not a party of the offer", token.ParticipantID))
	}
	if offer.AssetID != previous.AssetID {
		err = multierr.Append(err, xerrors.Errorf("asset changed from %q to %q", previous.AssetID, offer.AssetID))
	}
	if offer.ProviderID != previous.ProviderID || offer.ConsumerID != previous.ConsumerID {
		err = multierr.Append(err, xerrors.New("parties changed"))
	}
	if err != nil {
		return xerrors.Errorf("invalid counter-offer %s: %w", offer.ID, err)
	}
	return nil
}

func (v *Validator) ValidateConfirmed(ctx context.Context, token cn.ClaimToken, agreement cn.ContractAgreement, policy cn.Policy, offer cn.ContractOffer) error {
	var err error
	if token.ParticipantID != agreement.ProviderID {
		err = multierr.Append(err, xerrors.Errorf("caller %q is not the agreement's provider %q", token.ParticipantID, agreement.ProviderID))
	}
	if agreement.AssetID != offer.AssetID {
		err = multierr.Append(err, xerrors.Errorf("agreement is for asset %q, offer for %q", agreement.AssetID, offer.AssetID))
	}
	if agreement.ProviderID != offer.ProviderID || agreement.ConsumerID != offer.ConsumerID {
		err = multierr.Append(err, xerrors.New("agreement parties differ from the offer's"))
	}
	if diff := cmp.Diff(offer.Policy, agreement.Policy, policyComparer); diff != "" {
		err = multierr.Append(err, xerrors.Errorf("agreement policy differs from the offer's (-offer +agreement):\n%s", diff))
	}
	if !cmp.Equal(policy, agreement.Policy, policyComparer) {
		err = multierr.Append(err, xerrors.New("agreement policy differs from the announced policy"))
	}
	if agreement.OfferHash != "" {
		hash, herr := cn.HashOffer(offer)
		switch {
		case herr != nil:
			err = multierr.Append(err, herr)
		case hash != agreement.OfferHash:
			err = multierr.Append(err, xerrors.Errorf("agreement was formed from offer %s, last offer is %s", agreement.OfferHash, hash))
		}
	}
	if err != nil {
		return xerrors.Errorf("invalid agreement %s: %w", agreement.ID, err)
	}
	return nil
}

func (v *Validator) checkOffer(offer cn.ContractOffer) error {
	var err error
	if offer.AssetID == "" {
		err = multierr.Append(err, xerrors.New("no asset"))
	}
	if offer.Policy.Target != "" && offer.Policy.Target != offer.AssetID {
		err = multierr.Append(err, xerrors.Errorf("policy targets %q, offer is for %q", offer.Policy.Target, offer.AssetID))
	}
	if offer.Policy.Assigner != offer.ProviderID {
		err = multierr.Append(err, xerrors.Errorf("policy assigner %q is not the provider %q", offer.Policy.Assigner, offer.ProviderID))
	}

	now := v.clock.Now()
	if !offer.OfferStart.IsZero() && now.Before(offer.OfferStart) {
		err = multierr.Append(err, xerrors.Errorf("offer is valid from %s", offer.OfferStart))
	}
	if !offer.OfferEnd.IsZero() && now.After(offer.OfferEnd) {
		err = multierr.Append(err, xerrors.Errorf("offer expired at %s", offer.OfferEnd))
	}
	return err
}
