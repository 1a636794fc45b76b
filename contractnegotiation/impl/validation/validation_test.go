package validation_test

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/impl/validation"
)

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func makeOffer() cn.ContractOffer {
	return cn.ContractOffer{
		ID:         "offer-1",
		AssetID:    "asset-1",
		ProviderID: "provider",
		ConsumerID: "consumer",
		Policy: cn.Policy{
			UID:         "policy-1",
			Target:      "asset-1",
			Assigner:    "provider",
			Permissions: []cn.Rule{{Action: "use"}},
		},
		OfferStart: now.Add(-time.Hour),
		OfferEnd:   now.Add(time.Hour),
	}
}

func newValidator() *validation.Validator {
	clk := clock.NewMock()
	clk.Set(now)
	return validation.New("provider", validation.WithClock(clk))
}

func TestValidateInitialOffer(t *testing.T) {
	ctx := context.Background()
	consumer := cn.ClaimToken{ParticipantID: "consumer"}

	tests := map[string]struct {
		token   cn.ClaimToken
		mutate  func(o *cn.ContractOffer)
		wantErr bool
	}{
		"valid": {token: consumer},
		"wrong caller": {
			token:   cn.ClaimToken{ParticipantID: "mallory"},
			wantErr: true,
		},
		"expired": {
			token:   consumer,
			mutate:  func(o *cn.ContractOffer) { o.OfferEnd = now.Add(-time.Minute) },
			wantErr: true,
		},
		"not yet valid": {
			token:   consumer,
			mutate:  func(o *cn.ContractOffer) { o.OfferStart = now.Add(time.Minute) },
			wantErr: true,
		},
		"no window": {
			token: consumer,
			mutate: func(o *cn.ContractOffer) {
				o.OfferStart = time.Time{}
				o.OfferEnd = time.Time{}
			},
		},
		"policy for another asset": {
			token:   consumer,
			mutate:  func(o *cn.ContractOffer) { o.Policy.Target = "asset-2" },
			wantErr: true,
		},
		"assigner is not the provider": {
			token:   consumer,
			mutate:  func(o *cn.ContractOffer) { o.Policy.Assigner = "someone" },
			wantErr: true,
		},
		"addressed to another provider": {
			token: consumer,
			mutate: func(o *cn.ContractOffer) {
				o.ProviderID = "other"
				o.Policy.Assigner = "other"
			},
			wantErr: true,
		},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			offer := makeOffer()
			if data.mutate != nil {
				data.mutate(&offer)
			}
			err := newValidator().ValidateInitialOffer(ctx, data.token, offer)
			if data.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateCounterOffer(t *testing.T) {
	ctx := context.Background()
	v := newValidator()
	previous := makeOffer()

	counter := makeOffer()
	counter.ID = "offer-2"
	counter.Policy.Prohibitions = []cn.Rule{{Action: "distribute"}}
	require.NoError(t, v.ValidateCounterOffer(ctx, cn.ClaimToken{ParticipantID: "provider"}, counter, previous))
	require.NoError(t, v.ValidateCounterOffer(ctx, cn.ClaimToken{ParticipantID: "consumer"}, counter, previous))
	require.Error(t, v.ValidateCounterOffer(ctx, cn.ClaimToken{ParticipantID: "mallory"}, counter, previous))

	otherAsset := counter
	otherAsset.AssetID = "asset-2"
	otherAsset.Policy.Target = "asset-2"
	require.Error(t, v.ValidateCounterOffer(ctx, cn.ClaimToken{ParticipantID: "provider"}, otherAsset, previous))

	otherConsumer := counter
	otherConsumer.ConsumerID = "someone"
	require.Error(t, v.ValidateCounterOffer(ctx, cn.ClaimToken{ParticipantID: "provider"}, otherConsumer, previous))
}

func TestValidateConfirmed(t *testing.T) {
	ctx := context.Background()
	v := newValidator()
	provider := cn.ClaimToken{ParticipantID: "provider"}
	offer := makeOffer()

	agreement := cn.ContractAgreement{
		ID:          "agreement-1",
		ProviderID:  "provider",
		ConsumerID:  "consumer",
		AssetID:     "asset-1",
		Policy:      offer.Policy,
		SigningDate: now,
		OfferHash:   cn.MustHashOffer(offer),
	}
	require.NoError(t, v.ValidateConfirmed(ctx, provider, agreement, agreement.Policy, offer))
	require.Error(t, v.ValidateConfirmed(ctx, cn.ClaimToken{ParticipantID: "consumer"}, agreement, agreement.Policy, offer))

	changed := agreement
	changed.Policy.Permissions = []cn.Rule{{Action: "resell"}}
	require.Error(t, v.ValidateConfirmed(ctx, provider, changed, changed.Policy, offer))

	require.Error(t, v.ValidateConfirmed(ctx, provider, agreement, cn.Policy{UID: "other"}, offer))

	stale := agreement
	stale.OfferHash = "QmStale"
	require.Error(t, v.ValidateConfirmed(ctx, provider, stale, stale.Policy, offer))

	otherAsset := agreement
	otherAsset.AssetID = "asset-2"
	require.Error(t, v.ValidateConfirmed(ctx, provider, otherAsset, otherAsset.Policy, offer))

	// empty and nil rule lists are the same policy
	emptyRules := offer
	emptyRules.Policy.Obligations = []cn.Rule{}
	require.NoError(t, v.ValidateConfirmed(ctx, provider, agreement, agreement.Policy, emptyRules))
}
