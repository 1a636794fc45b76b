package contractnegotiation

import (
	"context"
)

// Store persists one party's negotiations.
//
// Save is a compare-and-swap on StateCount: a record with StateCount zero is
// created (and must not exist yet), any other record is only written when the
// stored StateCount equals the one passed in. On success StateCount is
// incremented in place. On mismatch Save returns ErrConcurrentModification and
// writes nothing.
//
// LeaseNext atomically claims up to limit records in the given state that are
// not leased by anyone and whose NextAttempt is not in the future. A lease lasts
// until ReleaseLease is called by its owner or the store's lease duration elapses.
type Store interface {
	Find(ctx context.Context, id string) (*ContractNegotiation, error)
	FindForCorrelationID(ctx context.Context, correlationID string) (*ContractNegotiation, error)
	Save(ctx context.Context, n *ContractNegotiation) error
	LeaseNext(ctx context.Context, owner string, state State, limit int) ([]ContractNegotiation, error)
	ReleaseLease(ctx context.Context, id string, owner string) error
	List(ctx context.Context) ([]ContractNegotiation, error)
}

// Dispatcher sends protocol messages to a peer. The returned channel receives
// exactly one value, nil on delivery, once the send completes. Errors marked
// fatal (see NewFatalError) are not retried.
type Dispatcher interface {
	Send(ctx context.Context, destination string, msg Message) <-chan error
}

// Validator approves or rejects what a peer sends. Every error it returns is
// treated as fatal for the negotiation it concerns.
type Validator interface {
	ValidateInitialOffer(ctx context.Context, token ClaimToken, offer ContractOffer) error
	ValidateCounterOffer(ctx context.Context, token ClaimToken, offer ContractOffer, previous ContractOffer) error
	ValidateConfirmed(ctx context.Context, token ClaimToken, agreement ContractAgreement, policy Policy, offer ContractOffer) error
}

// Subscriber is notified after every persisted transition. Subscribers run
// synchronously and must return quickly.
type Subscriber func(event Event, negotiation ContractNegotiation)

// Unsubscribe removes a subscriber
type Unsubscribe func()

// DecisionKind is what a party does with an offer it received
type DecisionKind uint64

const (
	// DecisionWait leaves the negotiation waiting for a local decision
	DecisionWait DecisionKind = iota

	// DecisionAccept takes the offer as it is
	DecisionAccept

	// DecisionCounter answers with Decision.CounterOffer
	DecisionCounter

	// DecisionDecline rejects the negotiation with Decision.Reason
	DecisionDecline
)

// Decision is the business-policy answer to a received offer
type Decision struct {
	Kind         DecisionKind
	CounterOffer *ContractOffer
	Reason       string
}

// DeciderFunc decides what to do with an offer that passed validation
type DeciderFunc func(ctx context.Context, negotiation ContractNegotiation, offer ContractOffer) Decision

// AcceptAll accepts every valid offer
func AcceptAll(context.Context, ContractNegotiation, ContractOffer) Decision {
	return Decision{Kind: DecisionAccept}
}
