package contractnegotiation

import (
	"time"
)

// NegotiationType is the role a party plays in a negotiation
type NegotiationType uint64

const (
	// TypeConsumer is a negotiation started locally to obtain an asset
	TypeConsumer NegotiationType = iota

	// TypeProvider is a negotiation opened by a remote consumer
	TypeProvider
)

func (t NegotiationType) String() string {
	switch t {
	case TypeConsumer:
		return "CONSUMER"
	case TypeProvider:
		return "PROVIDER"
	default:
		return "UNKNOWN"
	}
}

// Constraint restricts when a rule applies, e.g. "purpose eq research"
type Constraint struct {
	LeftOperand  string
	Operator     string
	RightOperand string
}

// Rule is a single permission, prohibition or obligation
type Rule struct {
	Action      string
	Constraints []Constraint `json:",omitempty"`
}

// Policy describes the usage terms attached to an asset
type Policy struct {
	UID          string
	Target       string
	Assigner     string
	Assignee     string
	Permissions  []Rule `json:",omitempty"`
	Prohibitions []Rule `json:",omitempty"`
	Obligations  []Rule `json:",omitempty"`
}

// ContractOffer is one proposal of usage terms exchanged during a negotiation
type ContractOffer struct {
	ID         string
	AssetID    string
	ProviderID string
	ConsumerID string
	Policy     Policy
	OfferStart time.Time
	OfferEnd   time.Time
}

// ContractAgreement is the outcome of a successful negotiation
type ContractAgreement struct {
	ID          string
	ProviderID  string
	ConsumerID  string
	AssetID     string
	Policy      Policy
	SigningDate time.Time
	// OfferHash is the HashOffer value of the offer the agreement was formed from
	OfferHash string
}

// ProcessIDs carries the identifiers both parties assigned to the same logical
// negotiation. Each party stores its own ID and keeps the other one as CorrelationID.
type ProcessIDs struct {
	ConsumerPID string
	ProviderPID string
}

// ContractNegotiation is one party's record of a negotiation
type ContractNegotiation struct {
	ID string
	// CorrelationID is the peer's ID for the same negotiation; empty until known
	CorrelationID       string
	CounterPartyID      string
	CounterPartyAddress string
	Protocol            string
	Type                NegotiationType

	State State
	// StateCount is incremented by every successful Save and guards against
	// concurrent writers
	StateCount     uint64
	StateTimestamp time.Time
	CreatedAt      time.Time

	Offers    []ContractOffer
	Agreement *ContractAgreement `json:",omitempty"`

	ErrorDetail string `json:",omitempty"`

	// RetryCount counts consecutive failed sends in the current state
	RetryCount uint64
	// NextAttempt delays the next send; the record is not leasable before it
	NextAttempt time.Time
	// Rounds counts the counter-offers received so far
	Rounds uint64
}

// LastOffer returns the authoritative offer of the current round
func (n *ContractNegotiation) LastOffer() (ContractOffer, bool) {
	if len(n.Offers) == 0 {
		return ContractOffer{}, false
	}
	return n.Offers[len(n.Offers)-1], true
}

// HasOffer reports whether an offer with the given ID was already recorded
func (n *ContractNegotiation) HasOffer(id string) bool {
	for _, o := range n.Offers {
		if o.ID == id {
			return true
		}
	}
	return false
}

// ProcessIDs returns the identifiers of the negotiation as they appear on the wire
func (n *ContractNegotiation) ProcessIDs() ProcessIDs {
	if n.Type == TypeConsumer {
		return ProcessIDs{ConsumerPID: n.ID, ProviderPID: n.CorrelationID}
	}
	return ProcessIDs{ConsumerPID: n.CorrelationID, ProviderPID: n.ID}
}

// Clone returns a deep copy that shares no slices or pointers with n
func (n *ContractNegotiation) Clone() ContractNegotiation {
	out := *n
	if n.Offers != nil {
		out.Offers = make([]ContractOffer, len(n.Offers))
		for i, o := range n.Offers {
			out.Offers[i] = o.clone()
		}
	}
	if n.Agreement != nil {
		a := *n.Agreement
		a.Policy = n.Agreement.Policy.clone()
		out.Agreement = &a
	}
	return out
}

func (o ContractOffer) clone() ContractOffer {
	o.Policy = o.Policy.clone()
	return o
}

func (p Policy) clone() Policy {
	p.Permissions = cloneRules(p.Permissions)
	p.Prohibitions = cloneRules(p.Prohibitions)
	p.Obligations = cloneRules(p.Obligations)
	return p
}

func cloneRules(rules []Rule) []Rule {
	if rules == nil {
		return nil
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{Action: r.Action}
		if r.Constraints != nil {
			out[i].Constraints = append([]Constraint(nil), r.Constraints...)
		}
	}
	return out
}

// ClaimToken is the verified identity of the party that sent an inbound message
type ClaimToken struct {
	ParticipantID string
	Claims        map[string]string `json:",omitempty"`
}

// OfferRequest asks the local consumer to start a negotiation with a provider
type OfferRequest struct {
	ProviderID      string
	ProviderAddress string
	Protocol        string
	Offer           ContractOffer
}

// ContractRequest is an inbound request from a consumer to a provider
type ContractRequest struct {
	ProcessIDs
	Protocol        string
	CallbackAddress string
	Offer           ContractOffer
	OfferHash       string
}
