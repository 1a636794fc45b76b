package contractnegotiation

import "fmt"

// MessageType identifies a protocol message
type MessageType uint64

const (
	// MessageInitialOffer opens a negotiation with the consumer's first offer
	MessageInitialOffer MessageType = iota + 1

	// MessageCounterOffer carries a new offer from either party
	MessageCounterOffer

	// MessageAcceptance is the consumer accepting the provider's last offer
	MessageAcceptance

	// MessageAgreement carries the provider's agreement
	MessageAgreement

	// MessageVerification is the consumer confirming it holds the agreement
	MessageVerification

	// MessageFinalization closes a successful negotiation
	MessageFinalization

	// MessageDecline rejects the negotiation
	MessageDecline

	// MessageTermination aborts the negotiation
	MessageTermination
)

// MessageTypes maps message types to their names
var MessageTypes = map[MessageType]string{
	MessageInitialOffer: "InitialOffer",
	MessageCounterOffer: "CounterOffer",
	MessageAcceptance:   "Acceptance",
	MessageAgreement:    "Agreement",
	MessageVerification: "Verification",
	MessageFinalization: "Finalization",
	MessageDecline:      "Decline",
	MessageTermination:  "Termination",
}

func (t MessageType) String() string {
	if name, ok := MessageTypes[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint64(t))
}

// Message is a protocol message exchanged between consumer and provider.
// Which payload fields are set depends on Type.
type Message struct {
	Type MessageType
	ProcessIDs
	Protocol string

	// CallbackAddress is where the sender expects replies; set on initial offers
	CallbackAddress string `json:",omitempty"`

	Offer     *ContractOffer     `json:",omitempty"`
	OfferHash string             `json:",omitempty"`
	Agreement *ContractAgreement `json:",omitempty"`
	Reason    string             `json:",omitempty"`
}
