package fsm

import (
	"sort"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// Environment exposes the local party to message builders
type Environment interface {
	ParticipantID() string
	CallbackAddress() string
}

// MessageFunc builds the message a record in an actionable state must send
type MessageFunc func(env Environment, n cn.ContractNegotiation) (cn.Message, error)

// Outbound describes the send performed in one actionable state
type Outbound struct {
	Message MessageFunc
	// Sent is applied once the peer acknowledged the message
	Sent cn.Event
	// NotFoundIsDelivered treats a peer that does not know the negotiation as
	// having received the message. Set for declines and terminations, which may
	// race with an initial offer that never arrived.
	NotFoundIsDelivered bool
}

// Outbounds maps actionable states to their sends
type Outbounds map[cn.State]Outbound

// States returns the actionable states in ascending order
func (o Outbounds) States() []cn.State {
	states := make([]cn.State, 0, len(o))
	for s := range o {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}

// NewMessage returns a message of type t addressed to n's peer, without payload
func NewMessage(t cn.MessageType, n cn.ContractNegotiation) cn.Message {
	return cn.Message{
		Type:       t,
		ProcessIDs: n.ProcessIDs(),
		Protocol:   n.Protocol,
	}
}

// ClearAgreement drops a provisional agreement when a negotiation is declined or fails
func ClearAgreement(n *cn.ContractNegotiation) error {
	n.Agreement = nil
	return nil
}

// CountRound records a received counter-offer
func CountRound(n *cn.ContractNegotiation) error {
	n.Rounds++
	return nil
}
