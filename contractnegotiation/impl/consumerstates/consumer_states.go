package consumerstates

import (
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/fsm"
)

// SendRequest sends the consumer's current offer. The first offer of a
// negotiation the provider has not answered yet opens it, every later one is
// a counter-offer.
func SendRequest(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	offer, ok := n.LastOffer()
	if !ok {
		return cn.Message{}, cn.Fatalf("negotiation %s has no offer to send", n.ID)
	}
	hash, err := cn.HashOffer(offer)
	if err != nil {
		return cn.Message{}, cn.NewFatalError(err)
	}

	msgType := cn.MessageCounterOffer
	if n.CorrelationID == "" && len(n.Offers) == 1 {
		msgType = cn.MessageInitialOffer
	}
	msg := fsm.NewMessage(msgType, n)
	msg.CallbackAddress = env.CallbackAddress()
	msg.Offer = &offer
	msg.OfferHash = hash
	return msg, nil
}

// SendAcceptance tells the provider its last offer is accepted
func SendAcceptance(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	if n.CorrelationID == "" {
		return cn.Message{}, cn.Fatalf("negotiation %s: cannot accept before the provider answered", n.ID)
	}
	return fsm.NewMessage(cn.MessageAcceptance, n), nil
}

// SendVerification confirms to the provider that the agreement was recorded
func SendVerification(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	if n.Agreement == nil {
		return cn.Message{}, cn.Fatalf("negotiation %s: verifying without an agreement", n.ID)
	}
	return fsm.NewMessage(cn.MessageVerification, n), nil
}

// SendDecline tells the provider the negotiation is declined
func SendDecline(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	msg := fsm.NewMessage(cn.MessageDecline, n)
	msg.Reason = n.ErrorDetail
	return msg, nil
}

// SendTermination tells the provider the negotiation is terminated
func SendTermination(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	msg := fsm.NewMessage(cn.MessageTermination, n)
	msg.Reason = n.ErrorDetail
	if msg.Reason == "" {
		msg.Reason = "terminated"
	}
	return msg, nil
}
