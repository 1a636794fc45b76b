package providerstates

import (
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/fsm"
)

// SendCounterOffer sends the provider's counter-offer
func SendCounterOffer(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	offer, ok := n.LastOffer()
	if !ok {
		return cn.Message{}, cn.Fatalf("negotiation %s has no offer to send", n.ID)
	}
	hash, err := cn.HashOffer(offer)
	if err != nil {
		return cn.Message{}, cn.NewFatalError(err)
	}
	msg := fsm.NewMessage(cn.MessageCounterOffer, n)
	msg.CallbackAddress = env.CallbackAddress()
	msg.Offer = &offer
	msg.OfferHash = hash
	return msg, nil
}

// SendAgreement sends the agreement formed from the last offer
func SendAgreement(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	if n.Agreement == nil {
		return cn.Message{}, cn.Fatalf("negotiation %s: agreeing without an agreement", n.ID)
	}
	agreement := *n.Agreement
	msg := fsm.NewMessage(cn.MessageAgreement, n)
	msg.CallbackAddress = env.CallbackAddress()
	msg.Agreement = &agreement
	return msg, nil
}

// SendFinalization closes the negotiation on the consumer side
func SendFinalization(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	return fsm.NewMessage(cn.MessageFinalization, n), nil
}

// SendDecline tells the consumer the negotiation is declined
func SendDecline(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	msg := fsm.NewMessage(cn.MessageDecline, n)
	msg.Reason = n.ErrorDetail
	return msg, nil
}

// SendTermination tells the consumer the negotiation is terminated
func SendTermination(env fsm.Environment, n cn.ContractNegotiation) (cn.Message, error) {
	msg := fsm.NewMessage(cn.MessageTermination, n)
	msg.Reason = n.ErrorDetail
	if msg.Reason == "" {
		msg.Reason = "terminated"
	}
	return msg, nil
}
