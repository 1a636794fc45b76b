package providerstates

import (
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/fsm"
)

// ProviderEvents are the events that can happen to a provider negotiation
var ProviderEvents = fsm.Events{
	fsm.Event(cn.EventRequestReceived).From(cn.Initial).To(cn.Requested),

	// the consumer may answer before our own send completed, hence Offering
	fsm.Event(cn.EventOfferReceived).FromMany(cn.Offering, cn.Offered).To(cn.Requested).
		Action(fsm.CountRound),
	fsm.Event(cn.EventCounter).From(cn.Requested).To(cn.Offering),
	fsm.Event(cn.EventOfferSent).From(cn.Offering).To(cn.Offered),
	fsm.Event(cn.EventAccepted).FromMany(cn.Offering, cn.Offered).To(cn.Accepted),

	fsm.Event(cn.EventAgree).FromMany(cn.Requested, cn.Accepted).To(cn.Agreeing),
	fsm.Event(cn.EventAgreementSent).From(cn.Agreeing).To(cn.Agreed),
	fsm.Event(cn.EventVerified).FromMany(cn.Agreeing, cn.Agreed).To(cn.Verified),
	fsm.Event(cn.EventConfirm).From(cn.Verified).To(cn.Confirming),
	fsm.Event(cn.EventFinalizationSent).From(cn.Confirming).To(cn.Confirmed),

	fsm.Event(cn.EventDecline).
		FromMany(cn.Initial, cn.Requested, cn.Offering, cn.Offered, cn.Accepted).To(cn.Declining).
		Action(fsm.ClearAgreement),
	fsm.Event(cn.EventDeclineSent).From(cn.Declining).To(cn.Declined),
	fsm.Event(cn.EventDeclined).FromAny().To(cn.Declined).
		Action(fsm.ClearAgreement),

	fsm.Event(cn.EventTerminate).FromAny().To(cn.Terminating),
	fsm.Event(cn.EventTerminationSent).From(cn.Terminating).To(cn.Terminated),
	fsm.Event(cn.EventTerminated).FromAny().To(cn.Terminated),
	fsm.Event(cn.EventCancel).FromAny().To(cn.Terminated),
	fsm.Event(cn.EventForceDecline).FromAny().To(cn.Declining).
		Action(fsm.ClearAgreement),

	fsm.Event(cn.EventSendFailed).
		FromMany(cn.Offering, cn.Agreeing, cn.Confirming, cn.Declining, cn.Terminating).ToJustRecord(),
	// an agreement never survives a failed negotiation
	fsm.Event(cn.EventFailed).FromAny().To(cn.Error).
		Action(fsm.ClearAgreement),
}

// ProviderOutbounds are the sends a provider performs in its actionable states
var ProviderOutbounds = fsm.Outbounds{
	cn.Offering:    {Message: SendCounterOffer, Sent: cn.EventOfferSent},
	cn.Agreeing:    {Message: SendAgreement, Sent: cn.EventAgreementSent},
	cn.Confirming:  {Message: SendFinalization, Sent: cn.EventFinalizationSent},
	cn.Declining:   {Message: SendDecline, Sent: cn.EventDeclineSent, NotFoundIsDelivered: true},
	cn.Terminating: {Message: SendTermination, Sent: cn.EventTerminationSent, NotFoundIsDelivered: true},
}
