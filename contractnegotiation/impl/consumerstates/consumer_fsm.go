package consumerstates

import (
	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/fsm"
)

// ConsumerEvents are the events that can happen to a consumer negotiation
var ConsumerEvents = fsm.Events{
	fsm.Event(cn.EventInitiate).From(cn.Initial).To(cn.Requesting),
	fsm.Event(cn.EventRequestSent).From(cn.Requesting).To(cn.Requested),

	// the provider may answer before our own send completed, hence Requesting
	fsm.Event(cn.EventOfferReceived).FromMany(cn.Requesting, cn.Requested).To(cn.Offered).
		Action(fsm.CountRound),
	fsm.Event(cn.EventAccept).From(cn.Offered).To(cn.Accepting),
	fsm.Event(cn.EventCounter).From(cn.Offered).To(cn.Requesting),
	fsm.Event(cn.EventAcceptanceSent).From(cn.Accepting).To(cn.Accepted),

	fsm.Event(cn.EventAgreementReceived).
		FromMany(cn.Requesting, cn.Requested, cn.Accepting, cn.Accepted).To(cn.Agreed),
	fsm.Event(cn.EventVerify).From(cn.Agreed).To(cn.Verifying),
	fsm.Event(cn.EventVerificationSent).From(cn.Verifying).To(cn.Verified),
	fsm.Event(cn.EventFinalized).FromMany(cn.Verifying, cn.Verified).To(cn.Confirmed),

	fsm.Event(cn.EventDecline).
		FromMany(cn.Requesting, cn.Requested, cn.Offered, cn.Accepting, cn.Accepted).To(cn.Declining).
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
		FromMany(cn.Requesting, cn.Accepting, cn.Verifying, cn.Declining, cn.Terminating).ToJustRecord(),
	// an agreement never survives a failed negotiation
	fsm.Event(cn.EventFailed).FromAny().To(cn.Error).
		Action(fsm.ClearAgreement),
}

// ConsumerOutbounds are the sends a consumer performs in its actionable states
var ConsumerOutbounds = fsm.Outbounds{
	cn.Requesting:  {Message: SendRequest, Sent: cn.EventRequestSent},
	cn.Accepting:   {Message: SendAcceptance, Sent: cn.EventAcceptanceSent},
	cn.Verifying:   {Message: SendVerification, Sent: cn.EventVerificationSent},
	cn.Declining:   {Message: SendDecline, Sent: cn.EventDeclineSent, NotFoundIsDelivered: true},
	cn.Terminating: {Message: SendTermination, Sent: cn.EventTerminationSent, NotFoundIsDelivered: true},
}
