package contractnegotiation

import "fmt"

// Event is something that happened to a negotiation and may move it to a new state
type Event uint64

const (
	// EventInitiate is a consumer starting a new negotiation
	EventInitiate Event = iota

	// EventRequestSent means the consumer's offer reached the provider
	EventRequestSent

	// EventRequestReceived is a provider recording a consumer's initial offer
	EventRequestReceived

	// EventOfferReceived is a counter-offer arriving from the peer
	EventOfferReceived

	// EventCounter is the local party answering with a counter-offer
	EventCounter

	// EventOfferSent means the provider's counter-offer reached the consumer
	EventOfferSent

	// EventAccept is the consumer accepting the provider's last offer
	EventAccept

	// EventAcceptanceSent means the consumer's acceptance reached the provider
	EventAcceptanceSent

	// EventAccepted is the provider learning that its offer was accepted
	EventAccepted

	// EventAgree is the provider creating the agreement for the last offer
	EventAgree

	// EventAgreementSent means the provider's agreement reached the consumer
	EventAgreementSent

	// EventAgreementReceived is the consumer recording a validated agreement
	EventAgreementReceived

	// EventVerify is the consumer preparing to verify the agreement
	EventVerify

	// EventVerificationSent means the consumer's verification reached the provider
	EventVerificationSent

	// EventVerified is the provider learning that the consumer verified the agreement
	EventVerified

	// EventConfirm is the provider preparing to finalize the negotiation
	EventConfirm

	// EventFinalizationSent means the provider's finalization reached the consumer
	EventFinalizationSent

	// EventFinalized is the consumer learning that the provider finalized the negotiation
	EventFinalized

	// EventDecline is the local party deciding to decline
	EventDecline

	// EventDeclineSent means the decline reached the peer
	EventDeclineSent

	// EventDeclined is the peer declining the negotiation
	EventDeclined

	// EventTerminate is an operator asking to terminate and notify the peer
	EventTerminate

	// EventTerminationSent means the termination reached the peer
	EventTerminationSent

	// EventTerminated is the peer terminating the negotiation
	EventTerminated

	// EventCancel is an operator cancelling the negotiation locally
	EventCancel

	// EventForceDecline is an operator forcing a decline
	EventForceDecline

	// EventSendFailed records a failed send that will be retried
	EventSendFailed

	// EventFailed abandons the negotiation after a fatal error or exhausted retries
	EventFailed
)

// Events maps event codes to event names
var Events = map[Event]string{
	EventInitiate:          "Initiate",
	EventRequestSent:       "RequestSent",
	EventRequestReceived:   "RequestReceived",
	EventOfferReceived:     "OfferReceived",
	EventCounter:           "Counter",
	EventOfferSent:         "OfferSent",
	EventAccept:            "Accept",
	EventAcceptanceSent:    "AcceptanceSent",
	EventAccepted:          "Accepted",
	EventAgree:             "Agree",
	EventAgreementSent:     "AgreementSent",
	EventAgreementReceived: "AgreementReceived",
	EventVerify:            "Verify",
	EventVerificationSent:  "VerificationSent",
	EventVerified:          "Verified",
	EventConfirm:           "Confirm",
	EventFinalizationSent:  "FinalizationSent",
	EventFinalized:         "Finalized",
	EventDecline:           "Decline",
	EventDeclineSent:       "DeclineSent",
	EventDeclined:          "Declined",
	EventTerminate:         "Terminate",
	EventTerminationSent:   "TerminationSent",
	EventTerminated:        "Terminated",
	EventCancel:            "Cancel",
	EventForceDecline:      "ForceDecline",
	EventSendFailed:        "SendFailed",
	EventFailed:            "Failed",
}

func (e Event) String() string {
	if name, ok := Events[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", uint64(e))
}

// IsAdministrative reports whether the event can only be triggered by an operator
func (e Event) IsAdministrative() bool {
	switch e {
	case EventTerminate, EventCancel, EventForceDecline:
		return true
	}
	return false
}
