package journal

import (
	"strings"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// NegotiationSystem is the journal system negotiation entries are recorded under
const NegotiationSystem = "negotiation"

// NegotiationEvt is the journal entry of one persisted negotiation transition
type NegotiationEvt struct {
	ID            string
	CorrelationID string `json:",omitempty"`
	Role          string
	Event         string
	State         string
	StateCount    uint64
	RetryCount    uint64 `json:",omitempty"`
	Offers        int
	AgreementID   string `json:",omitempty"`
	ErrorDetail   string `json:",omitempty"`
}

// eventName turns "AgreementReceived" into "agreement_received"
func eventName(evt cn.Event) string {
	var b strings.Builder
	for i, r := range evt.String() {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NegotiationRecorder returns a subscriber journaling every transition it is
// told about. Event types are registered up front, one per negotiation event.
func NegotiationRecorder(j Journal) cn.Subscriber {
	types := make(map[cn.Event]EventType, len(cn.Events))
	for evt := range cn.Events {
		types[evt] = j.RegisterEventType(NegotiationSystem, eventName(evt))
	}
	return func(evt cn.Event, n cn.ContractNegotiation) {
		et, ok := types[evt]
		if !ok {
			return
		}
		j.RecordEvent(et, func() interface{} {
			entry := NegotiationEvt{
				ID:            n.ID,
				CorrelationID: n.CorrelationID,
				Role:          strings.ToLower(n.Type.String()),
				Event:         evt.String(),
				State:         n.State.String(),
				StateCount:    n.StateCount,
				RetryCount:    n.RetryCount,
				Offers:        len(n.Offers),
				ErrorDetail:   n.ErrorDetail,
			}
			if n.Agreement != nil {
				entry.AgreementID = n.Agreement.ID
			}
			return entry
		})
	}
}
