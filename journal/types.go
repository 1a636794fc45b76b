package journal

import (
	"fmt"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("journal")

// DefaultDisabledEvents are the event types not journaled unless asked for.
// Retry bookkeeping is noisy during peer outages.
var DefaultDisabledEvents = DisabledEvents{
	{System: "negotiation", Event: "send_failed"},
}

// DisabledEvents is the set of event types whose journaling is suppressed.
type DisabledEvents []EventType

// ParseDisabledEvents parses "system1:event1,system2:event2[,...]".
// Surrounding whitespace is ignored.
func ParseDisabledEvents(s string) (DisabledEvents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DisabledEvents{}, nil
	}
	evts := strings.Split(s, ",")
	ret := make(DisabledEvents, 0, len(evts))
	for _, evt := range evts {
		evt = strings.TrimSpace(evt)
		s := strings.Split(evt, ":")
		if len(s) != 2 {
			return nil, fmt.Errorf("invalid event type: %s", evt)
		}
		ret = append(ret, EventType{System: s[0], Event: s[1]})
	}
	return ret, nil
}

// EventType represents the signature of an event.
type EventType struct {
	System string
	Event  string

	// enabled stores whether this event type is enabled.
	enabled bool

	// safe is set when the type was handed out by a registry
	safe bool
}

func (et EventType) String() string {
	return et.System + ":" + et.Event
}

// Enabled reports whether entries of this type are recorded. Types are
// enabled unless disabled when the journal was opened.
func (et EventType) Enabled() bool {
	return et.safe && et.enabled
}

// EventTypeRegistry hands out the EventType tokens entries are tagged with
type EventTypeRegistry interface {
	RegisterEventType(system, event string) EventType
}

// Journal is an append-only audit trail. Entries carry a timestamp, an event
// type and any JSON serializable payload.
type Journal interface {
	EventTypeRegistry

	// RecordEvent calls supplier and records its result when evtType is
	// enabled. Panics raised by supplier are recovered.
	RecordEvent(evtType EventType, supplier func() interface{})

	Close() error
}

// Event is one journal entry
type Event struct {
	EventType

	Timestamp time.Time
	Data      interface{}
}
