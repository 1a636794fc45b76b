// Package fsm declares negotiation state machines as event tables and applies
// events to negotiation records.
//
// Unlike go-statemachine, a Machine owns neither goroutines nor storage: callers
// read a record, apply events in memory and persist the result with the store's
// compare-and-swap Save. That keeps every write subject to the same concurrency
// guard whether it comes from the engine, an inbound message or an operator.
package fsm

import (
	"errors"
	"sort"
	"time"

	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// ErrInvalidTransition means the event is not allowed in the record's current state
var ErrInvalidTransition = errors.New("invalid state transition")

// ActionFunc is run when an event is applied, after the state is updated
type ActionFunc func(n *cn.ContractNegotiation) error

// Mutator is a caller supplied change applied together with an event
type Mutator func(n *cn.ContractNegotiation)

// EventBuilder declares one event of a state machine
type EventBuilder interface {
	// From begins describing a transition from a specific state
	From(s cn.State) ToBuilder
	// FromMany begins describing a transition from many states
	FromMany(sources ...cn.State) ToBuilder
	// FromAny begins describing a transition from any non terminal state
	FromAny() ToBuilder
	// Action sets the action run whenever the event is applied
	Action(action ActionFunc) EventBuilder
}

// ToBuilder finishes a transition declaration
type ToBuilder interface {
	// To sets the destination state
	To(s cn.State) EventBuilder
	// ToJustRecord keeps the current state and only records the event
	ToJustRecord() EventBuilder
}

type transitionToBuilder struct {
	eb      *eventBuilder
	sources []cn.State
	any     bool
}

func (t transitionToBuilder) To(s cn.State) EventBuilder {
	return t.to(s, false)
}

func (t transitionToBuilder) ToJustRecord() EventBuilder {
	return t.to(0, true)
}

func (t transitionToBuilder) to(s cn.State, justRecord bool) EventBuilder {
	dst := destination{state: s, justRecord: justRecord}
	if t.any {
		t.eb.any = &dst
		return t.eb
	}
	for _, src := range t.sources {
		t.eb.transitions[src] = dst
	}
	return t.eb
}

type destination struct {
	state      cn.State
	justRecord bool
}

type eventBuilder struct {
	name        cn.Event
	transitions map[cn.State]destination
	any         *destination
	action      ActionFunc
}

// Event starts declaring the given event
func Event(name cn.Event) EventBuilder {
	return &eventBuilder{name: name, transitions: map[cn.State]destination{}}
}

func (eb *eventBuilder) From(s cn.State) ToBuilder {
	return transitionToBuilder{eb: eb, sources: []cn.State{s}}
}

func (eb *eventBuilder) FromMany(sources ...cn.State) ToBuilder {
	return transitionToBuilder{eb: eb, sources: sources}
}

func (eb *eventBuilder) FromAny() ToBuilder {
	return transitionToBuilder{eb: eb, any: true}
}

func (eb *eventBuilder) Action(action ActionFunc) EventBuilder {
	eb.action = action
	return eb
}

// Events is the declaration of a state machine
type Events []EventBuilder

// Machine applies events to negotiation records
type Machine struct {
	events map[cn.Event]*eventBuilder
}

// New builds a machine from its declaration. Declaring the same event twice is an error.
func New(events Events) (*Machine, error) {
	m := &Machine{events: map[cn.Event]*eventBuilder{}}
	for _, e := range events {
		eb, ok := e.(*eventBuilder)
		if !ok {
			return nil, xerrors.Errorf("unexpected event builder type %T", e)
		}
		if _, dup := m.events[eb.name]; dup {
			return nil, xerrors.Errorf("duplicate event %s", eb.name)
		}
		m.events[eb.name] = eb
	}
	return m, nil
}

// MustNew is New for declarations known to be valid
func MustNew(events Events) *Machine {
	m, err := New(events)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Machine) destination(from cn.State, evt cn.Event) (destination, bool) {
	eb, ok := m.events[evt]
	if !ok {
		return destination{}, false
	}
	if dst, ok := eb.transitions[from]; ok {
		return dst, true
	}
	if eb.any != nil && !from.IsTerminal() {
		return *eb.any, true
	}
	return destination{}, false
}

// Can reports whether evt may be applied in state from
func (m *Machine) Can(from cn.State, evt cn.Event) bool {
	_, ok := m.destination(from, evt)
	return ok
}

// Next returns the state evt leads to from state from
func (m *Machine) Next(from cn.State, evt cn.Event) (cn.State, bool) {
	dst, ok := m.destination(from, evt)
	if !ok {
		return 0, false
	}
	if dst.justRecord {
		return from, true
	}
	return dst.state, true
}

// Apply moves n along evt, runs the event's action and then the mutators.
// n is left untouched when the transition is not allowed.
func (m *Machine) Apply(n *cn.ContractNegotiation, evt cn.Event, now time.Time, mutators ...Mutator) error {
	next, ok := m.Next(n.State, evt)
	if !ok {
		return xerrors.Errorf("event %s in state %s: %w", evt, n.State, ErrInvalidTransition)
	}
	if next != n.State {
		n.State = next
		n.StateTimestamp = now
		n.RetryCount = 0
		n.NextAttempt = time.Time{}
	}
	if eb := m.events[evt]; eb.action != nil {
		if err := eb.action(n); err != nil {
			return xerrors.Errorf("running action for event %s: %w", evt, err)
		}
	}
	for _, mut := range mutators {
		mut(n)
	}
	return nil
}

// Edge is one allowed transition of a machine
type Edge struct {
	Event cn.Event
	From  cn.State
	To    cn.State
}

// Edges lists the explicit transitions of the machine in a stable order.
// FromAny transitions are expanded over every known non terminal state.
func (m *Machine) Edges() []Edge {
	var edges []Edge
	for evt, eb := range m.events {
		for from, dst := range eb.transitions {
			to := dst.state
			if dst.justRecord {
				to = from
			}
			edges = append(edges, Edge{Event: evt, From: from, To: to})
		}
		if eb.any != nil {
			for s := range cn.States {
				if s.IsTerminal() {
					continue
				}
				to := eb.any.state
				if eb.any.justRecord {
					to = s
				}
				edges = append(edges, Edge{Event: evt, From: s, To: to})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Event != edges[j].Event {
			return edges[i].Event < edges[j].Event
		}
		return edges[i].From < edges[j].From
	})
	return edges
}
