package contractnegotiation

import (
	"fmt"

	"golang.org/x/xerrors"
)

// State is the position of a negotiation in its role's state machine
type State int64

const (
	Initial     State = 50
	Requesting  State = 100
	Requested   State = 200
	Offering    State = 300
	Offered     State = 400
	Accepting   State = 700
	Accepted    State = 800
	Agreeing    State = 825
	Agreed      State = 850
	Declining   State = 900
	Declined    State = 1000
	Verifying   State = 1050
	Verified    State = 1100
	Confirming  State = 1150
	Confirmed   State = 1200
	Terminating State = 1300
	Terminated  State = 1400

	// Error marks a negotiation abandoned after exhausted retries or a fatal send
	Error State = -1
)

// States maps state codes to state names
var States = map[State]string{
	Initial:     "INITIAL",
	Requesting:  "REQUESTING",
	Requested:   "REQUESTED",
	Offering:    "OFFERING",
	Offered:     "OFFERED",
	Accepting:   "ACCEPTING",
	Accepted:    "ACCEPTED",
	Agreeing:    "AGREEING",
	Agreed:      "AGREED",
	Declining:   "DECLINING",
	Declined:    "DECLINED",
	Verifying:   "VERIFYING",
	Verified:    "VERIFIED",
	Confirming:  "CONFIRMING",
	Confirmed:   "CONFIRMED",
	Terminating: "TERMINATING",
	Terminated:  "TERMINATED",
	Error:       "ERROR",
}

func (s State) String() string {
	if name, ok := States[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int64(s))
}

// ParseState returns the state with the given name
func ParseState(name string) (State, error) {
	for s, n := range States {
		if n == name {
			return s, nil
		}
	}
	return 0, xerrors.Errorf("unknown negotiation state %q", name)
}

// IsTerminal reports whether no further protocol transition can leave s
func (s State) IsTerminal() bool {
	switch s {
	case Confirmed, Declined, Terminated, Error:
		return true
	}
	return false
}

// IsPreAgreement reports whether the negotiation has not yet reached an
// agreement on either side
func (s State) IsPreAgreement() bool {
	switch s {
	case Initial, Requesting, Requested, Offering, Offered, Accepting, Accepted:
		return true
	}
	return false
}

// AgreementStates lists, per role, the states in which a record carries an agreement
var AgreementStates = map[NegotiationType][]State{
	TypeConsumer: {Agreed, Verifying, Verified, Confirmed},
	TypeProvider: {Agreeing, Agreed, Verified, Confirming, Confirmed},
}

// HasAgreement reports whether a record of type t in state s must carry an agreement
func HasAgreement(t NegotiationType, s State) bool {
	for _, as := range AgreementStates[t] {
		if as == s {
			return true
		}
	}
	return false
}
