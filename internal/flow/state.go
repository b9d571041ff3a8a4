package flow

import (
	"errors"
	"fmt"
)

// State is the position of a booking flow.
type State int

const (
	Searching State = iota
	ResultsShown
	IdentityCollecting
	OTPPending
	OTPVerified
	Confirmed
)

var stateNames = map[State]string{
	Searching:          "SEARCHING",
	ResultsShown:       "RESULTS_SHOWN",
	IdentityCollecting: "IDENTITY_COLLECTING",
	OTPPending:         "OTP_PENDING",
	OTPVerified:        "OTP_VERIFIED",
	Confirmed:          "CONFIRMED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown flow state %q", text)
}

// Terminal reports whether no further steps are possible.
func (s State) Terminal() bool { return s == Confirmed }

var ErrInvalidTransition = errors.New("invalid flow transition")

// transitions lists every legal move. Self-loops are resubmissions of the
// same step (another OTP attempt, a different vehicle, a new search). A
// pending OTP is abandoned by searching again, picking another vehicle or
// entering another mobile number.
var transitions = map[State][]State{
	Searching:          {Searching, ResultsShown},
	ResultsShown:       {Searching, ResultsShown, IdentityCollecting},
	IdentityCollecting: {Searching, ResultsShown, IdentityCollecting, OTPPending},
	OTPPending:         {Searching, IdentityCollecting, OTPPending, OTPVerified},
	OTPVerified:        {IdentityCollecting, OTPVerified, Confirmed},
	Confirmed:          nil,
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError(step string, from State) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, step, from)
}
