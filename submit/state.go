package submit

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/xerrors"
)

// State is the step of a submission.
type State int

// The states of a submission. A submission starts and ends in Idle; Failed
// is only passed through to report the error.
const (
	Idle State = iota
	Encrypting
	Signing
	AwaitingConfirmation
	Refreshing
	Failed
)

var stateNames = map[State]string{
	Idle:                 "idle",
	Encrypting:           "encrypting",
	Signing:              "signing",
	AwaitingConfirmation: "awaiting confirmation",
	Refreshing:           "refreshing",
	Failed:               "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions lists the states that can be entered from each state.
var transitions = map[State][]State{
	Idle:                 {Encrypting},
	Encrypting:           {Signing, Failed},
	Signing:              {AwaitingConfirmation, Failed},
	AwaitingConfirmation: {Refreshing, Failed},
	Refreshing:           {Idle, Failed},
	Failed:               {Idle},
}

func checkTransition(from, to State) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return xerrors.Errorf("invalid transition from %s to %s", from, to)
}

// Status is what the player sees of the current submission.
type Status struct {
	State   State
	Attempt uuid.UUID
	Message string
	// Err is set when the last submission failed.
	Err error
	// RetrySafe is true if the failed submission recorded nothing.
	RetrySafe bool
	// Inconclusive is true if the transaction might still be included.
	Inconclusive bool
}

func (s Status) String() string {
	return fmt.Sprintf("[%s] %s", s.State, s.Message)
}
