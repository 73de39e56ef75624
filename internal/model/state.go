package model

// State is a position in the onboarding state machine.
type State string

const (
	StateStarted           State = "Started"
	StateExtracting        State = "Extracting"
	StateCrossChecking     State = "CrossChecking"
	StateVerifyingAddress  State = "VerifyingAddress"
	StateCheckingDuplicate State = "CheckingDuplicate"
	StateCreating          State = "Creating"
	StatePublishing        State = "Publishing"
	StateNotifying         State = "Notifying"
	StateSucceeded         State = "Succeeded"
	StateFailed            State = "Failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}
