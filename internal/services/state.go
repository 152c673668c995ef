package services

// State is the position of one frame in the processing chain.
type State string

const (
	StateCaptured     State = "captured"
	StatePreprocessed State = "preprocessed"
	StateDetected     State = "detected"
	StateLogged       State = "logged"
	StateDone         State = "done"
	StateDropped      State = "dropped"
	StateErrored      State = "errored"
)

var next = map[State]State{
	StateCaptured:     StatePreprocessed,
	StatePreprocessed: StateDetected,
	StateDetected:     StateLogged,
	StateLogged:       StateDone,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateDropped || s == StateErrored
}

// CanTransition allows the forward step of the chain, and Dropped or Errored
// from any non-terminal state.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateDropped || to == StateErrored {
		return true
	}
	return next[s] == to
}
