package conversation

import "fmt"

// BaseState is the underlying conversation state. The numeric
// values are part of the persisted format in users.state.
type BaseState int

const (
	// Normal is the steady state: all course commands are accepted.
	Normal BaseState = 0
	// Hello marks a user row created but not yet greeted.
	Hello BaseState = 1
	// SchoolNameRequest awaits the user's school website.
	SchoolNameRequest BaseState = 2
	// BannerURLRequest awaits a manually supplied Banner base URL
	// after autodiscovery failed.
	BannerURLRequest BaseState = 3
)

// resetFlag is OR'd onto the encoded base state while a reset
// confirmation is pending.
const resetFlag = 4

// State is a base state with an overlay flag: reset confirmation
// can be pending on top of any base state, and cancelling it
// returns to the base unchanged.
type State struct {
	Base         BaseState
	ResetPending bool
}

// Encode packs the state into the integer stored in users.state.
func (s State) Encode() int {
	v := int(s.Base)
	if s.ResetPending {
		v |= resetFlag
	}
	return v
}

// DecodeState unpacks a stored state value. Unknown values are an
// error rather than a silent fallback; a user row must always hold
// a defined state.
func DecodeState(v int) (State, error) {
	base := BaseState(v &^ resetFlag)
	if base < Normal || base > BannerURLRequest {
		return State{}, fmt.Errorf("invalid conversation state %d", v)
	}
	return State{Base: base, ResetPending: v&resetFlag != 0}, nil
}
