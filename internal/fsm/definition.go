package fsm

import "github.com/librescoot/librefsm"

// NewDefinition creates the playback mode FSM definition.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateIdle,
			librefsm.WithOnEnter(actions.EnterIdle),
		).
		State(StateBackground,
			librefsm.WithOnEnter(actions.EnterBackground),
		).
		State(StateTrack,
			librefsm.WithOnEnter(actions.EnterTrack),
		).

		// Background playlist takes over from any other mode
		Transition(StateIdle, EvBackgroundStart, StateBackground).
		Transition(StateTrack, EvBackgroundStart, StateBackground).

		// A cued or played track suspends background advancing
		Transition(StateIdle, EvTrackStart, StateTrack).
		Transition(StateBackground, EvTrackStart, StateTrack).

		// Track finished
		Transition(StateTrack, EvTrackDone, StateIdle).
		Initial(StateIdle)
}
