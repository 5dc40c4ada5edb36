package fsm

import "github.com/librescoot/librefsm"

// Playback modes. Exactly one holds at any time; effect channels are not part
// of this machine.
const (
	StateIdle       librefsm.StateID = "idle"
	StateBackground librefsm.StateID = "background"
	StateTrack      librefsm.StateID = "track"
)

// Playback events
const (
	// Background playlist started or resumed (/audio/bg/play, /audio/bg/next)
	EvBackgroundStart librefsm.EventID = "background-start"

	// Foreground track cued or played (/audio/trk/cue, /audio/trk/play)
	EvTrackStart librefsm.EventID = "track-start"

	// Completion signal received while not in background mode
	EvTrackDone librefsm.EventID = "track-done"
)
