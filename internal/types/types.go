package types

import "strconv"

// PlaybackMode is the foreground music context owned by the audio controller.
type PlaybackMode string

const (
	ModeIdle       PlaybackMode = "idle"
	ModeBackground PlaybackMode = "background"
	ModeTrack      PlaybackMode = "track"
)

// Edge directions as reported by the input driver. A channel's logical value
// is 1 - direction, so DirectionOn means the input became active.
const (
	DirectionOn  = 0
	DirectionOff = 1
)

// InputEdge is a raw edge reported by the digital input driver.
type InputEdge struct {
	Channel   int
	Direction int
}

// Value returns the logical input level carried by the edge.
func (e InputEdge) Value() int {
	return 1 - e.Direction
}

type MotorState int

const (
	MotorIdle MotorState = iota
	MotorStarting
	MotorMoving
	MotorEnding
	MotorFailed
)

func (s MotorState) String() string {
	switch s {
	case MotorStarting:
		return "starting"
	case MotorMoving:
		return "moving"
	case MotorEnding:
		return "ending"
	case MotorFailed:
		return "failed"
	default:
		return "idle"
	}
}

// MotorFeedback is one decoded motor status line.
type MotorFeedback struct {
	Channel  int
	State    MotorState
	Position int
	Raw      string // state token as received, e.g. "S012"
}

// Wire renders the state string sent in /motor/feedback events.
func (f MotorFeedback) Wire() string {
	switch f.State {
	case MotorStarting, MotorEnding, MotorMoving:
		if f.Raw != "" {
			return f.Raw
		}
	}

	switch f.State {
	case MotorFailed:
		return "FAIL"
	case MotorStarting:
		return "S" + strconv.Itoa(f.Position)
	case MotorEnding:
		return "E" + strconv.Itoa(f.Position)
	case MotorMoving:
		return strconv.Itoa(f.Position)
	default:
		return "IDLE"
	}
}
