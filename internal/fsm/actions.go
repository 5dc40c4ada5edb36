package fsm

import "github.com/librescoot/librefsm"

// Actions receives playback mode entry notifications. Implementations run on
// the state machine goroutine and must not call back into the machine.
type Actions interface {
	EnterIdle(c *librefsm.Context) error
	EnterBackground(c *librefsm.Context) error
	EnterTrack(c *librefsm.Context) error
}
