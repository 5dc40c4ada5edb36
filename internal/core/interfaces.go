package core

import (
	"expander-service/internal/events"
	"expander-service/internal/types"
)

// HardwareIO defines the digital I/O operations needed by ExpanderSystem
type HardwareIO interface {
	Initialize() error
	Activate()
	Deactivate()
	Cleanup()

	Edges() <-chan types.InputEdge
	ReadInput(channel int) (int, error)
	WriteOutput(channel int, value int) error
}

// AudioController defines the playback operations driven by commands and by
// the event loop
type AudioController interface {
	PlayEffect(name string, left, right float64, replace bool) error
	CueEffect(name string) error
	PauseEffect()
	ResumeEffect()

	SetBackgroundVolume(v float64)
	PlayBackground() error
	PauseBackground()
	AdvanceBackground() error

	CueTrack(name string) error
	PlayTrack(name string) error
	ResumeTrack() error

	HandleCompletion() error
	Close()
}

// EventPublisher defines the outbound events emitted by the system itself
type EventPublisher interface {
	Init() error
	Input(channel, value int) error
	MotorFeedback(fb types.MotorFeedback) error
}

// MessagingClient defines the Redis mirror operations
type MessagingClient interface {
	events.Mirror
	Connect() error
	StartListening()
	StopListening()
	SetPlaybackMode(mode types.PlaybackMode) error
	Close() error
}

// SerialLink is the motor controller connection
type SerialLink interface {
	ReadLine() (string, error)
	WriteCommand(cmd string) error
	Close() error
}

// Observer receives serial decoding statistics
type Observer interface {
	SerialLine(kind string)
	MotorFeedbackReceived(state types.MotorState)
}
