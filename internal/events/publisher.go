// Package events publishes outbound status events to the peer over OSC.
package events

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	goosc "github.com/hypebeast/go-osc/osc"

	"expander-service/internal/logger"
	"expander-service/internal/types"
)

// Outbound addresses.
const (
	AddrInit            = "/init"
	AddrBackgroundStart = "/audio/bg/start"
	AddrTrackDone       = "/audio/trk/done"
	AddrInput           = "/input"
	AddrMotorFeedback   = "/motor/feedback"
)

// Event is one outbound message. Args excludes the correlation id, which is
// always sent as the first OSC argument.
type Event struct {
	CorrelationID string
	Address       string
	Args          []interface{}
}

// Message renders the event as an OSC message.
func (e Event) Message() *goosc.Message {
	msg := goosc.NewMessage(e.Address, e.CorrelationID)
	msg.Arguments = append(msg.Arguments, e.Args...)
	return msg
}

// Sender delivers a packet to the peer. *osc.Client satisfies it.
type Sender interface {
	Send(packet goosc.Packet) error
}

// Mirror observes every event that was sent successfully.
type Mirror interface {
	MirrorEvent(ev Event) error
}

type Observer interface {
	EventPublished(address string, err error)
}

type Publisher struct {
	logger   *logger.Logger
	sender   Sender
	mirror   Mirror
	observer Observer
	newID    func() (string, error)
}

func NewPublisher(sender Sender, l *logger.Logger) *Publisher {
	return &Publisher{
		logger: l,
		sender: sender,
		newID:  NewCorrelationID,
	}
}

// SetMirror and SetObserver must be called before the first publish.
func (p *Publisher) SetMirror(m Mirror) {
	p.mirror = m
}

func (p *Publisher) SetObserver(o Observer) {
	p.observer = o
}

// NewCorrelationID returns a time-based UUID as 32 lowercase hex characters.
func NewCorrelationID() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", fmt.Errorf("failed to generate correlation id: %w", err)
	}
	return hex.EncodeToString(id[:]), nil
}

// Publish sends one event with a fresh correlation id. Send failures are
// returned, never retried.
func (p *Publisher) Publish(address string, args ...interface{}) error {
	id, err := p.newID()
	if err != nil {
		return err
	}
	ev := Event{CorrelationID: id, Address: address, Args: args}

	p.logger.Debugf("Sending %s %s %v", address, id, args)
	err = p.sender.Send(ev.Message())
	if p.observer != nil {
		p.observer.EventPublished(address, err)
	}
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", address, err)
	}

	if p.mirror != nil {
		if err := p.mirror.MirrorEvent(ev); err != nil {
			p.logger.Warnf("Failed to mirror %s: %v", address, err)
		}
	}
	return nil
}

func (p *Publisher) Init() error {
	return p.Publish(AddrInit)
}

func (p *Publisher) BackgroundStarted(track string) error {
	return p.Publish(AddrBackgroundStart, track)
}

func (p *Publisher) TrackDone() error {
	return p.Publish(AddrTrackDone)
}

func (p *Publisher) Input(channel, value int) error {
	return p.Publish(AddrInput, int32(channel), int32(value))
}

func (p *Publisher) MotorFeedback(fb types.MotorFeedback) error {
	return p.Publish(AddrMotorFeedback, int32(fb.Channel), fb.Wire())
}
