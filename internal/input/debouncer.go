// Package input turns raw digital input edges into stable, debounced input
// change events.
//
// Every published change mutes its channel for one debounce window. Edges that
// arrive inside the window are dropped; once the window expires the channel is
// reconciled against the current hardware level, so the published value always
// converges on the settled state without flooding publishes during bounce.
package input

import (
	"context"
	"sync"
	"time"

	"expander-service/internal/logger"
	"expander-service/internal/types"
)

const DefaultWindow = 100 * time.Millisecond

// LevelReader reads the current logical level of an input channel.
type LevelReader interface {
	ReadInput(channel int) (int, error)
}

// PublishFunc emits an input change. It is called with the debouncer lock held.
type PublishFunc func(channel, value int) error

// Observer receives debounce statistics.
type Observer interface {
	InputPublished(channel int)
	EdgeDebounced(channel int)
}

type channelState struct {
	lastPublished int
	muteStart     time.Time // zero when unmuted
}

type Debouncer struct {
	logger   *logger.Logger
	reader   LevelReader
	publish  PublishFunc
	observer Observer
	window   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	channels []channelState
}

type Option func(*Debouncer)

func WithWindow(d time.Duration) Option {
	return func(db *Debouncer) {
		if d > 0 {
			db.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(db *Debouncer) { db.now = now }
}

func WithObserver(o Observer) Option {
	return func(db *Debouncer) { db.observer = o }
}

func New(count int, reader LevelReader, publish PublishFunc, l *logger.Logger, opts ...Option) *Debouncer {
	d := &Debouncer{
		logger:   l,
		reader:   reader,
		publish:  publish,
		window:   DefaultWindow,
		now:      time.Now,
		channels: make([]channelState, count),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prime reads every channel once and publishes its level unconditionally.
func (d *Debouncer) Prime() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for ch := range d.channels {
		v, err := d.reader.ReadInput(ch)
		if err != nil {
			d.logger.Warnf("Failed to read initial level of input %d: %v", ch, err)
			continue
		}
		d.channels[ch].lastPublished = v
		d.emit(ch, v)
	}
}

// HandleEdge applies one raw edge event.
func (d *Debouncer) HandleEdge(e types.InputEdge) {
	if e.Channel < 0 || e.Channel >= len(d.channels) {
		d.logger.Warnf("Edge on unknown input channel %d", e.Channel)
		return
	}
	value := e.Value()

	d.mu.Lock()
	defer d.mu.Unlock()

	st := &d.channels[e.Channel]
	now := d.now()
	if !st.muteStart.IsZero() && now.Sub(st.muteStart) < d.window {
		d.logger.Debugf("Input %d edge to %d muted", e.Channel, value)
		if d.observer != nil {
			d.observer.EdgeDebounced(e.Channel)
		}
		return
	}

	d.logger.Debugf("Input %d edge to %d", e.Channel, value)
	d.update(e.Channel, value, now)
}

// Reconcile re-reads every channel whose mute window has expired and publishes
// the hardware level when it differs from the last published value.
func (d *Debouncer) Reconcile() {
	now := d.now()
	for ch := range d.channels {
		d.reconcileChannel(ch, now)
	}
}

func (d *Debouncer) reconcileChannel(ch int, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := &d.channels[ch]
	if st.muteStart.IsZero() || now.Sub(st.muteStart) < d.window {
		return
	}
	st.muteStart = time.Time{}

	v, err := d.reader.ReadInput(ch)
	if err != nil {
		d.logger.Warnf("Failed to re-read input %d: %v", ch, err)
		return
	}
	if v != st.lastPublished {
		d.logger.Infof("Input %d reset to %d", ch, v)
		d.update(ch, v, now)
	}
}

// Run consumes edges until ctx is cancelled or the channel is closed.
func (d *Debouncer) Run(ctx context.Context, edges <-chan types.InputEdge) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-edges:
			if !ok {
				return
			}
			d.HandleEdge(e)
		}
	}
}

// lastPublishedValue returns the value most recently sent for channel.
func (d *Debouncer) lastPublishedValue(channel int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[channel].lastPublished
}

// update must be called with d.mu held.
func (d *Debouncer) update(ch, value int, now time.Time) {
	st := &d.channels[ch]
	st.muteStart = now
	st.lastPublished = value
	d.emit(ch, value)
}

func (d *Debouncer) emit(ch, value int) {
	d.logger.Infof("Input value %d on channel %d", value, ch)
	if err := d.publish(ch, value); err != nil {
		d.logger.Warnf("Failed to publish input %d: %v", ch, err)
	}
	if d.observer != nil {
		d.observer.InputPublished(ch)
	}
}
