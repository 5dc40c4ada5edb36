package input

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expander-service/internal/logger"
	"expander-service/internal/types"
)

type fakeLevels struct {
	mu     sync.Mutex
	levels []int
	err    error
}

func (f *fakeLevels) ReadInput(ch int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.levels[ch], nil
}

func (f *fakeLevels) set(ch, v int) {
	f.mu.Lock()
	f.levels[ch] = v
	f.mu.Unlock()
}

type published struct{ ch, v int }

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) publish(ch, v int) error {
	r.mu.Lock()
	r.events = append(r.events, published{ch, v})
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type countingObserver struct {
	published, debounced int
}

func (o *countingObserver) InputPublished(int) { o.published++ }
func (o *countingObserver) EdgeDebounced(int)  { o.debounced++ }

func newTestDebouncer() (*Debouncer, *fakeLevels, *recorder, *fakeClock) {
	levels := &fakeLevels{levels: make([]int, 8)}
	rec := &recorder{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d := New(8, levels, rec.publish, logger.NewLogger(nil, logger.LogLevelNone), WithClock(clock.now))
	return d, levels, rec, clock
}

func on(ch int) types.InputEdge  { return types.InputEdge{Channel: ch, Direction: types.DirectionOn} }
func off(ch int) types.InputEdge { return types.InputEdge{Channel: ch, Direction: types.DirectionOff} }

func TestPrimePublishesEveryChannel(t *testing.T) {
	d, levels, rec, _ := newTestDebouncer()
	levels.set(3, 1)

	d.Prime()

	events := rec.all()
	require.Len(t, events, 8)
	for ch, e := range events {
		assert.Equal(t, ch, e.ch)
	}
	assert.Equal(t, 1, events[3].v)
	assert.Equal(t, 1, d.lastPublishedValue(3))
}

func TestEdgesInsideWindowAreSuppressed(t *testing.T) {
	d, _, rec, clock := newTestDebouncer()
	obs := &countingObserver{}
	d.observer = obs

	d.HandleEdge(on(2))
	clock.advance(30 * time.Millisecond)
	d.HandleEdge(off(2))
	clock.advance(69 * time.Millisecond)
	d.HandleEdge(on(2))

	assert.Equal(t, []published{{2, 1}}, rec.all())
	assert.Equal(t, 1, obs.published)
	assert.Equal(t, 2, obs.debounced)
}

func TestEdgeAfterWindowPublishes(t *testing.T) {
	d, _, rec, clock := newTestDebouncer()

	d.HandleEdge(on(1))
	clock.advance(DefaultWindow)
	d.HandleEdge(off(1))

	assert.Equal(t, []published{{1, 1}, {1, 0}}, rec.all())
}

func TestChannelsAreDebouncedIndependently(t *testing.T) {
	d, _, rec, clock := newTestDebouncer()

	d.HandleEdge(on(0))
	clock.advance(10 * time.Millisecond)
	d.HandleEdge(on(1))

	assert.Equal(t, []published{{0, 1}, {1, 1}}, rec.all())
}

func TestReconcilePublishesSettledLevelThatDiffers(t *testing.T) {
	d, levels, rec, clock := newTestDebouncer()

	// Pressed and released inside the window: the release edge is muted.
	levels.set(4, 1)
	d.HandleEdge(on(4))
	clock.advance(20 * time.Millisecond)
	levels.set(4, 0)
	d.HandleEdge(off(4))

	clock.advance(50 * time.Millisecond)
	d.Reconcile()
	assert.Equal(t, []published{{4, 1}}, rec.all(), "window not yet expired")

	clock.advance(30 * time.Millisecond)
	d.Reconcile()
	assert.Equal(t, []published{{4, 1}, {4, 0}}, rec.all())
	assert.Equal(t, 0, d.lastPublishedValue(4))
}

func TestReconcileSilentWhenLevelMatches(t *testing.T) {
	d, levels, rec, clock := newTestDebouncer()

	levels.set(6, 1)
	d.HandleEdge(on(6))
	clock.advance(DefaultWindow)
	d.Reconcile()
	clock.advance(DefaultWindow)
	d.Reconcile()

	assert.Equal(t, []published{{6, 1}}, rec.all())
}

func TestReconcileRearmsWindowAfterPublish(t *testing.T) {
	d, levels, rec, clock := newTestDebouncer()

	d.HandleEdge(on(0))
	clock.advance(DefaultWindow)
	d.Reconcile() // level 0 differs from published 1

	clock.advance(10 * time.Millisecond)
	levels.set(0, 1)
	d.HandleEdge(on(0))

	assert.Equal(t, []published{{0, 1}, {0, 0}}, rec.all())
}

func TestReconcileReadErrorLeavesChannelUnmuted(t *testing.T) {
	d, levels, rec, clock := newTestDebouncer()

	d.HandleEdge(on(5))
	clock.advance(DefaultWindow)
	levels.err = errors.New("bus error")
	d.Reconcile()

	levels.err = nil
	d.HandleEdge(off(5))
	assert.Equal(t, []published{{5, 1}, {5, 0}}, rec.all())
}

func TestUnknownChannelIgnored(t *testing.T) {
	d, _, rec, _ := newTestDebouncer()

	d.HandleEdge(on(8))
	d.HandleEdge(on(-1))

	assert.Empty(t, rec.all())
}

func TestRunConsumesEdges(t *testing.T) {
	d, _, rec, _ := newTestDebouncer()
	edges := make(chan types.InputEdge, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx, edges)
		close(done)
	}()

	edges <- on(7)
	close(edges)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the edge channel closed")
	}
	assert.Equal(t, []published{{7, 1}}, rec.all())
}
