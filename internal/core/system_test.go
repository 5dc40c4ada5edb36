package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expander-service/internal/audio"
	"expander-service/internal/config"
	"expander-service/internal/events"
	"expander-service/internal/input"
	"expander-service/internal/logger"
	"expander-service/internal/osc"
	"expander-service/internal/types"
)

// callLog records calls across mocks so ordering can be asserted
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Mock AudioController
type mockAudio struct {
	log           *callLog
	completionErr error
	playErr       error
}

func (m *mockAudio) PlayEffect(name string, left, right float64, replace bool) error {
	m.log.add("PlayEffect %s %v %v %v", name, left, right, replace)
	return m.playErr
}
func (m *mockAudio) CueEffect(name string) error   { m.log.add("CueEffect %s", name); return nil }
func (m *mockAudio) PauseEffect()                  { m.log.add("PauseEffect") }
func (m *mockAudio) ResumeEffect()                 { m.log.add("ResumeEffect") }
func (m *mockAudio) SetBackgroundVolume(v float64) { m.log.add("SetBackgroundVolume %v", v) }
func (m *mockAudio) PlayBackground() error         { m.log.add("PlayBackground"); return nil }
func (m *mockAudio) PauseBackground()              { m.log.add("PauseBackground") }
func (m *mockAudio) AdvanceBackground() error      { m.log.add("AdvanceBackground"); return nil }
func (m *mockAudio) CueTrack(name string) error    { m.log.add("CueTrack %s", name); return nil }
func (m *mockAudio) PlayTrack(name string) error   { m.log.add("PlayTrack %s", name); return nil }
func (m *mockAudio) ResumeTrack() error            { m.log.add("ResumeTrack"); return nil }
func (m *mockAudio) Close()                        { m.log.add("audio.Close") }
func (m *mockAudio) HandleCompletion() error {
	m.log.add("HandleCompletion")
	return m.completionErr
}

// Mock EventPublisher
type mockPublisher struct {
	mu        sync.Mutex
	inits     int
	inputs    [][2]int
	feedbacks []types.MotorFeedback
	err       error
}

func (m *mockPublisher) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	return m.err
}

func (m *mockPublisher) Input(channel, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, [2]int{channel, value})
	return m.err
}

func (m *mockPublisher) MotorFeedback(fb types.MotorFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedbacks = append(m.feedbacks, fb)
	return m.err
}

func (m *mockPublisher) snapshot() ([][2]int, []types.MotorFeedback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]int(nil), m.inputs...), append([]types.MotorFeedback(nil), m.feedbacks...)
}

// Mock HardwareIO
type mockHardwareIO struct {
	log     *callLog
	mu      sync.Mutex
	levels  [8]int
	outputs map[int]int
	edges   chan types.InputEdge
}

func newMockHardwareIO(log *callLog) *mockHardwareIO {
	return &mockHardwareIO{
		log:     log,
		outputs: make(map[int]int),
		edges:   make(chan types.InputEdge, 8),
	}
}

func (m *mockHardwareIO) Initialize() error             { return nil }
func (m *mockHardwareIO) Activate()                     { m.log.add("io.Activate") }
func (m *mockHardwareIO) Deactivate()                   { m.log.add("io.Deactivate") }
func (m *mockHardwareIO) Cleanup()                      { m.log.add("io.Cleanup") }
func (m *mockHardwareIO) Edges() <-chan types.InputEdge { return m.edges }

func (m *mockHardwareIO) ReadInput(channel int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[channel], nil
}

func (m *mockHardwareIO) WriteOutput(channel int, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel < 0 || channel >= 8 {
		return fmt.Errorf("invalid output channel %d", channel)
	}
	m.outputs[channel] = value
	return nil
}

// Mock SerialLink
type mockSerial struct {
	log     *callLog
	mu      sync.Mutex
	lines   []string
	readErr error
	written []string
}

func (m *mockSerial) ReadLine() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lines) > 0 {
		line := m.lines[0]
		m.lines = m.lines[1:]
		return line, nil
	}
	if m.readErr != nil {
		err := m.readErr
		m.readErr = nil
		return "", err
	}
	time.Sleep(time.Millisecond)
	return "", nil
}

func (m *mockSerial) WriteCommand(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, cmd)
	return nil
}

func (m *mockSerial) Close() error {
	m.log.add("serial.Close")
	return nil
}

func (m *mockSerial) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// Mock Observer
type mockObserver struct {
	mu     sync.Mutex
	kinds  []string
	states []types.MotorState
}

func (o *mockObserver) SerialLine(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func (o *mockObserver) MotorFeedbackReceived(state types.MotorState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

type testSystem struct {
	*ExpanderSystem
	log       *callLog
	audio     *mockAudio
	publisher *mockPublisher
	io        *mockHardwareIO
	serial    *mockSerial
	observer  *mockObserver
}

func newTestSystem(t *testing.T) *testSystem {
	t.Helper()

	cfg := config.Default()
	cfg.Loop.Idle = 5 * time.Millisecond

	log := &callLog{}
	ts := &testSystem{
		ExpanderSystem: NewExpanderSystem(cfg, logger.NewLogger(nil, logger.LogLevelNone)),
		log:            log,
		audio:          &mockAudio{log: log},
		publisher:      &mockPublisher{},
		io:             newMockHardwareIO(log),
		serial:         &mockSerial{log: log},
		observer:       &mockObserver{},
	}
	ts.ExpanderSystem.audio = ts.audio
	ts.ExpanderSystem.publisher = ts.publisher
	ts.ExpanderSystem.io = ts.io
	ts.ExpanderSystem.serial = ts.serial
	ts.ExpanderSystem.observer = ts.observer
	ts.registerCommands()
	return ts
}

func (ts *testSystem) command(t *testing.T, route string, args ...interface{}) error {
	t.Helper()
	return ts.registry.Handle(goosc.NewMessage(route, args...))
}

// ===== Command Tests =====

func TestAllRoutesRegistered(t *testing.T) {
	ts := newTestSystem(t)

	assert.ElementsMatch(t, []string{
		"/init", "/test", "/quit",
		"/audio/fx/play", "/audio/fx/playnew", "/audio/fx/cue", "/audio/fx/pause", "/audio/fx/resume",
		"/audio/bg/volume", "/audio/bg/play", "/audio/bg/pause", "/audio/bg/next",
		"/audio/trk/cue", "/audio/trk/play", "/audio/trk/pause", "/audio/trk/resume",
		"/output", "/motor/exec",
	}, ts.registry.Routes())
}

func TestEffectCommands(t *testing.T) {
	ts := newTestSystem(t)

	require.NoError(t, ts.command(t, "/audio/fx/play", "boo"))
	require.NoError(t, ts.command(t, "/audio/fx/play", "boo", float32(0.5)))
	require.NoError(t, ts.command(t, "/audio/fx/playnew", "howl", float32(0.25), float32(0.75)))
	require.NoError(t, ts.command(t, "/audio/fx/cue", "door"))
	require.NoError(t, ts.command(t, "/audio/fx/pause"))
	require.NoError(t, ts.command(t, "/audio/fx/resume"))

	assert.Equal(t, []string{
		"PlayEffect boo -1 -1 true",
		"PlayEffect boo 0.5 -1 true",
		"PlayEffect howl 0.25 0.75 false",
		"CueEffect door",
		"PauseEffect",
		"ResumeEffect",
	}, ts.log.snapshot())
}

func TestEffectCommandDecodeErrors(t *testing.T) {
	ts := newTestSystem(t)

	assert.ErrorIs(t, ts.command(t, "/audio/fx/play"), osc.ErrDecode)
	assert.ErrorIs(t, ts.command(t, "/audio/fx/play", "boo", "loud"), osc.ErrDecode)
	assert.Empty(t, ts.log.snapshot(), "malformed commands never reach the controller")
}

func TestEffectLoadFailureIsReported(t *testing.T) {
	ts := newTestSystem(t)
	ts.audio.playErr = audio.ErrSoundUnavailable

	assert.ErrorIs(t, ts.command(t, "/audio/fx/play", "ghost"), audio.ErrSoundUnavailable)
}

func TestBackgroundAndTrackCommands(t *testing.T) {
	ts := newTestSystem(t)

	require.NoError(t, ts.command(t, "/audio/bg/volume", float32(0.25)))
	require.NoError(t, ts.command(t, "/audio/bg/play"))
	require.NoError(t, ts.command(t, "/audio/bg/pause"))
	require.NoError(t, ts.command(t, "/audio/bg/next"))
	require.NoError(t, ts.command(t, "/audio/trk/cue", "intro"))
	require.NoError(t, ts.command(t, "/audio/trk/play", "finale"))
	require.NoError(t, ts.command(t, "/audio/trk/pause"))
	require.NoError(t, ts.command(t, "/audio/trk/resume"))

	assert.Equal(t, []string{
		"SetBackgroundVolume 0.25",
		"PlayBackground",
		"PauseBackground",
		"AdvanceBackground",
		"CueTrack intro",
		"PlayTrack finale",
		"PauseBackground",
		"ResumeTrack",
	}, ts.log.snapshot())
}

func TestOutputCommand(t *testing.T) {
	ts := newTestSystem(t)

	require.NoError(t, ts.command(t, "/output", int32(3), int32(1)))
	assert.Equal(t, 1, ts.io.outputs[3])

	assert.Error(t, ts.command(t, "/output", int32(9), int32(1)))
	assert.ErrorIs(t, ts.command(t, "/output", int32(3)), osc.ErrDecode)
}

func TestOutputCommandWithoutHardware(t *testing.T) {
	ts := newTestSystem(t)
	ts.ExpanderSystem.io = nil

	assert.NoError(t, ts.command(t, "/output", int32(3), int32(1)))
}

func TestMotorExecCommand(t *testing.T) {
	ts := newTestSystem(t)

	require.NoError(t, ts.command(t, "/motor/exec", int32(1), int32(500), int32(10), int32(3000)))
	assert.Equal(t, []string{"!M,1,500,10,3000\r"}, ts.serial.written)

	assert.ErrorIs(t, ts.command(t, "/motor/exec", int32(1), int32(500)), osc.ErrDecode)
	assert.Len(t, ts.serial.written, 1)
}

func TestMotorExecWithoutSerial(t *testing.T) {
	ts := newTestSystem(t)
	ts.ExpanderSystem.serial = nil

	assert.NoError(t, ts.command(t, "/motor/exec", int32(1), int32(500), int32(10), int32(3000)))
}

func TestTestAndInitCommands(t *testing.T) {
	ts := newTestSystem(t)

	assert.NoError(t, ts.command(t, "/init"))
	assert.NoError(t, ts.command(t, "/test", int32(42)))
	assert.ErrorIs(t, ts.command(t, "/test"), osc.ErrDecode)
}

func TestCommandLine(t *testing.T) {
	ts := newTestSystem(t)

	require.NoError(t, ts.handleCommandLine("/audio/trk/play finale"))
	assert.Equal(t, []string{"PlayTrack finale"}, ts.log.snapshot())

	assert.ErrorIs(t, ts.handleCommandLine("/nope"), osc.ErrUnknownRoute)
	assert.Error(t, ts.handleCommandLine("garbage"))
}

// ===== Serial Telemetry Tests =====

func TestSerialLineHandling(t *testing.T) {
	ts := newTestSystem(t)

	ts.handleSerialLine("!IOX:0,M,2,S120\r")
	ts.handleSerialLine("!IOX:0,M,2,X\r")
	ts.handleSerialLine("!IOX:0,M,3,E007\r")
	ts.handleSerialLine("!IOX:0,M,2\r")
	ts.handleSerialLine("!IOX:0,#\r")
	ts.handleSerialLine("!IOX:0,hello\r")
	ts.handleSerialLine("noise\r")

	_, feedbacks := ts.publisher.snapshot()
	assert.Equal(t, []types.MotorFeedback{
		{Channel: 2, State: types.MotorStarting, Position: 120, Raw: "S120"},
		{Channel: 2, State: types.MotorFailed, Raw: "X"},
		{Channel: 3, State: types.MotorEnding, Position: 7, Raw: "E007"},
	}, feedbacks)
	assert.Equal(t, "E007", feedbacks[2].Wire(), "position tokens are forwarded as received")
	assert.Equal(t, []string{"motor", "motor", "motor", "malformed", "ack", "debug", "foreign"}, ts.observer.kinds)
	assert.Equal(t, []types.MotorState{types.MotorStarting, types.MotorFailed, types.MotorEnding}, ts.observer.states)
}

func TestSerialPublishFailureDoesNotPanic(t *testing.T) {
	ts := newTestSystem(t)
	ts.publisher.err = errors.New("network unreachable")

	assert.NotPanics(t, func() { ts.handleSerialLine("!IOX:0,M,1,E5\r") })
}

// ===== Event Loop Tests =====

func runLoop(t *testing.T, ts *testSystem) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ts.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not stop")
	}
}

func TestRunPublishesSerialFeedback(t *testing.T) {
	ts := newTestSystem(t)
	ts.serial.lines = []string{"!IOX:0,M,1,S10\r", "!IOX:0,M,1,250\r", "!IOX:0,M,1,E500\r"}

	cancel, done := runLoop(t, ts)
	require.Eventually(t, func() bool {
		_, fb := ts.publisher.snapshot()
		return len(fb) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done)

	_, feedbacks := ts.publisher.snapshot()
	assert.Equal(t, "S10", feedbacks[0].Wire())
	assert.Equal(t, "250", feedbacks[1].Wire())
	assert.Equal(t, "E500", feedbacks[2].Wire())
}

func TestRunHandlesCompletions(t *testing.T) {
	ts := newTestSystem(t)
	ts.ExpanderSystem.serial = nil
	completions := make(chan struct{}, 1)
	ts.completions = completions
	ts.audio.completionErr = audio.ErrNoBackgroundTracks

	cancel, done := runLoop(t, ts)
	completions <- struct{}{}
	require.Eventually(t, func() bool {
		return len(ts.log.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.Equal(t, []string{"HandleCompletion"}, ts.log.snapshot())
}

func TestRunStopsOnQuitCommand(t *testing.T) {
	ts := newTestSystem(t)

	_, done := runLoop(t, ts)
	require.NoError(t, ts.command(t, "/quit"))
	waitDone(t, done)

	assert.NotPanics(t, ts.RequestQuit)
}

func TestRunSurvivesSerialFailure(t *testing.T) {
	ts := newTestSystem(t)
	ts.serial.readErr = errors.New("device removed")

	cancel, done := runLoop(t, ts)
	require.Eventually(t, func() bool {
		for _, c := range ts.log.snapshot() {
			if c == "serial.Close" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// The loop keeps running on the idle path.
	select {
	case <-done:
		t.Fatal("event loop exited after serial failure")
	case <-time.After(30 * time.Millisecond):
	}
	cancel()
	waitDone(t, done)
	assert.Zero(t, ts.serial.pending())
}

func TestRunReconcilesInputs(t *testing.T) {
	ts := newTestSystem(t)
	ts.ExpanderSystem.serial = nil
	ts.debouncer = input.New(8, ts.io, ts.publishInput, ts.logger, input.WithWindow(10*time.Millisecond))
	ts.debouncer.Prime()

	inputs, _ := ts.publisher.snapshot()
	require.Len(t, inputs, 8, "prime publishes every channel")

	// Edge arrives, then the level bounces back before the window closes.
	ts.io.mu.Lock()
	ts.io.levels[2] = 1
	ts.io.mu.Unlock()
	ts.debouncer.HandleEdge(types.InputEdge{Channel: 2, Direction: types.DirectionOn})
	ts.io.mu.Lock()
	ts.io.levels[2] = 0
	ts.io.mu.Unlock()

	cancel, done := runLoop(t, ts)
	require.Eventually(t, func() bool {
		inputs, _ := ts.publisher.snapshot()
		return len(inputs) == 10
	}, time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done)

	inputs, _ = ts.publisher.snapshot()
	assert.Equal(t, [2]int{2, 1}, inputs[8])
	assert.Equal(t, [2]int{2, 0}, inputs[9], "reconcile publishes the settled level")
}

// ===== Shutdown Tests =====

// Mock MessagingClient
type mockMessaging struct {
	log *callLog
}

func (m *mockMessaging) MirrorEvent(events.Event) error           { return nil }
func (m *mockMessaging) Connect() error                           { return nil }
func (m *mockMessaging) StartListening()                          {}
func (m *mockMessaging) StopListening()                           { m.log.add("redis.StopListening") }
func (m *mockMessaging) SetPlaybackMode(types.PlaybackMode) error { return nil }
func (m *mockMessaging) Close() error {
	m.log.add("redis.Close")
	return nil
}

func TestShutdownOrder(t *testing.T) {
	ts := newTestSystem(t)
	ts.redis = &mockMessaging{log: ts.log}

	ts.Shutdown()
	ts.Shutdown()

	assert.Equal(t, []string{
		"redis.StopListening",
		"io.Deactivate",
		"io.Cleanup",
		"serial.Close",
		"audio.Close",
		"redis.Close",
	}, ts.log.snapshot())
	assert.ErrorIs(t, ts.command(t, "/audio/trk/play", "finale"), osc.ErrClosed,
		"commands are refused once shutdown starts")
}

func TestShutdownWaitsForInflightCommands(t *testing.T) {
	ts := newTestSystem(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	ts.registry.MustRegister("/slow", func(osc.Args) error {
		close(entered)
		<-release
		ts.log.add("slow done")
		return nil
	})

	go func() { _ = ts.command(t, "/slow") }()
	<-entered

	finished := make(chan struct{})
	go func() {
		ts.Shutdown()
		close(finished)
	}()

	select {
	case <-finished:
		t.Fatal("shutdown finished while a command was still running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, ts.log.snapshot(), "no teardown before the running command completes")

	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	assert.Equal(t, []string{"slow done", "io.Deactivate", "io.Cleanup", "serial.Close", "audio.Close"},
		ts.log.snapshot())
}

func TestPlaybackObserverWithoutSinks(t *testing.T) {
	o := &playbackObserver{logger: logger.NewLogger(nil, logger.LogLevelNone)}

	assert.NotPanics(t, func() {
		o.ModeChanged(types.ModeTrack)
		o.BackgroundTrackStarted("spooky")
	})
}
