package audio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/librescoot/librefsm"

	"expander-service/internal/fsm"
	"expander-service/internal/logger"
	"expander-service/internal/types"
)

const (
	effectDir = "fx"
	trackDir  = "trk"
	soundExt  = ".wav"

	// NoVolume marks an absent volume argument.
	NoVolume = -1.0

	DefaultBackgroundVolume = 0.5
)

// Publisher emits audio lifecycle events.
type Publisher interface {
	BackgroundStarted(track string) error
	TrackDone() error
}

// Observer is notified of playback changes.
type Observer interface {
	BackgroundTrackStarted(track string)
	ModeChanged(mode types.PlaybackMode)
}

type Config struct {
	Root             string
	BackgroundDir    string
	BackgroundVolume float64
}

// Controller serializes every playback operation behind one mutex; it is
// driven both by command handlers and by the event loop's completion signal.
type Controller struct {
	logger    *logger.Logger
	engine    Engine
	publisher Publisher
	observer  Observer
	effects   *EffectCache
	playlist  *Playlist
	cfg       Config

	mu        sync.Mutex
	machine   *librefsm.Machine
	current   Channel
	lastSound Sound
	bgVolume  float64
	closed    bool
}

func NewController(engine Engine, publisher Publisher, playlist *Playlist, cfg Config, l *logger.Logger) *Controller {
	if cfg.BackgroundVolume < 0 || cfg.BackgroundVolume > 1 {
		cfg.BackgroundVolume = DefaultBackgroundVolume
	}
	return &Controller{
		logger:    l,
		engine:    engine,
		publisher: publisher,
		effects:   NewEffectCache(engine, filepath.Join(cfg.Root, effectDir), l),
		playlist:  playlist,
		cfg:       cfg,
		bgVolume:  cfg.BackgroundVolume,
	}
}

// SetObserver must be called before Start.
func (c *Controller) SetObserver(o Observer) {
	c.observer = o
}

// Start builds and starts the playback mode machine. The machine outlives
// cancellation of ctx and is stopped by Close, so commands still in flight
// during shutdown never wait on a stopped machine.
func (c *Controller) Start(ctx context.Context) error {
	machine, err := fsm.NewDefinition(modeActions{logger: c.logger}).Build()
	if err != nil {
		return fmt.Errorf("failed to build playback state machine: %w", err)
	}

	machine.OnStateChange(func(from, to librefsm.StateID) {
		c.logger.Debugf("Playback mode: %s -> %s", from, to)
		if c.observer != nil {
			c.observer.ModeChanged(types.PlaybackMode(to))
		}
	})

	if err := machine.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start playback state machine: %w", err)
	}

	c.mu.Lock()
	c.machine = machine
	c.mu.Unlock()
	return nil
}

// mode returns the current playback mode.
func (c *Controller) mode() types.PlaybackMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modeLocked()
}

func (c *Controller) modeLocked() types.PlaybackMode {
	if c.machine == nil {
		return types.ModeIdle
	}
	return types.PlaybackMode(c.machine.CurrentState())
}

func (c *Controller) enterLocked(mode types.PlaybackMode, ev librefsm.EventID) {
	if c.closed || c.machine == nil || c.modeLocked() == mode {
		return
	}
	if err := c.machine.SendSync(librefsm.Event{ID: ev}); err != nil {
		c.logger.Warnf("Playback mode change to %s rejected: %v", mode, err)
	}
}

// PlayEffect starts the named effect. With replace set the current channel is
// stopped first; otherwise it keeps playing alongside the new one. Negative
// volumes are treated as absent.
func (c *Controller) PlayEffect(name string, left, right float64, replace bool) error {
	c.logger.Infof("Play FX %s (replace=%v)", name, replace)

	sound, err := c.effects.Load(name + soundExt)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.lastSound = sound
	if replace && c.current != nil {
		c.current.Stop()
	}
	c.current = sound.Play()

	switch {
	case left >= 0 && right >= 0:
		c.current.SetVolume(left, right)
	case left >= 0:
		c.current.SetVolume(left, left)
	}
	return nil
}

// CueEffect loads the named effect and stops it without playing.
func (c *Controller) CueEffect(name string) error {
	c.logger.Infof("Cue FX %s", name)

	sound, err := c.effects.Load(name + soundExt)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSound = sound
	sound.Stop()
	c.current = nil
	return nil
}

func (c *Controller) PauseEffect() {
	c.logger.Infof("Pause FX")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Pause()
	}
}

// ResumeEffect unpauses the current channel, or replays the last loaded effect
// when the channel has been released.
func (c *Controller) ResumeEffect() {
	c.logger.Infof("Resume FX")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.current.Done() {
		c.current.Unpause()
		return
	}
	if c.lastSound != nil {
		c.current = c.lastSound.Play()
	}
}

func (c *Controller) SetBackgroundVolume(v float64) {
	v = max(0, min(1, v))
	c.logger.Infof("Background volume %.2f", v)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.bgVolume = v
	c.engine.Music().SetVolume(v)
}

func (c *Controller) backgroundVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bgVolume
}

// PlayBackground resumes paused or playing music, or starts the next playlist
// track when nothing is loaded.
func (c *Controller) PlayBackground() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	music := c.engine.Music()
	if music.Active() {
		c.logger.Infof("Background resume")
		music.Unpause()
		c.enterLocked(types.ModeBackground, fsm.EvBackgroundStart)
		return nil
	}

	c.logger.Infof("Background play")
	return c.advanceLocked()
}

// PauseBackground pauses whatever occupies the music slot, background or track.
func (c *Controller) PauseBackground() {
	c.logger.Infof("Background pause")

	c.mu.Lock()
	defer c.mu.Unlock()

	c.engine.Music().Pause()
}

func (c *Controller) AdvanceBackground() error {
	c.logger.Infof("Background next")

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.advanceLocked()
}

func (c *Controller) advanceLocked() error {
	if c.closed {
		return ErrClosed
	}
	index, file, err := c.playlist.Next()
	if err != nil {
		c.logger.Warnf("Cannot start background music: %v", err)
		return err
	}
	c.logger.Infof("Background track %d: %s", index, file)

	music := c.engine.Music()
	if err := music.Load(filepath.Join(c.cfg.Root, c.cfg.BackgroundDir, file)); err != nil {
		c.logger.Warnf("Cannot load background track %s: %v", file, err)
		return fmt.Errorf("failed to load background track %s: %w", file, err)
	}
	music.SetVolume(c.bgVolume)
	if err := music.Play(); err != nil {
		return fmt.Errorf("failed to play background track %s: %w", file, err)
	}
	c.enterLocked(types.ModeBackground, fsm.EvBackgroundStart)

	track := TrackName(file)
	if c.observer != nil {
		c.observer.BackgroundTrackStarted(track)
	}
	if err := c.publisher.BackgroundStarted(track); err != nil {
		return fmt.Errorf("failed to publish background start: %w", err)
	}
	return nil
}

func (c *Controller) cueTrackLocked(name string) error {
	if c.closed {
		return ErrClosed
	}
	c.logger.Infof("Cue track %s", name)

	music := c.engine.Music()
	if err := music.Load(filepath.Join(c.cfg.Root, trackDir, name+soundExt)); err != nil {
		c.logger.Warnf("Cannot load track %s: %v", name, err)
		return fmt.Errorf("failed to load track %s: %w", name, err)
	}
	music.SetVolume(1.0)
	return nil
}

// CueTrack loads a foreground track without playing it.
func (c *Controller) CueTrack(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cueTrackLocked(name); err != nil {
		return err
	}
	c.enterLocked(types.ModeTrack, fsm.EvTrackStart)
	return nil
}

// PlayTrack loads and plays a foreground track; background advancing stops.
func (c *Controller) PlayTrack(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cueTrackLocked(name); err != nil {
		return err
	}
	if err := c.engine.Music().Play(); err != nil {
		return fmt.Errorf("failed to play track %s: %w", name, err)
	}
	c.enterLocked(types.ModeTrack, fsm.EvTrackStart)
	return nil
}

// ResumeTrack plays the loaded music from the start.
func (c *Controller) ResumeTrack() error {
	c.logger.Infof("Resume track")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	return c.engine.Music().Play()
}

// HandleCompletion reacts to the music slot finishing: background mode moves
// on to the next playlist track, anything else reports the track as done.
func (c *Controller) HandleCompletion() error {
	c.logger.Infof("Music ended")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.modeLocked() == types.ModeBackground {
		err := c.advanceLocked()
		if errors.Is(err, ErrNoBackgroundTracks) {
			return nil
		}
		return err
	}

	if c.modeLocked() == types.ModeTrack {
		c.enterLocked(types.ModeIdle, fsm.EvTrackDone)
	}
	return c.publisher.TrackDone()
}

// Close stops the current effect channel and the playback mode machine.
// Later playback operations return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.machine != nil {
		if err := c.machine.Stop(); err != nil {
			c.logger.Warnf("Failed to stop playback state machine: %v", err)
		}
	}
	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}
}

type modeActions struct {
	logger *logger.Logger
}

func (a modeActions) EnterIdle(*librefsm.Context) error {
	a.logger.Debugf("Entered idle mode")
	return nil
}

func (a modeActions) EnterBackground(*librefsm.Context) error {
	a.logger.Debugf("Entered background mode")
	return nil
}

func (a modeActions) EnterTrack(*librefsm.Context) error {
	a.logger.Debugf("Entered track mode")
	return nil
}
