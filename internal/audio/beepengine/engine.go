// Package beepengine implements audio.Engine on top of the beep speaker mixer.
package beepengine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"expander-service/internal/audio"
	"expander-service/internal/logger"
)

const (
	DefaultSampleRate = 44100
	DefaultBuffer     = 2048
	resampleQuality   = 4
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

type Config struct {
	SampleRate int
	Buffer     int
}

// Engine mixes effect channels and the music slot through the speaker.
type Engine struct {
	logger      *logger.Logger
	rate        beep.SampleRate
	music       *music
	completions chan struct{}
}

var _ audio.Engine = (*Engine)(nil)

func New(cfg Config, l *logger.Logger) (*Engine, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}

	rate := beep.SampleRate(cfg.SampleRate)
	if err := speaker.Init(rate, cfg.Buffer); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	l.Infof("Speaker initialized at %d Hz, buffer %d (%v)", cfg.SampleRate, cfg.Buffer,
		rate.D(cfg.Buffer).Round(time.Millisecond))

	e := &Engine{
		logger:      l,
		rate:        rate,
		completions: make(chan struct{}, 1),
	}
	e.music = &music{engine: e, volume: 1}
	return e, nil
}

func (e *Engine) LoadSound(path string) (audio.Sound, error) {
	streamer, format, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	buffer := beep.NewBuffer(beep.Format{SampleRate: e.rate, NumChannels: 2, Precision: format.Precision})
	buffer.Append(resampled(streamer, format.SampleRate, e.rate))
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	e.logger.Debugf("Loaded %s (%d samples)", path, buffer.Len())
	return &sound{buffer: buffer}, nil
}

func (e *Engine) Music() audio.Music {
	return e.music
}

func (e *Engine) Completions() <-chan struct{} {
	return e.completions
}

// signalCompletion runs on the speaker goroutine and must not block.
func (e *Engine) signalCompletion() {
	select {
	case e.completions <- struct{}{}:
	default:
	}
}

func (e *Engine) Close() error {
	e.music.unload()
	speaker.Clear()
	speaker.Close()
	return nil
}

func decodeFile(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".ogg":
		streamer, format, err = vorbis.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return streamer, format, nil
}

func resampled(s beep.Streamer, from, to beep.SampleRate) beep.Streamer {
	if from == to {
		return s
	}
	return beep.Resample(resampleQuality, from, to, s)
}

// playback wraps a streamer with gain, pause and stop control. done is set
// from the speaker goroutine once the streamer drains.
type playback struct {
	ctrl *beep.Ctrl
	gain *stereoGain
	done atomic.Bool
}

func newPlayback(s beep.Streamer, onDone func()) *playback {
	p := &playback{gain: &stereoGain{Streamer: s, Left: 1, Right: 1}}
	p.ctrl = &beep.Ctrl{Streamer: beep.Seq(p.gain, beep.Callback(func() {
		p.done.Store(true)
		if onDone != nil {
			onDone()
		}
	}))}
	return p
}

func (p *playback) stop() {
	speaker.Lock()
	p.ctrl.Streamer = nil
	speaker.Unlock()
	p.done.Store(true)
}

func (p *playback) setPaused(paused bool) {
	speaker.Lock()
	p.ctrl.Paused = paused
	speaker.Unlock()
}

func (p *playback) setVolume(left, right float64) {
	speaker.Lock()
	p.gain.Left, p.gain.Right = left, right
	speaker.Unlock()
}

type sound struct {
	buffer *beep.Buffer

	mu       sync.Mutex
	channels []*channel
}

func (s *sound) Play() audio.Channel {
	ch := &channel{playback: newPlayback(s.buffer.Streamer(0, s.buffer.Len()), nil)}

	s.mu.Lock()
	live := s.channels[:0]
	for _, c := range s.channels {
		if !c.Done() {
			live = append(live, c)
		}
	}
	s.channels = append(live, ch)
	s.mu.Unlock()

	speaker.Play(ch.ctrl)
	return ch
}

func (s *sound) Stop() {
	s.mu.Lock()
	channels := s.channels
	s.channels = nil
	s.mu.Unlock()

	for _, c := range channels {
		c.Stop()
	}
}

type channel struct {
	*playback
}

func (c *channel) Stop()                         { c.stop() }
func (c *channel) Pause()                        { c.setPaused(true) }
func (c *channel) Unpause()                      { c.setPaused(false) }
func (c *channel) SetVolume(left, right float64) { c.setVolume(left, right) }
func (c *channel) Done() bool                    { return c.done.Load() }

// music is the single streamed slot. Only the completion callback runs on the
// speaker goroutine, and it only touches atomics.
type music struct {
	engine *Engine

	mu      sync.Mutex
	source  beep.StreamSeekCloser
	format  beep.Format
	current *playback
	volume  float64
	loaded  bool
	playing atomic.Bool
}

func (m *music) Load(path string) error {
	streamer, format, err := decodeFile(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.unloadLocked()
	m.source = streamer
	m.format = format
	m.loaded = true
	return nil
}

// Play starts the loaded file from its beginning.
func (m *music) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return errors.New("no music loaded")
	}
	if m.current != nil {
		m.current.stop()
	}

	speaker.Lock()
	err := m.source.Seek(0)
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("failed to rewind music: %w", err)
	}

	p := newPlayback(resampled(m.source, m.format.SampleRate, m.engine.rate), func() {
		if m.playing.CompareAndSwap(true, false) {
			m.engine.signalCompletion()
		}
	})
	p.gain.Left, p.gain.Right = m.volume, m.volume
	m.current = p
	m.playing.Store(true)
	speaker.Play(p.ctrl)
	return nil
}

func (m *music) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.setPaused(true)
	}
}

func (m *music) Unpause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.setPaused(false)
	}
}

func (m *music) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = v
	if m.current != nil {
		m.current.setVolume(v, v)
	}
}

func (m *music) Active() bool {
	return m.playing.Load()
}

func (m *music) unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadLocked()
}

func (m *music) unloadLocked() {
	m.playing.Store(false)
	if m.current != nil {
		m.current.stop()
		m.current = nil
	}
	if m.source != nil {
		m.source.Close()
		m.source = nil
	}
	m.loaded = false
}
