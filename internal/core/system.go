package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/prometheus/client_golang/prometheus"

	"expander-service/internal/audio"
	"expander-service/internal/audio/beepengine"
	"expander-service/internal/config"
	"expander-service/internal/events"
	"expander-service/internal/hardware"
	"expander-service/internal/input"
	"expander-service/internal/logger"
	"expander-service/internal/messaging"
	"expander-service/internal/metrics"
	"expander-service/internal/osc"
	"expander-service/internal/serialport"
	"expander-service/internal/telemetry"
	"expander-service/internal/types"
)

// ExpanderSystem wires the command server, audio playback, digital inputs,
// serial telemetry and outbound events together and runs the event loop.
type ExpanderSystem struct {
	cfg    *config.Config
	logger *logger.Logger

	io          HardwareIO
	serial      SerialLink
	serialDown  bool // owned by the event loop
	audio       AudioController
	engine      audio.Engine
	completions <-chan struct{}
	publisher   EventPublisher
	debouncer   *input.Debouncer
	registry    *osc.Registry
	server      *osc.Server
	redis       MessagingClient
	metrics     *metrics.Collector
	metricsSrv  *metrics.Server

	observer Observer

	quit         chan struct{}
	quitOnce     sync.Once
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func NewExpanderSystem(cfg *config.Config, l *logger.Logger) *ExpanderSystem {
	return &ExpanderSystem{
		cfg:      cfg,
		logger:   l,
		registry: osc.NewRegistry(l.WithTag("osc")),
		quit:     make(chan struct{}),
	}
}

// Start brings up every component. Only the audio engine and the command
// listener are required; serial, GPIO and Redis degrade to disabled.
func (s *ExpanderSystem) Start(ctx context.Context) error {
	s.logger.Infof("Starting expander system")
	ctx, s.cancel = context.WithCancel(ctx)

	s.startMetrics()
	s.observer = s.metrics

	engine, err := beepengine.New(beepengine.Config{
		SampleRate: s.cfg.Audio.SampleRate,
		Buffer:     s.cfg.Audio.Buffer,
	}, s.logger.WithTag("audio"))
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	s.engine = engine
	s.completions = engine.Completions()

	publisher := events.NewPublisher(goosc.NewClient(s.cfg.Server.Host, s.cfg.Server.Port), s.logger.WithTag("events"))
	publisher.SetObserver(s.metrics)
	s.publisher = publisher
	s.logger.Infof("Sending events to %s", s.cfg.Server.Addr())

	if s.cfg.Redis.Enabled {
		s.startRedis(publisher)
	}

	if err := s.startAudio(ctx, engine, publisher); err != nil {
		return err
	}

	if s.cfg.GPIO.Enabled {
		s.startHardware()
	} else {
		s.logger.Infof("GPIO disabled")
	}

	if s.cfg.Serial.Port != "" {
		link, err := serialport.OpenLink(s.cfg.Serial.Port, s.cfg.Serial.Baud,
			s.cfg.Serial.ReadTimeout, s.cfg.Serial.LineBudget, s.logger.WithTag("serial"))
		if err != nil {
			s.logger.Warnf("Serial link unavailable, motor telemetry disabled: %v", err)
		} else {
			s.serial = link
		}
	} else {
		s.logger.Infof("No serial port configured")
	}

	s.registry.SetObserver(s.metrics)
	s.registerCommands()
	s.server = osc.NewServer(s.cfg.Listen.Addr(), s.registry, s.logger.WithTag("osc"))
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start command server: %w", err)
	}
	s.logger.Infof("Accepting %d command routes on %s", len(s.registry.Routes()), s.server.LocalAddr())
	s.logger.Debugf("Routes: %s", strings.Join(s.registry.Routes(), " "))

	if s.redis != nil {
		s.redis.StartListening()
	}

	s.startInputs(ctx)

	if err := s.publisher.Init(); err != nil {
		s.logger.Warnf("Failed to send init event: %v", err)
	}
	s.logger.Infof("Ready!")
	return nil
}

func (s *ExpanderSystem) startMetrics() {
	if !s.cfg.Metrics.Enabled {
		s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
		return
	}

	s.metrics = metrics.New()
	s.metricsSrv = metrics.NewServer(s.cfg.Metrics.Listen, prometheus.DefaultGatherer, s.logger.WithTag("metrics"))
	if err := s.metricsSrv.Start(); err != nil {
		s.logger.Warnf("Metrics server unavailable: %v", err)
		s.metricsSrv = nil
		return
	}
	s.logger.Infof("Metrics at http://%s/metrics", s.metricsSrv.Addr())
}

func (s *ExpanderSystem) startRedis(publisher *events.Publisher) {
	client := messaging.NewRedisClient(s.cfg.Redis.Host, s.cfg.Redis.Port, s.logger.WithTag("redis"), messaging.Callbacks{
		CommandCallback: s.handleCommandLine,
	})
	if err := client.Connect(); err != nil {
		s.logger.Warnf("Redis mirror disabled: %v", err)
		client.Close()
		return
	}
	s.redis = client
	publisher.SetMirror(client)
}

func (s *ExpanderSystem) startAudio(ctx context.Context, engine audio.Engine, publisher audio.Publisher) error {
	bgDir := filepath.Join(s.cfg.Sounds.Root, s.cfg.Sounds.BackgroundDir)
	tracks, err := audio.DiscoverTracks(bgDir)
	if err != nil {
		s.logger.Warnf("No background tracks in %s: %v", bgDir, err)
	}
	s.logger.Infof("Found %d background tracks", len(tracks))

	controller := audio.NewController(engine, publisher, audio.NewPlaylist(tracks, nil), audio.Config{
		Root:             s.cfg.Sounds.Root,
		BackgroundDir:    s.cfg.Sounds.BackgroundDir,
		BackgroundVolume: s.cfg.Audio.BackgroundVolume,
	}, s.logger.WithTag("audio"))
	controller.SetObserver(&playbackObserver{metrics: s.metrics, redis: s.redis, logger: s.logger})
	if err := controller.Start(ctx); err != nil {
		return err
	}
	s.audio = controller
	return nil
}

func (s *ExpanderSystem) startHardware() {
	dio := hardware.NewDigitalIO(hardware.Config{
		Chip:        s.cfg.GPIO.Chip,
		InputLines:  s.cfg.GPIO.Inputs,
		OutputLines: s.cfg.GPIO.Outputs,
		ActiveLow:   s.cfg.GPIO.ActiveLow,
		EdgeQueue:   s.cfg.Input.EdgeQueue,
	}, s.logger.WithTag("gpio"))

	if err := dio.Initialize(); err != nil {
		s.logger.Warnf("Digital I/O unavailable: %v", err)
		return
	}
	s.io = dio
}

// startInputs publishes the initial input levels, then starts the debounce
// worker on the hardware edge queue.
func (s *ExpanderSystem) startInputs(ctx context.Context) {
	if s.io == nil {
		return
	}

	s.debouncer = input.New(hardware.InputCount, s.io, s.publishInput, s.logger.WithTag("input"),
		input.WithWindow(s.cfg.Input.Debounce),
		input.WithObserver(s.metrics))
	s.debouncer.Prime()
	s.io.Activate()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.debouncer.Run(ctx, s.io.Edges())
	}()
}

func (s *ExpanderSystem) publishInput(channel, value int) error {
	return s.publisher.Input(channel, value)
}

// Run is the event loop. It returns when ctx is cancelled or a quit command
// arrives.
func (s *ExpanderSystem) Run(ctx context.Context) {
	idle := s.cfg.Loop.Idle
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			s.logger.Infof("Quit requested")
			return
		case <-s.completions:
			s.handleCompletion()
		default:
		}

		if s.serial != nil && !s.serialDown {
			s.pollSerial()
		} else {
			select {
			case <-ctx.Done():
				return
			case <-s.quit:
				s.logger.Infof("Quit requested")
				return
			case <-s.completions:
				s.handleCompletion()
			case <-time.After(idle):
			}
		}

		if s.debouncer != nil {
			s.debouncer.Reconcile()
		}
	}
}

func (s *ExpanderSystem) handleCompletion() {
	if err := s.audio.HandleCompletion(); err != nil {
		s.logger.Warnf("Failed to handle music end: %v", err)
	}
}

func (s *ExpanderSystem) pollSerial() {
	line, err := s.serial.ReadLine()
	if line != "" {
		s.handleSerialLine(line)
	}
	if err != nil {
		s.logger.Errorf("Serial link failed, motor telemetry disabled: %v", err)
		s.serial.Close()
		s.serialDown = true
	}
}

func (s *ExpanderSystem) handleSerialLine(line string) {
	res := telemetry.Decode(line)
	s.observeSerial(res)

	switch res.Kind {
	case telemetry.KindMotor:
		s.logger.Debugf("Motor %d: %s", res.Feedback.Channel, res.Feedback.Wire())
		if err := s.publisher.MotorFeedback(res.Feedback); err != nil {
			s.logger.Warnf("Failed to publish motor feedback: %v", err)
		}
	case telemetry.KindMalformed:
		s.logger.Warnf("Malformed motor feedback %q", res.Payload)
	case telemetry.KindAck:
		s.logger.Debugf("Ack %s", res.Payload)
	case telemetry.KindDebug:
		s.logger.Infof("Debug: %s", res.Payload)
	case telemetry.KindForeign:
		s.logger.Debugf("Ignoring serial line %q", res.Payload)
	}
}

func (s *ExpanderSystem) observeSerial(res telemetry.Result) {
	if s.observer == nil {
		return
	}
	s.observer.SerialLine(res.Kind.String())
	if res.Kind == telemetry.KindMotor {
		s.observer.MotorFeedbackReceived(res.Feedback.State)
	}
}

// RequestQuit stops the event loop; safe to call more than once.
func (s *ExpanderSystem) RequestQuit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Shutdown first stops accepting commands and waits for the ones in flight,
// then tears down in a fixed order: input edges, serial link, audio, command
// server, Redis, metrics.
func (s *ExpanderSystem) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *ExpanderSystem) shutdown() {
	s.logger.Infof("Shutting down expander system")

	if s.redis != nil {
		s.redis.StopListening()
	}
	s.registry.Close()

	if s.io != nil {
		s.io.Deactivate()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.io != nil {
		s.io.Cleanup()
	}

	if s.serial != nil {
		if err := s.serial.Close(); err != nil {
			s.logger.Warnf("Failed to close serial link: %v", err)
		}
	}

	if s.audio != nil {
		s.audio.Close()
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Warnf("Failed to close audio engine: %v", err)
		}
	}

	if s.server != nil {
		if err := s.server.Close(); err != nil {
			s.logger.Warnf("Failed to close command server: %v", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warnf("Failed to close Redis client: %v", err)
		}
	}

	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.logger.Warnf("Failed to stop metrics server: %v", err)
		}
	}

	s.logger.Infof("Shutdown complete")
}

// playbackObserver fans playback changes out to metrics and the Redis mirror.
type playbackObserver struct {
	metrics *metrics.Collector
	redis   MessagingClient
	logger  *logger.Logger
}

func (o *playbackObserver) BackgroundTrackStarted(track string) {
	if o.metrics != nil {
		o.metrics.BackgroundTrackStarted(track)
	}
}

func (o *playbackObserver) ModeChanged(mode types.PlaybackMode) {
	if o.metrics != nil {
		o.metrics.ModeChanged(mode)
	}
	if o.redis != nil {
		if err := o.redis.SetPlaybackMode(mode); err != nil {
			o.logger.Warnf("Failed to mirror playback mode: %v", err)
		}
	}
}
