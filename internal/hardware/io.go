package hardware

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"

	"expander-service/internal/logger"
	"expander-service/internal/types"
)

// ErrNoHardware is returned by Initialize when the GPIO chip cannot be opened.
var ErrNoHardware = errors.New("no digital I/O hardware detected")

type Config struct {
	Chip        string
	InputLines  []int
	OutputLines []int
	ActiveLow   bool
	EdgeQueue   int
}

// DigitalIO drives the expander's digital inputs and outputs through the GPIO
// character device. Input edges are delivered on Edges() once Activate is called.
type DigitalIO struct {
	logger   *logger.Logger
	cfg      Config
	chip     *gpiocdev.Chip
	inputs   []*gpiocdev.Line
	outputs  []*gpiocdev.Line
	channels map[int]int // line offset -> input channel
	edges    chan types.InputEdge
	active   atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
}

func NewDigitalIO(cfg Config, l *logger.Logger) *DigitalIO {
	if cfg.Chip == "" {
		cfg.Chip = DefaultChip
	}
	if len(cfg.InputLines) == 0 {
		cfg.InputLines = DefaultInputLines
	}
	if len(cfg.OutputLines) == 0 {
		cfg.OutputLines = DefaultOutputLines
	}
	if cfg.EdgeQueue <= 0 {
		cfg.EdgeQueue = DefaultEdgeQueue
	}

	channels := make(map[int]int, len(cfg.InputLines))
	for ch, offset := range cfg.InputLines {
		channels[offset] = ch
	}

	return &DigitalIO{
		logger:   l,
		cfg:      cfg,
		channels: channels,
		edges:    make(chan types.InputEdge, cfg.EdgeQueue),
		stopChan: make(chan struct{}),
	}
}

func (io *DigitalIO) Initialize() error {
	io.logger.Infof("Initializing digital I/O on %s", io.cfg.Chip)

	chip, err := gpiocdev.NewChip(io.cfg.Chip, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return fmt.Errorf("%w: failed to open GPIO chip %s: %v", ErrNoHardware, io.cfg.Chip, err)
	}
	io.chip = chip

	levelOpts := []gpiocdev.LineReqOption{}
	if io.cfg.ActiveLow {
		levelOpts = append(levelOpts, gpiocdev.AsActiveLow)
	}

	for ch, offset := range io.cfg.OutputLines {
		opts := append([]gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}, levelOpts...)
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			io.Cleanup()
			return fmt.Errorf("failed to request output line %d: %w", offset, err)
		}
		io.outputs = append(io.outputs, line)
		io.logger.Debugf("Configured output %d: line=%d", ch, offset)
	}

	for ch, offset := range io.cfg.InputLines {
		opts := append([]gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(io.handleEvent),
		}, levelOpts...)
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			io.Cleanup()
			return fmt.Errorf("failed to request input line %d: %w", offset, err)
		}
		io.inputs = append(io.inputs, line)
		io.logger.Debugf("Configured input %d: line=%d", ch, offset)
	}

	return nil
}

// handleEvent runs on the gpiocdev watcher goroutine.
func (io *DigitalIO) handleEvent(evt gpiocdev.LineEvent) {
	if !io.active.Load() {
		return
	}

	ch, ok := io.channels[evt.Offset]
	if !ok {
		io.logger.Warnf("Edge on unknown line %d", evt.Offset)
		return
	}

	dir := types.DirectionOff
	if evt.Type == gpiocdev.LineEventRisingEdge {
		dir = types.DirectionOn
	}
	io.logger.Debugf("Edge: channel=%d value=%d", ch, 1-dir)

	select {
	case io.edges <- types.InputEdge{Channel: ch, Direction: dir}:
	case <-io.stopChan:
	}
}

// Activate starts delivering input edges.
func (io *DigitalIO) Activate() {
	io.active.Store(true)
	io.logger.Infof("Input edge delivery activated")
}

// Deactivate stops delivering input edges; queued edges stay readable.
func (io *DigitalIO) Deactivate() {
	io.active.Store(false)
	io.stopOnce.Do(func() { close(io.stopChan) })
	io.logger.Infof("Input edge delivery deactivated")
}

func (io *DigitalIO) Edges() <-chan types.InputEdge {
	return io.edges
}

func (io *DigitalIO) ReadInput(channel int) (int, error) {
	io.mu.RLock()
	defer io.mu.RUnlock()

	if channel < 0 || channel >= len(io.inputs) {
		return 0, fmt.Errorf("unknown input channel: %d", channel)
	}
	v, err := io.inputs[channel].Value()
	if err != nil {
		return 0, fmt.Errorf("failed to read input %d: %w", channel, err)
	}
	return v, nil
}

func (io *DigitalIO) WriteOutput(channel int, value int) error {
	io.mu.RLock()
	defer io.mu.RUnlock()

	if channel < 0 || channel >= len(io.outputs) {
		return fmt.Errorf("unknown output channel: %d", channel)
	}
	if value != 0 {
		value = 1
	}
	if err := io.outputs[channel].SetValue(value); err != nil {
		return fmt.Errorf("failed to set output %d=%d: %w", channel, value, err)
	}

	io.logger.Infof("Output %d set to %d", channel, value)
	return nil
}

func (io *DigitalIO) Cleanup() {
	io.active.Store(false)
	io.stopOnce.Do(func() { close(io.stopChan) })

	io.mu.Lock()
	defer io.mu.Unlock()

	for ch, line := range io.inputs {
		line.Close()
		io.logger.Debugf("Closed input line %d", ch)
	}
	io.inputs = nil

	for ch, line := range io.outputs {
		line.Close()
		io.logger.Debugf("Closed output line %d", ch)
	}
	io.outputs = nil

	if io.chip != nil {
		io.chip.Close()
		io.chip = nil
	}

	io.logger.Infof("Digital I/O cleanup complete")
}
