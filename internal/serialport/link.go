package serialport

import (
	"fmt"
	"sync"
	"time"

	"expander-service/internal/logger"
	"expander-service/internal/telemetry"
)

// Link frames inbound telemetry lines and serializes outbound commands over
// one port. Reads come from the event loop; writes may come from any goroutine.
type Link struct {
	logger *logger.Logger
	port   Port
	lines  *telemetry.LineReader
	budget time.Duration

	mu     sync.Mutex
	closed bool
}

// NewLink wraps an open port and sends the startup handshake.
func NewLink(port Port, readTimeout, budget time.Duration, l *logger.Logger) (*Link, error) {
	link := &Link{
		logger: l,
		port:   port,
		lines:  telemetry.NewLineReader(port, readTimeout),
		budget: budget,
	}
	if err := link.WriteCommand(telemetry.Handshake); err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	return link, nil
}

// OpenLink opens the named device and returns a ready Link.
func OpenLink(name string, baud int, readTimeout, budget time.Duration, l *logger.Logger) (*Link, error) {
	port, err := Open(name, baud, readTimeout)
	if err != nil {
		return nil, err
	}
	link, err := NewLink(port, readTimeout, budget, l)
	if err != nil {
		port.Close()
		return nil, err
	}
	l.Infof("Opened %s at %d baud", DevicePath(name), baud)
	return link, nil
}

// ReadLine returns the next line within the configured budget; "" means no data.
func (l *Link) ReadLine() (string, error) {
	return l.lines.ReadLine(l.budget)
}

func (l *Link) WriteCommand(cmd string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("serial link closed")
	}
	l.logger.Debugf("Serial write %q", cmd)
	if _, err := l.port.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("serial write failed: %w", err)
	}
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}
