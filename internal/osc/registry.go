// Package osc carries inbound commands over OSC/UDP and routes them to
// registered handlers.
package osc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	goosc "github.com/hypebeast/go-osc/osc"

	"expander-service/internal/logger"
)

// Command results reported to the Observer.
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultDecodeError = "decode_error"
	ResultUnknown     = "unknown"
)

type HandlerFunc func(args Args) error

type Observer interface {
	CommandHandled(route, result string)
}

// Registry maps routes to handlers. It implements the go-osc Dispatcher so the
// server can hand it every received packet; each message runs to completion on
// the calling goroutine and is tracked until Close returns.
type Registry struct {
	logger   *logger.Logger
	observer Observer

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	closed   bool
	inflight sync.WaitGroup
}

var _ goosc.Dispatcher = (*Registry)(nil)

func NewRegistry(l *logger.Logger) *Registry {
	return &Registry{
		logger:   l,
		handlers: make(map[string]HandlerFunc),
	}
}

// SetObserver must be called before the first dispatch.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

func (r *Registry) Register(route string, h HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[route]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, route)
	}
	r.handlers[route] = h
	return nil
}

func (r *Registry) MustRegister(route string, h HandlerFunc) {
	if err := r.Register(route, h); err != nil {
		panic(err)
	}
}

func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]string, 0, len(r.handlers))
	for route := range r.handlers {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

// Dispatch handles a message or every message of a (nested) bundle. Errors are
// logged, never returned to the transport.
func (r *Registry) Dispatch(packet goosc.Packet) {
	switch p := packet.(type) {
	case *goosc.Message:
		if err := r.Handle(p); err != nil && !errors.Is(err, ErrUnknownRoute) {
			r.logger.Warnf("Command %s failed: %v", p.Address, err)
		}
	case *goosc.Bundle:
		for _, msg := range p.Messages {
			r.Dispatch(msg)
		}
		for _, b := range p.Bundles {
			r.Dispatch(b)
		}
	default:
		r.logger.Debugf("Ignoring packet of type %T", packet)
	}
}

// Handle runs the handler registered for msg.Address.
func (r *Registry) Handle(msg *goosc.Message) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	h, ok := r.handlers[msg.Address]
	if ok {
		r.inflight.Add(1)
	}
	r.mu.RUnlock()

	if !ok {
		r.logger.Debugf("Unrecognized message %s %v", msg.Address, msg.Arguments)
		r.observe(msg.Address, ResultUnknown)
		return fmt.Errorf("%w: %s", ErrUnknownRoute, msg.Address)
	}
	defer r.inflight.Done()

	r.logger.Debugf("Received %s %v", msg.Address, msg.Arguments)
	err := h(Args(msg.Arguments))
	switch {
	case err == nil:
		r.observe(msg.Address, ResultOK)
	case errors.Is(err, ErrDecode):
		r.observe(msg.Address, ResultDecodeError)
	default:
		r.observe(msg.Address, ResultError)
	}
	return err
}

func (r *Registry) observe(route, result string) {
	if r.observer == nil {
		return
	}
	if result == ResultUnknown {
		route = "unknown"
	}
	r.observer.CommandHandled(route, result)
}

// Close rejects further dispatches and waits for in-flight handlers.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.inflight.Wait()
}
