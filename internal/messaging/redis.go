package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"expander-service/internal/events"
	"expander-service/internal/logger"
	"expander-service/internal/types"

	"github.com/redis/go-redis/v9"
)

const (
	StateHash     = "expander"
	StateChannel  = "expander"
	EventStream   = "events:expander"
	CommandList   = "expander:command"
	streamMaxLen  = 1000
	brpopInterval = time.Second
)

type Callbacks struct {
	CommandCallback func(string) error // "<route> [arg ...]"
}

// RedisClient mirrors expander state into Redis and accepts commands pushed
// onto a list.
type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	listenCtx    context.Context
	listenCancel context.CancelFunc
}

var _ events.Mirror = (*RedisClient)(nil)

func NewRedisClient(host string, port int, l *logger.Logger, callbacks Callbacks) *RedisClient {
	return newRedisClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", host, port),
		DB:   0,
	}, l, callbacks)
}

func newRedisClient(opts *redis.Options, l *logger.Logger, callbacks Callbacks) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	listenCtx, listenCancel := context.WithCancel(ctx)
	return &RedisClient{
		client:       redis.NewClient(opts),
		callbacks:    callbacks,
		logger:       l,
		ctx:          ctx,
		cancel:       cancel,
		listenCtx:    listenCtx,
		listenCancel: listenCancel,
	}
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Warnf("Redis connection failed: %v", err)
		return fmt.Errorf("redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")

	// Nothing survives a restart; start from an empty mirror.
	if err := r.client.Del(r.ctx, StateHash).Err(); err != nil {
		r.logger.Warnf("Failed to reset %s hash: %v", StateHash, err)
	}
	return nil
}

// StartListening starts the command list listener.
func (r *RedisClient) StartListening() {
	if r.callbacks.CommandCallback == nil {
		return
	}
	r.wg.Add(1)
	go r.listCommandListener(CommandList, r.callbacks.CommandCallback)
}

// StopListening stops the command list listener and waits for the command
// it may be running. The state mirror keeps working until Close.
func (r *RedisClient) StopListening() {
	r.listenCancel()
	r.waitListeners()
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.listenCtx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
		}

		// BRPOP with a short timeout so cancellation is noticed
		result, err := r.client.BRPop(r.listenCtx, brpopInterval, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || r.listenCtx.Err() != nil {
				r.logger.Infof("Context cancelled, exiting %s listener", key)
				return
			}
			r.logger.Warnf("Error reading from %s list: %v", key, err)
			select {
			case <-r.listenCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if len(result) >= 2 { // BRPOP returns [key, value]
			value := result[1]
			r.logger.Debugf("Received command from %s: %s", key, value)
			if err := handler(value); err != nil {
				r.logger.Warnf("Error handling %s command %q: %v", key, value, err)
			}
		}
	}
}

// publishHashSet atomically updates a hash field and publishes the field name
func (r *RedisClient) publishHashSet(field string, value interface{}) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, StateHash, field, value)
	pipe.Publish(r.ctx, StateChannel, field)
	_, err := pipe.Exec(r.ctx)
	return err
}

// MirrorEvent records a sent event in the state hash and the event stream.
func (r *RedisClient) MirrorEvent(ev events.Event) error {
	field, value := stateField(ev)

	pipe := r.client.Pipeline()
	if field != "" {
		pipe.HSet(r.ctx, StateHash, field, value)
		pipe.Publish(r.ctx, StateChannel, field)
	}
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: EventStream,
		MaxLen: streamMaxLen,
		Values: []interface{}{
			"id", ev.CorrelationID,
			"address", ev.Address,
			"args", joinArgs(ev.Args),
			"ts", time.Now().UnixMilli(),
		},
	})
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to mirror %s: %w", ev.Address, err)
	}
	return nil
}

func stateField(ev events.Event) (string, interface{}) {
	switch ev.Address {
	case events.AddrInput:
		if len(ev.Args) == 2 {
			return fmt.Sprintf("input:%v", ev.Args[0]), ev.Args[1]
		}
	case events.AddrMotorFeedback:
		if len(ev.Args) == 2 {
			return fmt.Sprintf("motor:%v", ev.Args[0]), ev.Args[1]
		}
	case events.AddrBackgroundStart:
		if len(ev.Args) == 1 {
			return "audio:background", ev.Args[0]
		}
	}
	return "", nil
}

func joinArgs(args []interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}

func (r *RedisClient) SetPlaybackMode(mode types.PlaybackMode) error {
	r.logger.Debugf("Setting playback mode: %s", mode)
	if err := r.publishHashSet("audio:mode", string(mode)); err != nil {
		r.logger.Warnf("Failed to set playback mode: %v", err)
		return err
	}
	return nil
}

// getHashField reads a field of the state hash; a missing field reads as "".
func (r *RedisClient) getHashField(field string) (string, error) {
	value, err := r.client.HGet(r.ctx, StateHash, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get hash field %s from %s: %w", field, StateHash, err)
	}
	return value, nil
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()
	r.waitListeners()
	return r.client.Close()
}

// waitListeners waits for listener goroutines, giving up after five seconds.
func (r *RedisClient) waitListeners() {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Warnf("Timeout waiting for Redis goroutines to finish")
	}
}
