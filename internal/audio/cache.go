package audio

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"expander-service/internal/logger"
)

// EffectCache lazily loads effects by case-insensitive file name. Entries are
// never evicted; failed loads are not cached and are retried on the next request.
type EffectCache struct {
	logger *logger.Logger
	engine Engine
	dir    string

	mu     sync.RWMutex
	sounds map[string]Sound
}

func NewEffectCache(engine Engine, dir string, l *logger.Logger) *EffectCache {
	return &EffectCache{
		logger: l,
		engine: engine,
		dir:    dir,
		sounds: make(map[string]Sound),
	}
}

func (c *EffectCache) Load(file string) (Sound, error) {
	key := strings.ToLower(file)

	c.mu.RLock()
	sound, ok := c.sounds[key]
	c.mu.RUnlock()
	if ok {
		return sound, nil
	}

	path := filepath.Join(c.dir, file)
	c.logger.Infof("Loading %s", path)
	sound, err := c.engine.LoadSound(path)
	if err != nil {
		c.logger.Warnf("Cannot load sound %s: %v", file, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrSoundUnavailable, file, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sounds[key]; ok {
		return existing, nil
	}
	c.sounds[key] = sound
	return sound, nil
}

func (c *EffectCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sounds)
}
