// Package audio owns effect and music playback: a single current effect channel,
// the background playlist and the foreground track path.
package audio

// Engine is the audio output capability. Implementations must be safe for use
// from multiple goroutines.
type Engine interface {
	// LoadSound decodes a sound file fully into memory.
	LoadSound(path string) (Sound, error)

	// Music returns the single streamed music slot shared by background
	// tracks and foreground tracks.
	Music() Music

	// Completions signals each time loaded music plays to its end.
	Completions() <-chan struct{}

	Close() error
}

// Sound is a decoded effect buffer.
type Sound interface {
	// Play starts a new playback of the buffer on its own channel.
	Play() Channel

	// Stop stops every channel currently playing this sound.
	Stop()
}

// Channel is one playback of a Sound.
type Channel interface {
	Stop()
	Pause()
	Unpause()
	SetVolume(left, right float64)

	// Done reports whether the channel finished or was stopped.
	Done() bool
}

// Music is the streamed music slot.
type Music interface {
	Load(path string) error
	Play() error
	Pause()
	Unpause()
	SetVolume(v float64)

	// Active reports whether music is playing or paused.
	Active() bool
}
