package audio

import "errors"

var (
	// ErrNoBackgroundTracks is returned when the background playlist is empty.
	ErrNoBackgroundTracks = errors.New("audio: no background tracks")

	// ErrSoundUnavailable is returned when an effect cannot be loaded.
	ErrSoundUnavailable = errors.New("audio: sound unavailable")

	// ErrClosed is returned by playback operations after Close.
	ErrClosed = errors.New("audio: controller closed")
)
