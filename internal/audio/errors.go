package audio

import (
	"errors"
	"fmt"
)

// ErrNoPlayer indicates no playback command was configured or found on PATH.
var ErrNoPlayer = errors.New("no audio player available")

// AudioLoadError reports a sound asset that is missing or cannot be read.
//
//nolint:revive // AudioLoadError is the established name for this failure.
type AudioLoadError struct {
	Path string
	Err  error
}

func (e *AudioLoadError) Error() string {
	return fmt.Sprintf("load sound %q: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying filesystem error.
func (e *AudioLoadError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is checks against an empty *AudioLoadError.
func (e *AudioLoadError) Is(target error) bool {
	_, ok := target.(*AudioLoadError)
	return ok
}

// PlaybackDeviceError reports that the playback process could not be started.
type PlaybackDeviceError struct {
	Player string
	Err    error
}

func (e *PlaybackDeviceError) Error() string {
	if e.Player == "" {
		return fmt.Sprintf("start playback: %v", e.Err)
	}
	return fmt.Sprintf("start playback with %s: %v", e.Player, e.Err)
}

// Unwrap exposes the underlying process error.
func (e *PlaybackDeviceError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is checks against an empty *PlaybackDeviceError.
func (e *PlaybackDeviceError) Is(target error) bool {
	_, ok := target.(*PlaybackDeviceError)
	return ok
}
