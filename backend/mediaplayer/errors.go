package mediaplayer

import (
	"errors"
	"fmt"
)

var (
	ErrEndpointVanished      = errors.New("endpoint vanished")
	ErrEndpointCommandFailed = errors.New("endpoint command failed")
	ErrNoVolumeBackend       = errors.New("no volume backend")
	ErrArtFetchFailed        = errors.New("art fetch failed")
	ErrMixerUnavailable      = errors.New("mixer unavailable")
	ErrNoPlayer              = errors.New("no such player")
	ErrUnsupportedArtURL     = errors.New("unsupported art url")
)

// CommandError reports a failed user command against one logical player.
type CommandError struct {
	Op  string
	Key ApplicationKey
	Err error
}

func (e *CommandError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Key, e.Err.Error())
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
