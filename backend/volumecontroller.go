package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/charlievieth/strcase"
	"github.com/dweymouth/mediatray/backend/mediaplayer"
)

// PulseAudio allows stream volumes up to 150%.
const maxMixerVolume = 1.5

const defaultMixerListTimeout = 750 * time.Millisecond

// PlayerLookup resolves an ApplicationKey to its current LogicalPlayer.
type PlayerLookup interface {
	LookupPlayer(key mediaplayer.ApplicationKey) (mediaplayer.LogicalPlayer, bool)
}

// The VolumeController routes volume changes either to a player's own volume
// control or, for players that have none (mostly browsers), to the system mixer
// stream that appears to belong to the player.
type VolumeController struct {
	// Called (at most once) when the mixer turns out to be unavailable.
	OnMixerUnavailable func(error)
	// Bound on one stream listing. Zero means defaultMixerListTimeout.
	ListTimeout time.Duration

	players     PlayerLookup
	commander   endpointCommander
	mixer       mediaplayer.MixerAdapter // may be nil
	mixerWarned  atomic.Bool
	mixerFailing atomic.Bool
}

type endpointCommander interface {
	Command(ctx context.Context, id mediaplayer.EndpointID, cmd mediaplayer.Command) error
}

func NewVolumeController(players PlayerLookup, commander endpointCommander, mixer mediaplayer.MixerAdapter) *VolumeController {
	return &VolumeController{players: players, commander: commander, mixer: mixer}
}

// SetVolume applies level (0.0-1.0) to the player identified by key.
// A successful call does not update any cached state; the new level becomes
// visible once the next reconciliation tick observes it.
func (v *VolumeController) SetVolume(ctx context.Context, key mediaplayer.ApplicationKey, level float64) error {
	p, ok := v.players.LookupPlayer(key)
	if !ok {
		return mediaplayer.ErrNoPlayer
	}

	if p.Winner.SupportsOwnVolume {
		cmd := mediaplayer.Command{Kind: mediaplayer.CommandSetVolume, Volume: clampFloat(level, 0, 1)}
		if err := v.commander.Command(ctx, p.Winner.ID, cmd); err != nil {
			return fmt.Errorf("%w: %w", mediaplayer.ErrEndpointCommandFailed, err)
		}
		return nil
	}

	streams, err := v.listStreams(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", mediaplayer.ErrNoVolumeBackend, err)
	}
	stream, ok := MatchMixerStream(streams, p)
	if !ok {
		return mediaplayer.ErrNoVolumeBackend
	}
	if err := v.mixer.SetStreamVolume(ctx, stream.Handle, clampFloat(level, 0, maxMixerVolume)); err != nil {
		return fmt.Errorf("%w: %w", mediaplayer.ErrEndpointCommandFailed, err)
	}
	return nil
}

// ResolvedVolume is the volume shown for a player along with where it came from.
type ResolvedVolume struct {
	Level  float64
	Source mediaplayer.VolumeSource
}

// ResolveVolumes reports the current volume of each player, reading the mixer
// at most once for all players that lack their own volume control.
func (v *VolumeController) ResolveVolumes(ctx context.Context, players []mediaplayer.LogicalPlayer) map[mediaplayer.ApplicationKey]ResolvedVolume {
	vols := make(map[mediaplayer.ApplicationKey]ResolvedVolume, len(players))
	var streams []mediaplayer.MixerStream
	var queried bool
	for _, p := range players {
		if p.Winner.SupportsOwnVolume && p.Winner.HasOwnVolume {
			vols[p.Key] = ResolvedVolume{Level: p.Winner.OwnVolume, Source: mediaplayer.VolumeSourceOwn}
			continue
		}
		if !queried {
			queried = true
			s, err := v.listStreams(ctx)
			v.logListResult(err)
			streams = s
		}
		if s, ok := MatchMixerStream(streams, p); ok {
			vols[p.Key] = ResolvedVolume{Level: s.Volume, Source: mediaplayer.VolumeSourceMixer}
		} else {
			vols[p.Key] = ResolvedVolume{Source: mediaplayer.VolumeSourceNone}
		}
	}
	return vols
}

func (v *VolumeController) listStreams(ctx context.Context) ([]mediaplayer.MixerStream, error) {
	if v.mixer == nil {
		v.reportMixerUnavailable(mediaplayer.ErrMixerUnavailable)
		return nil, mediaplayer.ErrMixerUnavailable
	}
	timeout := v.ListTimeout
	if timeout <= 0 {
		timeout = defaultMixerListTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	streams, err := v.mixer.ListStreams(ctx)
	if err != nil {
		streams = nil
	}
	if errors.Is(err, mediaplayer.ErrMixerUnavailable) {
		v.reportMixerUnavailable(err)
	}
	return streams, err
}

// logListResult logs the first of a run of listing failures and the recovery.
func (v *VolumeController) logListResult(err error) {
	switch {
	case err == nil:
		if v.mixerFailing.Swap(false) {
			log.Println("mixer stream listing recovered")
		}
	case errors.Is(err, mediaplayer.ErrMixerUnavailable):
	default:
		if !v.mixerFailing.Swap(true) {
			log.Printf("failed to list mixer streams: %v", err)
		}
	}
}

func (v *VolumeController) reportMixerUnavailable(err error) {
	if v.mixerWarned.CompareAndSwap(false, true) {
		log.Printf("system mixer unavailable, volume control limited to players' own: %v", err)
		if v.OnMixerUnavailable != nil {
			v.OnMixerUnavailable(err)
		}
	}
}

// MatchMixerStream returns the first stream whose application name and the
// player's key (or identity) contain one another, ignoring case.
// Browsers name their streams after the process, not the tab, so this is deliberately loose.
func MatchMixerStream(streams []mediaplayer.MixerStream, p mediaplayer.LogicalPlayer) (mediaplayer.MixerStream, bool) {
	names := []string{string(p.Key)}
	if p.Winner.Identity != "" {
		names = append(names, p.Winner.Identity)
	}
	for _, s := range streams {
		if s.ApplicationName == "" {
			continue
		}
		for _, n := range names {
			if n == "" {
				continue
			}
			if strcase.Contains(s.ApplicationName, n) || strcase.Contains(n, s.ApplicationName) {
				return s, true
			}
		}
	}
	return mediaplayer.MixerStream{}, false
}

func clampFloat(f, min, max float64) float64 {
	if f < min {
		f = min
	} else if f > max {
		f = max
	}
	return f
}
