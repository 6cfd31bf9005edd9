package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
)

func ownVolumePlayer(key string, vol float64) mediaplayer.LogicalPlayer {
	s := snap("org.mpris.MediaPlayer2."+key, key, mediaplayer.Playing)
	s.SupportsOwnVolume = true
	s.HasOwnVolume = true
	s.OwnVolume = vol
	return mediaplayer.LogicalPlayer{Key: s.Key, Winner: s, Endpoints: []mediaplayer.EndpointID{s.ID}}
}

func mixerOnlyPlayer(key, identity string) mediaplayer.LogicalPlayer {
	s := snap("org.mpris.MediaPlayer2."+key, key, mediaplayer.Playing)
	s.Identity = identity
	return mediaplayer.LogicalPlayer{Key: s.Key, Winner: s, Endpoints: []mediaplayer.EndpointID{s.ID}}
}

func TestSetVolume_OwnVolume(t *testing.T) {
	vlc := ownVolumePlayer("vlc", 0.5)
	ep := newFakeEndpoints(vlc.Winner)
	mixer := &fakeMixer{}
	v := NewVolumeController(fakeLookup{"vlc": vlc}, ep, mixer)

	if err := v.SetVolume(context.Background(), "vlc", 1.3); err != nil {
		t.Fatal(err)
	}
	sent := ep.sent()
	if len(sent) != 1 || sent[0].Cmd.Kind != mediaplayer.CommandSetVolume || sent[0].Cmd.Volume != 1 {
		t.Errorf("unexpected commands %+v", sent)
	}
	if mixer.listCalls != 0 {
		t.Error("mixer should not be consulted for players with their own volume")
	}
}

func TestSetVolume_OwnVolumeFailure(t *testing.T) {
	vlc := ownVolumePlayer("vlc", 0.5)
	ep := newFakeEndpoints(vlc.Winner)
	ep.setCommandErr(errors.New("no reply"))
	v := NewVolumeController(fakeLookup{"vlc": vlc}, ep, &fakeMixer{})

	err := v.SetVolume(context.Background(), "vlc", 0.42)
	if !errors.Is(err, mediaplayer.ErrEndpointCommandFailed) {
		t.Errorf("expected ErrEndpointCommandFailed, got %v", err)
	}
}

func TestSetVolume_Mixer(t *testing.T) {
	ff := mixerOnlyPlayer("firefox", "Mozilla Firefox")
	mixer := &fakeMixer{streams: []mediaplayer.MixerStream{
		{ApplicationName: "Chromium", Handle: 3, Volume: 1},
		{ApplicationName: "Firefox", Handle: 7, Volume: 0.65},
	}}
	v := NewVolumeController(fakeLookup{"firefox": ff}, newFakeEndpoints(ff.Winner), mixer)

	if err := v.SetVolume(context.Background(), "firefox", 1.3); err != nil {
		t.Fatal(err)
	}
	if len(mixer.sets) != 1 || mixer.sets[0] != (mixerSet{Handle: 7, Level: 1.3}) {
		t.Errorf("unexpected mixer writes %+v", mixer.sets)
	}

	if err := v.SetVolume(context.Background(), "firefox", 4); err != nil {
		t.Fatal(err)
	}
	if got := mixer.sets[1].Level; got != maxMixerVolume {
		t.Errorf("mixer level not clamped: %v", got)
	}

	mixer.setErr = errors.New("pactl failed")
	if err := v.SetVolume(context.Background(), "firefox", 0.2); !errors.Is(err, mediaplayer.ErrEndpointCommandFailed) {
		t.Errorf("expected ErrEndpointCommandFailed, got %v", err)
	}
}

func TestSetVolume_NoBackend(t *testing.T) {
	ff := mixerOnlyPlayer("firefox", "Firefox")
	lookup := fakeLookup{"firefox": ff}

	v := NewVolumeController(lookup, newFakeEndpoints(ff.Winner), &fakeMixer{
		streams: []mediaplayer.MixerStream{{ApplicationName: "Spotify", Handle: 1}},
	})
	if err := v.SetVolume(context.Background(), "firefox", 0.5); !errors.Is(err, mediaplayer.ErrNoVolumeBackend) {
		t.Errorf("no matching stream: expected ErrNoVolumeBackend, got %v", err)
	}

	var reported int
	v = NewVolumeController(lookup, newFakeEndpoints(ff.Winner), nil)
	v.OnMixerUnavailable = func(error) { reported++ }
	for range 2 {
		err := v.SetVolume(context.Background(), "firefox", 0.5)
		if !errors.Is(err, mediaplayer.ErrNoVolumeBackend) || !errors.Is(err, mediaplayer.ErrMixerUnavailable) {
			t.Errorf("nil mixer: got %v", err)
		}
	}
	if reported != 1 {
		t.Errorf("mixer unavailability reported %d times, want 1", reported)
	}

	if err := v.SetVolume(context.Background(), "nope", 0.5); !errors.Is(err, mediaplayer.ErrNoPlayer) {
		t.Errorf("unknown key: expected ErrNoPlayer, got %v", err)
	}
}

func TestResolveVolumes_UnreachableMixerReportedOnce(t *testing.T) {
	ff := mixerOnlyPlayer("firefox", "Firefox")
	mixer := &fakeMixer{listErr: fmt.Errorf("pactl list: %w: exit status 1", mediaplayer.ErrMixerUnavailable)}
	v := NewVolumeController(fakeLookup{"firefox": ff}, newFakeEndpoints(ff.Winner), mixer)
	reported := 0
	v.OnMixerUnavailable = func(error) { reported++ }

	for i := 0; i < 3; i++ {
		vols := v.ResolveVolumes(context.Background(), []mediaplayer.LogicalPlayer{ff})
		if vols["firefox"].Source != mediaplayer.VolumeSourceNone {
			t.Errorf("tick %d: %+v", i, vols["firefox"])
		}
	}
	if reported != 1 {
		t.Errorf("reported %d times, want 1", reported)
	}
}

func TestResolveVolumes(t *testing.T) {
	players := []mediaplayer.LogicalPlayer{
		ownVolumePlayer("vlc", 0.8),
		mixerOnlyPlayer("firefox", "Firefox"),
		mixerOnlyPlayer("chromium", "Chromium"),
		mixerOnlyPlayer("brave", "Brave"),
	}
	mixer := &fakeMixer{streams: []mediaplayer.MixerStream{
		{ApplicationName: "Firefox", Handle: 7, Volume: 0.65},
		{ApplicationName: "Chromium", Handle: 9, Volume: 1.2},
	}}
	v := NewVolumeController(fakeLookup{}, newFakeEndpoints(), mixer)

	vols := v.ResolveVolumes(context.Background(), players)
	want := map[mediaplayer.ApplicationKey]ResolvedVolume{
		"vlc":      {Level: 0.8, Source: mediaplayer.VolumeSourceOwn},
		"firefox":  {Level: 0.65, Source: mediaplayer.VolumeSourceMixer},
		"chromium": {Level: 1.2, Source: mediaplayer.VolumeSourceMixer},
		"brave":    {Source: mediaplayer.VolumeSourceNone},
	}
	for k, w := range want {
		if vols[k] != w {
			t.Errorf("%s: got %+v, want %+v", k, vols[k], w)
		}
	}
	if mixer.listCalls != 1 {
		t.Errorf("mixer listed %d times, want 1", mixer.listCalls)
	}
}

func TestMatchMixerStream(t *testing.T) {
	streams := []mediaplayer.MixerStream{
		{ApplicationName: "", Handle: 1},
		{ApplicationName: "Google Chrome", Handle: 2},
		{ApplicationName: "Firefox", Handle: 3},
		{ApplicationName: "VLC media player (LibVLC 3.0.20)", Handle: 4},
	}
	for _, tt := range []struct {
		key, identity string
		want          uint32
		ok            bool
	}{
		{"firefox", "Mozilla Firefox", 3, true},
		{"chrome", "", 2, true},
		{"vlc", "VLC media player", 4, true},
		{"org.chromium.chromium", "Google Chrome", 2, true},
		{"spotify", "Spotify", 0, false},
	} {
		s, ok := MatchMixerStream(streams, mixerOnlyPlayer(tt.key, tt.identity))
		if ok != tt.ok || s.Handle != tt.want {
			t.Errorf("%s/%s: got %d, %v; want %d, %v", tt.key, tt.identity, s.Handle, ok, tt.want, tt.ok)
		}
	}
}
