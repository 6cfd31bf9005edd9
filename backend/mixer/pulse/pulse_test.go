package pulse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
)

const sampleSinkInputs = `Sink Input #42
	Driver: protocol-native.c
	Owner Module: 10
	Client: 88
	Sink: 0
	Sample Specification: float32le 2ch 44100Hz
	Channel Map: front-left,front-right
	Format: pcm, format.sample_format = "\"float32le\""  format.rate = "44100"  format.channels = "2"  format.channel_map = "\"front-left,front-right\""
	Corked: no
	Mute: no
	Volume: front-left: 42598 /  65% / -11.23 dB,   front-right: 42598 /  65% / -11.23 dB
	        balance 0.00
	Buffer Latency: 0 usec
	Properties:
		application.name = "Firefox"
		application.process.binary = "firefox"
		media.name = "AudioStream"

Sink Input #57
	Driver: protocol-native.c
	Volume: front-left: 98304 / 150% / 10.57 dB,   front-right: 98304 / 150% / 10.57 dB
	Properties:
		application.name = "Chromium"

Sink Input #bogus
	Properties:
		application.name = "Ignored"

Sink Input #60
	Volume: mono: garbled
	Properties:
		media.name = "no app name"
`

func TestParseSinkInputs(t *testing.T) {
	got := ParseSinkInputs([]byte(sampleSinkInputs))
	want := []mediaplayer.MixerStream{
		{ApplicationName: "Firefox", Handle: 42, Volume: 0.65},
		{ApplicationName: "Chromium", Handle: 57, Volume: 1.5},
		{ApplicationName: "", Handle: 60, Volume: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d streams, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stream %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseSinkInputs_Empty(t *testing.T) {
	if got := ParseSinkInputs(nil); len(got) != 0 {
		t.Errorf("expected no streams, got %+v", got)
	}
}

func TestParseVolumePercent(t *testing.T) {
	for _, tt := range []struct {
		line string
		want float64
		ok   bool
	}{
		{"Volume: front-left: 65536 / 100% / 0.00 dB", 1, true},
		{"Volume: mono: 32768 /  50% / -18.06 dB", 0.5, true},
		{"Volume: mono: n/a", 0, false},
		{"Volume: front-left: 1 / x% / 0 dB", 0, false},
	} {
		got, ok := parseVolumePercent(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseVolumePercent(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

// fakePactl writes a shell script standing in for pactl.
func fakePactl(t *testing.T, script string) *Mixer {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pactl")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return &Mixer{pactl: path}
}

func TestListStreams_NoServer(t *testing.T) {
	m := fakePactl(t, "echo 'Connection failure: Connection refused' >&2\nexit 1\n")
	_, err := m.ListStreams(context.Background())
	if !errors.Is(err, mediaplayer.ErrMixerUnavailable) {
		t.Errorf("expected ErrMixerUnavailable, got %v", err)
	}
}

func TestListStreams_OtherFailure(t *testing.T) {
	m := fakePactl(t, "echo 'No such entity' >&2\nexit 1\n")
	_, err := m.ListStreams(context.Background())
	if err == nil || errors.Is(err, mediaplayer.ErrMixerUnavailable) {
		t.Errorf("expected a plain error, got %v", err)
	}
}

func TestListStreams_MissingBinary(t *testing.T) {
	m := &Mixer{pactl: filepath.Join(t.TempDir(), "pactl")}
	_, err := m.ListStreams(context.Background())
	if !errors.Is(err, mediaplayer.ErrMixerUnavailable) {
		t.Errorf("expected ErrMixerUnavailable, got %v", err)
	}
}

func TestListStreams_Parses(t *testing.T) {
	m := fakePactl(t, "cat <<'EOF'\nSink Input #3\n\tVolume: mono: 32768 /  50% / -18.06 dB\n\tProperties:\n\t\tapplication.name = \"mpv\"\nEOF\n")
	got, err := m.ListStreams(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := mediaplayer.MixerStream{ApplicationName: "mpv", Handle: 3, Volume: 0.5}
	if len(got) != 1 || got[0] != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
