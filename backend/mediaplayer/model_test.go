package mediaplayer

import "testing"

func TestNewApplicationKey(t *testing.T) {
	tests := []struct {
		input string
		want  ApplicationKey
	}{
		{"firefox", "firefox"},
		{"  Firefox ", "firefox"},
		{"VLC", "vlc"},
		{"Élisa", "elisa"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NewApplicationKey(tt.input); got != tt.want {
			t.Errorf("NewApplicationKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPlaybackStatusOrder(t *testing.T) {
	if !(Playing > Paused && Paused > Stopped) {
		t.Error("expected Playing > Paused > Stopped")
	}
	if Playing.Toggled() != Paused || Paused.Toggled() != Playing || Stopped.Toggled() != Playing {
		t.Error("unexpected toggle result")
	}
}

func TestSettingsIsEnabled(t *testing.T) {
	s := Settings{EnabledApplicationKeys: []ApplicationKey{"vlc"}}
	if !s.IsEnabled("vlc") {
		t.Error("vlc should be enabled")
	}
	if s.IsEnabled("firefox") {
		t.Error("firefox should not be enabled without auto-detect")
	}
	s.AutoDetectNew = true
	if !s.IsEnabled("firefox") {
		t.Error("auto-detect should enable every player")
	}
}

func TestSettingsCloneIsIndependent(t *testing.T) {
	s := Settings{EnabledApplicationKeys: []ApplicationKey{"vlc"}}
	c := s.Clone()
	c.EnabledApplicationKeys[0] = "mpv"
	if s.EnabledApplicationKeys[0] != "vlc" {
		t.Error("Clone shares backing array with original")
	}
}

func TestMemorySettingsStore(t *testing.T) {
	m := NewMemorySettingsStore(Settings{AutoDetectNew: true})
	m.UpdateSettings(func(s *Settings) { s.SelectedApplicationKey = "vlc" })
	if got := m.Settings().SelectedApplicationKey; got != "vlc" {
		t.Errorf("SelectedApplicationKey = %q, want vlc", got)
	}
}
