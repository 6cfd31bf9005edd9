package backend

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
	"github.com/dweymouth/mediatray/backend/util"
	"github.com/pelletier/go-toml/v2"
)

type AppConfig struct {
	LastLaunchedVersion string
	PollIntervalMs      int
	EndpointTimeoutMs   int
	CommandTimeoutMs    int
	MaxArtSizeMB        int
	ArtThumbnailSize    int
	ArtFetchRetries     int
}

type PlayersConfig struct {
	EnabledApplicationKeys []string
	AutoDetectNew          bool
	SelectedApplicationKey string
	ShowAllPlayers         bool
	HideInactivePlayers    bool
}

type Config struct {
	Application AppConfig
	Players     PlayersConfig
}

func DefaultConfig() *Config {
	return &Config{
		Application: AppConfig{
			PollIntervalMs:    1000,
			EndpointTimeoutMs: 750,
			CommandTimeoutMs:  2000,
			MaxArtSizeMB:      10,
			ArtThumbnailSize:  256,
			ArtFetchRetries:   2,
		},
		Players: PlayersConfig{
			AutoDetectNew: true,
		},
	}
}

func ReadConfigFile(filepath string) (*Config, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := DefaultConfig()
	if err := toml.NewDecoder(f).Decode(c); err != nil {
		return nil, err
	}
	c.sanitize()
	return c, nil
}

// sanitize clamps values that would make the engine misbehave.
func (c *Config) sanitize() {
	a := &c.Application
	a.PollIntervalMs = clamp(a.PollIntervalMs, 100, 60_000)
	a.EndpointTimeoutMs = clamp(a.EndpointTimeoutMs, 50, 10_000)
	a.CommandTimeoutMs = clamp(a.CommandTimeoutMs, 100, 30_000)
	a.MaxArtSizeMB = clamp(a.MaxArtSizeMB, 1, 100)
	a.ArtThumbnailSize = clamp(a.ArtThumbnailSize, 16, 2048)
	a.ArtFetchRetries = clamp(a.ArtFetchRetries, 0, 10)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Application.PollIntervalMs) * time.Millisecond
}

func (c *Config) EndpointTimeout() time.Duration {
	return time.Duration(c.Application.EndpointTimeoutMs) * time.Millisecond
}

func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Application.CommandTimeoutMs) * time.Millisecond
}

// Settings converts the [Players] section to mediaplayer.Settings.
func (p PlayersConfig) Settings() mediaplayer.Settings {
	s := mediaplayer.Settings{
		AutoDetectNew:          p.AutoDetectNew,
		SelectedApplicationKey: mediaplayer.ApplicationKey(p.SelectedApplicationKey),
		ShowAllPlayers:         p.ShowAllPlayers,
		HideInactivePlayers:    p.HideInactivePlayers,
	}
	for _, k := range p.EnabledApplicationKeys {
		s.EnabledApplicationKeys = append(s.EnabledApplicationKeys, mediaplayer.NewApplicationKey(k))
	}
	return s
}

func playersConfigFromSettings(s mediaplayer.Settings) PlayersConfig {
	p := PlayersConfig{
		AutoDetectNew:          s.AutoDetectNew,
		SelectedApplicationKey: string(s.SelectedApplicationKey),
		ShowAllPlayers:         s.ShowAllPlayers,
		HideInactivePlayers:    s.HideInactivePlayers,
	}
	for _, k := range s.EnabledApplicationKeys {
		p.EnabledApplicationKeys = append(p.EnabledApplicationKeys, string(k))
	}
	return p
}

var writeLock sync.Mutex

// WriteConfigFile writes c atomically. Concurrent writers are serialized.
func (c *Config) WriteConfigFile(filepath string) error {
	writeLock.Lock()
	defer writeLock.Unlock()

	b, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(filepath, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

func clamp(i, min, max int) int {
	if i < min {
		i = min
	} else if i > max {
		i = max
	}
	return i
}
