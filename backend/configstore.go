package backend

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
	"github.com/fsnotify/fsnotify"
)

var _ mediaplayer.SettingsStore = (*ConfigStore)(nil)

// ConfigStore owns the in-memory Config and its file. It implements
// mediaplayer.SettingsStore over the [Players] section, persisting every
// settings change, and picks up external edits to the file.
type ConfigStore struct {
	// Called after an external edit changed the [Players] section.
	OnReload func()

	path string

	// held across snapshot and write so saves land in order
	saveMu sync.Mutex

	mu          sync.Mutex
	cfg         Config
	lastWritten Config
}

func NewConfigStore(path string, cfg *Config) *ConfigStore {
	return &ConfigStore{path: filepath.Clean(path), cfg: *cfg}
}

func (s *ConfigStore) Path() string {
	return s.path
}

// Config returns a copy of the current configuration.
func (s *ConfigStore) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cfg
	c.Players.EnabledApplicationKeys = append([]string(nil), s.cfg.Players.EnabledApplicationKeys...)
	return c
}

func (s *ConfigStore) Settings() mediaplayer.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Players.Settings()
}

// UpdateSettings applies f and writes the config file.
// The in-memory change is kept even if the write fails.
func (s *ConfigStore) UpdateSettings(f func(*mediaplayer.Settings)) error {
	s.mu.Lock()
	st := s.cfg.Players.Settings()
	f(&st)
	s.cfg.Players = playersConfigFromSettings(st)
	s.mu.Unlock()
	return s.Save()
}

// SetLastLaunchedVersion records the running version, returning the previous one.
func (s *ConfigStore) SetLastLaunchedVersion(v string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg.Application.LastLaunchedVersion
	s.cfg.Application.LastLaunchedVersion = v
	return prev
}

func (s *ConfigStore) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	c := s.Config()
	if err := c.WriteConfigFile(s.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	s.mu.Lock()
	s.lastWritten = c
	s.mu.Unlock()
	return nil
}

// SaveIfChanged writes the config only if it differs from what was last written.
func (s *ConfigStore) SaveIfChanged() error {
	c := s.Config()
	s.mu.Lock()
	same := reflect.DeepEqual(c, s.lastWritten)
	s.mu.Unlock()
	if same {
		return nil
	}
	return s.Save()
}

// Reload re-reads the [Players] section from disk. The [Application]
// section only takes effect on restart. A file that still holds what this
// store last wrote is not an external edit and leaves memory alone, so
// changes not yet on disk survive. It reports whether anything changed.
func (s *ConfigStore) Reload() (bool, error) {
	c, err := ReadConfigFile(s.path)
	if err != nil {
		return false, err
	}
	disk := normalizedPlayers(c.Players)
	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(disk, normalizedPlayers(s.lastWritten.Players)) {
		return false, nil
	}
	s.lastWritten.Players = c.Players
	if reflect.DeepEqual(disk, normalizedPlayers(s.cfg.Players)) {
		return false, nil
	}
	s.cfg.Players = c.Players
	return true, nil
}

// Watch reloads the config whenever the file changes on disk, until ctx is done.
// The directory is watched since saves replace the file.
func (s *ConfigStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	go func() {
		defer w.Close()
		// editors often emit several events per save
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				debounce = time.After(100 * time.Millisecond)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher error: %v", err)
			case <-debounce:
				debounce = nil
				changed, err := s.Reload()
				if err != nil {
					log.Printf("failed to reload config file: %v", err)
					continue
				}
				if changed {
					log.Println("player settings reloaded from config file")
					if s.OnReload != nil {
						s.OnReload()
					}
				}
			}
		}
	}()
	return nil
}

// StartWriter periodically saves the config so an abnormal exit won't lose settings.
func (s *ConfigStore) StartWriter(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := s.SaveIfChanged(); err != nil {
					log.Printf("periodic config save failed: %v", err)
				}
			}
		}
	}()
}

// a nil and an empty key list mean the same thing
func normalizedPlayers(p PlayersConfig) PlayersConfig {
	if len(p.EnabledApplicationKeys) == 0 {
		p.EnabledApplicationKeys = nil
	}
	return p
}
