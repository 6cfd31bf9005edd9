package mediaplayer

import (
	"context"
	"sync"
)

// EndpointAdapter is the bus capability for discovering and driving player endpoints.
// Any call may fail with ErrEndpointVanished if the endpoint disappeared.
type EndpointAdapter interface {
	ListEndpoints(ctx context.Context) ([]EndpointID, error)
	Describe(ctx context.Context, id EndpointID) (EndpointSnapshot, error)
	Command(ctx context.Context, id EndpointID, cmd Command) error
}

// MixerAdapter enumerates per-application output streams on the system mixer.
// Implementations return ErrMixerUnavailable if no mixer can be reached at all.
type MixerAdapter interface {
	ListStreams(ctx context.Context) ([]MixerStream, error)
	SetStreamVolume(ctx context.Context, handle uint32, level float64) error
}

// ArtFetcher retrieves the raw bytes of an album art image.
type ArtFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SettingsStore owns the persisted Settings.
type SettingsStore interface {
	Settings() Settings
	UpdateSettings(func(*Settings)) error
}

// MemorySettingsStore is a SettingsStore that keeps Settings only in memory.
type MemorySettingsStore struct {
	mu sync.Mutex
	s  Settings
}

func NewMemorySettingsStore(s Settings) *MemorySettingsStore {
	return &MemorySettingsStore{s: s.Clone()}
}

func (m *MemorySettingsStore) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Clone()
}

func (m *MemorySettingsStore) UpdateSettings(f func(*Settings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.s.Clone()
	f(&s)
	m.s = s
	return nil
}
