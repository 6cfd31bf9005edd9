package mediaplayer

import (
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/deluan/sanitize"
	"github.com/google/uuid"
)

// Opaque identifier of one discovered bus endpoint.
// Not stable across restarts of the underlying player.
type EndpointID string

// Stable grouping identity for all endpoints belonging to one application.
type ApplicationKey string

// NewApplicationKey derives a key from an advertised application name.
func NewApplicationKey(name string) ApplicationKey {
	return ApplicationKey(strings.ToLower(strings.TrimSpace(sanitize.Accents(name))))
}

// The playback state (Stopped, Paused, or Playing).
// The numeric order is the dedup priority: Playing > Paused > Stopped.
type PlaybackStatus int

const (
	Stopped PlaybackStatus = iota
	Paused
	Playing
)

func (p PlaybackStatus) String() string {
	switch p {
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// Toggled returns the status a play/pause toggle is expected to produce.
func (p PlaybackStatus) Toggled() PlaybackStatus {
	if p == Playing {
		return Paused
	}
	return Playing
}

// EndpointSnapshot is one endpoint's state as observed by a single poll.
// Snapshots are values; a newer poll replaces them rather than mutating.
type EndpointSnapshot struct {
	ID       EndpointID
	Key      ApplicationKey
	Identity string // human-readable player name
	Status   PlaybackStatus

	Title   string
	Artist  string
	Album   string
	ArtURL  string // empty if none
	TrackID string // opaque track handle, needed for absolute seeks

	PositionMs int64
	// When the endpoint's position was last seen to change.
	// Zero if the endpoint reports no usable position.
	PositionUpdatedAt time.Time

	SupportsOwnVolume bool
	OwnVolume         float64 // 0.0-1.0, meaningful iff HasOwnVolume
	HasOwnVolume      bool
}

// LogicalPlayer is the deduplicated control surface for one application.
type LogicalPlayer struct {
	Key       ApplicationKey
	Winner    EndpointSnapshot
	Endpoints []EndpointID // all endpoints grouped under Key, sorted
}

func (l LogicalPlayer) Status() PlaybackStatus {
	return l.Winner.Status
}

// MixerStream is one application's output stream on the system mixer.
type MixerStream struct {
	ApplicationName string
	Handle          uint32
	Volume          float64
}

type CommandKind int

const (
	CommandPlayPause CommandKind = iota
	CommandNext
	CommandPrevious
	CommandSeek
	CommandSetVolume
)

func (c CommandKind) String() string {
	switch c {
	case CommandPlayPause:
		return "play-pause"
	case CommandNext:
		return "next"
	case CommandPrevious:
		return "previous"
	case CommandSeek:
		return "seek"
	case CommandSetVolume:
		return "set-volume"
	}
	return "unknown"
}

// Command is a write operation addressed to one endpoint.
type Command struct {
	Kind CommandKind

	PositionMs int64   // CommandSeek
	TrackID    string  // CommandSeek
	Volume     float64 // CommandSetVolume
}

// Settings is the user-facing player selection configuration.
type Settings struct {
	EnabledApplicationKeys []ApplicationKey
	AutoDetectNew          bool
	SelectedApplicationKey ApplicationKey // empty for none
	ShowAllPlayers         bool
	HideInactivePlayers    bool
}

func (s Settings) IsEnabled(key ApplicationKey) bool {
	if s.AutoDetectNew {
		return true
	}
	for _, k := range s.EnabledApplicationKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	c := s
	c.EnabledApplicationKeys = append([]ApplicationKey(nil), s.EnabledApplicationKeys...)
	return c
}

type ArtState int

const (
	ArtNone ArtState = iota
	ArtPending
	ArtReady
	ArtFailed
)

func (a ArtState) String() string {
	switch a {
	case ArtPending:
		return "pending"
	case ArtReady:
		return "ready"
	case ArtFailed:
		return "failed"
	}
	return "none"
}

// ArtImage is a decoded, display-sized album art image.
type ArtImage struct {
	URL    string
	Image  image.Image
	Accent color.RGBA
}

type VolumeSource int

const (
	VolumeSourceNone VolumeSource = iota
	VolumeSourceOwn
	VolumeSourceMixer
)

func (v VolumeSource) String() string {
	switch v {
	case VolumeSourceOwn:
		return "own"
	case VolumeSourceMixer:
		return "mixer"
	}
	return "none"
}

type ViewEntry struct {
	Player       LogicalPlayer
	Volume       float64
	VolumeSource VolumeSource
	ArtState     ArtState
	Art          *ArtImage // nil means show a placeholder
}

// PlayerView is the immutable, externally published snapshot of all visible players.
// A published view is never modified; each tick replaces it wholesale.
type PlayerView struct {
	Seq       uint64
	UpdatedAt time.Time
	Entries   []ViewEntry
}

func (v *PlayerView) Find(key ApplicationKey) (ViewEntry, bool) {
	if v == nil {
		return ViewEntry{}, false
	}
	for _, e := range v.Entries {
		if e.Player.Key == key {
			return e, true
		}
	}
	return ViewEntry{}, false
}

// KnownPlayer describes a player seen on the last refresh, whether or not it is visible.
type KnownPlayer struct {
	Key      ApplicationKey
	Identity string
	IsActive bool
}

// Notification is a non-fatal error reported to the consumer.
type Notification struct {
	ID   uuid.UUID
	Time time.Time
	Key  ApplicationKey // empty if not player-specific
	Err  error
}

func NewNotification(key ApplicationKey, err error) Notification {
	return Notification{ID: uuid.New(), Time: time.Now(), Key: key, Err: err}
}
