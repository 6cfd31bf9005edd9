package mpris

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/types"
)

const (
	busNamePrefix = "org.mpris.MediaPlayer2."
	objectPath    = dbus.ObjectPath("/org/mpris/MediaPlayer2")

	rootInterface   = "org.mpris.MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
	propsInterface  = "org.freedesktop.DBus.Properties"

	noTrackObjectPath = "/org/mpris/MediaPlayer2/TrackList/NoTrack"
)

// playerctld re-exports whichever player is active, which would show up as a duplicate.
var ignoredBusNames = []string{
	busNamePrefix + "playerctld",
}

var vanishedErrorNames = []string{
	"org.freedesktop.DBus.Error.ServiceUnknown",
	"org.freedesktop.DBus.Error.NameHasNoOwner",
	"org.freedesktop.DBus.Error.UnknownObject",
}

var _ mediaplayer.EndpointAdapter = (*Adapter)(nil)

type positionSample struct {
	posMs     int64
	changedAt time.Time
}

// Adapter implements mediaplayer.EndpointAdapter for MPRIS2 players on the D-Bus session bus.
// Each bus name matching org.mpris.MediaPlayer2.* is one endpoint.
type Adapter struct {
	conn *dbus.Conn

	mu        sync.Mutex
	positions map[mediaplayer.EndpointID]positionSample
}

// Connect opens a private connection to the session bus.
func Connect() (*Adapter, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return NewAdapter(conn), nil
}

func NewAdapter(conn *dbus.Conn) *Adapter {
	return &Adapter{
		conn:      conn,
		positions: make(map[mediaplayer.EndpointID]positionSample),
	}
}

// Releases the D-Bus connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

func (a *Adapter) ListEndpoints(ctx context.Context) ([]mediaplayer.EndpointID, error) {
	var names []string
	if err := a.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, err
	}
	ids := FilterPlayerBusNames(names)

	// forget position history of endpoints that went away
	a.mu.Lock()
	for id := range a.positions {
		if !slices.Contains(ids, id) {
			delete(a.positions, id)
		}
	}
	a.mu.Unlock()
	return ids, nil
}

func (a *Adapter) Describe(ctx context.Context, id mediaplayer.EndpointID) (mediaplayer.EndpointSnapshot, error) {
	obj := a.conn.Object(string(id), objectPath)

	var root, player map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, propsInterface+".GetAll", 0, rootInterface).Store(&root); err != nil {
		return mediaplayer.EndpointSnapshot{}, mapError(err)
	}
	if err := obj.CallWithContext(ctx, propsInterface+".GetAll", 0, playerInterface).Store(&player); err != nil {
		return mediaplayer.EndpointSnapshot{}, mapError(err)
	}

	snap := SnapshotFromProperties(id, root, player)
	snap.PositionUpdatedAt = a.trackPosition(id, snap.PositionMs, hasProperty(player, "Position"), time.Now())
	return snap, nil
}

func (a *Adapter) Command(ctx context.Context, id mediaplayer.EndpointID, cmd mediaplayer.Command) error {
	obj := a.conn.Object(string(id), objectPath)

	var call *dbus.Call
	switch cmd.Kind {
	case mediaplayer.CommandPlayPause:
		call = obj.CallWithContext(ctx, playerInterface+".PlayPause", 0)
	case mediaplayer.CommandNext:
		call = obj.CallWithContext(ctx, playerInterface+".Next", 0)
	case mediaplayer.CommandPrevious:
		call = obj.CallWithContext(ctx, playerInterface+".Previous", 0)
	case mediaplayer.CommandSetVolume:
		call = obj.CallWithContext(ctx, propsInterface+".Set", 0,
			playerInterface, "Volume", dbus.MakeVariant(cmd.Volume))
	case mediaplayer.CommandSeek:
		return a.seek(ctx, obj, cmd)
	default:
		return fmt.Errorf("unsupported command %s", cmd.Kind)
	}
	return mapError(call.Err)
}

// seek uses SetPosition when the track ID is known, otherwise a relative Seek
// computed from the current position.
func (a *Adapter) seek(ctx context.Context, obj dbus.BusObject, cmd mediaplayer.Command) error {
	target := msToMicroseconds(cmd.PositionMs)
	if cmd.TrackID != "" && cmd.TrackID != noTrackObjectPath {
		return mapError(obj.CallWithContext(ctx, playerInterface+".SetPosition", 0,
			dbus.ObjectPath(cmd.TrackID), int64(target)).Err)
	}

	var pos dbus.Variant
	if err := obj.CallWithContext(ctx, propsInterface+".Get", 0, playerInterface, "Position").Store(&pos); err != nil {
		return mapError(err)
	}
	cur, _ := asInt64(pos.Value())
	return mapError(obj.CallWithContext(ctx, playerInterface+".Seek", 0, int64(target)-cur).Err)
}

// trackPosition returns when id's position was last seen to change,
// or the zero time if the endpoint reports no position.
func (a *Adapter) trackPosition(id mediaplayer.EndpointID, posMs int64, hasPos bool, now time.Time) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !hasPos {
		delete(a.positions, id)
		return time.Time{}
	}
	prev, ok := a.positions[id]
	if ok && prev.posMs == posMs {
		return prev.changedAt
	}
	a.positions[id] = positionSample{posMs: posMs, changedAt: now}
	return now
}

// FilterPlayerBusNames picks out MPRIS player bus names, sorted.
func FilterPlayerBusNames(names []string) []mediaplayer.EndpointID {
	var ids []mediaplayer.EndpointID
	for _, n := range names {
		if !strings.HasPrefix(n, busNamePrefix) || slices.Contains(ignoredBusNames, n) {
			continue
		}
		ids = append(ids, mediaplayer.EndpointID(n))
	}
	slices.Sort(ids)
	return ids
}

// SnapshotFromProperties builds a snapshot from the property maps of the
// org.mpris.MediaPlayer2 and org.mpris.MediaPlayer2.Player interfaces.
// PositionUpdatedAt is left for the caller.
func SnapshotFromProperties(id mediaplayer.EndpointID, root, player map[string]dbus.Variant) mediaplayer.EndpointSnapshot {
	identity := stringProp(root, "Identity")
	snap := mediaplayer.EndpointSnapshot{
		ID:       id,
		Key:      ApplicationKeyFor(stringProp(root, "DesktopEntry"), identity, string(id)),
		Identity: identity,
		Status:   parsePlaybackStatus(stringProp(player, "PlaybackStatus")),
	}
	if snap.Identity == "" {
		snap.Identity = string(snap.Key)
	}

	if v, ok := player["Position"]; ok {
		if us, ok := asInt64(v.Value()); ok {
			snap.PositionMs = microsecondsToMs(types.Microseconds(us))
		}
	}

	if v, ok := player["Volume"]; ok {
		if vol, ok := v.Value().(float64); ok {
			snap.OwnVolume = vol
			snap.HasOwnVolume = true
		}
	}
	canControl := true
	if v, ok := player["CanControl"]; ok {
		if b, ok := v.Value().(bool); ok {
			canControl = b
		}
	}
	snap.SupportsOwnVolume = snap.HasOwnVolume && canControl

	if v, ok := player["Metadata"]; ok {
		if md, ok := v.Value().(map[string]dbus.Variant); ok {
			applyMetadata(&snap, md)
		}
	}
	return snap
}

// ApplicationKeyFor derives the grouping key from the DesktopEntry property,
// falling back to Identity and then to the bus name without its instance suffix.
func ApplicationKeyFor(desktopEntry, identity, busName string) mediaplayer.ApplicationKey {
	if desktopEntry != "" {
		return mediaplayer.NewApplicationKey(desktopEntry)
	}
	if identity != "" {
		return mediaplayer.NewApplicationKey(identity)
	}
	name := strings.TrimPrefix(busName, busNamePrefix)
	if idx := strings.Index(name, ".instance"); idx > 0 {
		name = name[:idx]
	}
	return mediaplayer.NewApplicationKey(name)
}

func applyMetadata(snap *mediaplayer.EndpointSnapshot, md map[string]dbus.Variant) {
	snap.Title = stringProp(md, "xesam:title")
	snap.Album = stringProp(md, "xesam:album")
	snap.ArtURL = stringProp(md, "mpris:artUrl")
	if v, ok := md["xesam:artist"]; ok {
		switch a := v.Value().(type) {
		case []string:
			snap.Artist = strings.Join(a, ", ")
		case string:
			snap.Artist = a
		}
	}
	if v, ok := md["mpris:trackid"]; ok {
		switch t := v.Value().(type) {
		case dbus.ObjectPath:
			snap.TrackID = string(t)
		case string:
			snap.TrackID = t
		}
	}
}

func parsePlaybackStatus(s string) mediaplayer.PlaybackStatus {
	switch types.PlaybackStatus(s) {
	case types.PlaybackStatusPlaying:
		return mediaplayer.Playing
	case types.PlaybackStatusPaused:
		return mediaplayer.Paused
	}
	return mediaplayer.Stopped
}

func hasProperty(props map[string]dbus.Variant, name string) bool {
	_, ok := props[name]
	return ok
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// mapError turns "no such bus name" style failures into ErrEndpointVanished.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var name string
	var dErr dbus.Error
	var dErrPtr *dbus.Error
	if errors.As(err, &dErr) {
		name = dErr.Name
	} else if errors.As(err, &dErrPtr) {
		name = dErrPtr.Name
	}
	if slices.Contains(vanishedErrorNames, name) {
		return fmt.Errorf("%w: %w", mediaplayer.ErrEndpointVanished, err)
	}
	return err
}

func microsecondsToMs(us types.Microseconds) int64 {
	return int64(us) / 1_000
}

func msToMicroseconds(ms int64) types.Microseconds {
	return types.Microseconds(ms * 1_000)
}
