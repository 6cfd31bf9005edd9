package backend

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultCommandTimeout = 2 * time.Second

	notificationBufferSize = 32
)

type EngineOptions struct {
	PollInterval   time.Duration
	CommandTimeout time.Duration
}

// The Engine is the reconciliation loop. It periodically (or on request) polls
// the PlayerRegistry and the mixer, diffs album art URLs against the previous
// tick, and publishes an immutable PlayerView. It also dispatches user commands.
//
// The loop goroutine started by Run is the only writer of the published view.
type Engine struct {
	registry *PlayerRegistry
	volume   *VolumeController
	art      *AlbumArtCache
	settings mediaplayer.SettingsStore

	pollInterval   time.Duration
	commandTimeout time.Duration

	refreshReq   chan struct{}
	republishReq chan struct{}
	notify       chan mediaplayer.Notification

	view              atomic.Pointer[mediaplayer.PlayerView]
	discoverRequested atomic.Bool
	keyLocks          keyedMutex

	// registered callbacks
	onViewUpdate []func(*mediaplayer.PlayerView)

	// guarded by mu; read by command goroutines
	mu        sync.Mutex
	players   map[mediaplayer.ApplicationKey]mediaplayer.LogicalPlayer
	known     []mediaplayer.KnownPlayer
	overrides map[mediaplayer.ApplicationKey]mediaplayer.PlaybackStatus

	// owned by the loop goroutine
	seq         uint64
	order       []mediaplayer.ApplicationKey
	artURLs     map[mediaplayer.ApplicationKey]string
	visible     []mediaplayer.LogicalPlayer
	volumes     map[mediaplayer.ApplicationKey]ResolvedVolume
	enumFailing bool
}

func NewEngine(
	endpoints mediaplayer.EndpointAdapter,
	mixer mediaplayer.MixerAdapter,
	art *AlbumArtCache,
	settings mediaplayer.SettingsStore,
	registryTimeout time.Duration,
	opts EngineOptions,
) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	e := &Engine{
		registry:       NewPlayerRegistry(endpoints, registryTimeout),
		art:            art,
		settings:       settings,
		pollInterval:   opts.PollInterval,
		commandTimeout: opts.CommandTimeout,
		refreshReq:     make(chan struct{}, 1),
		republishReq:   make(chan struct{}, 1),
		notify:         make(chan mediaplayer.Notification, notificationBufferSize),
		players:        make(map[mediaplayer.ApplicationKey]mediaplayer.LogicalPlayer),
		artURLs:        make(map[mediaplayer.ApplicationKey]string),
	}
	e.volume = NewVolumeController(e, e.registry, mixer)
	e.volume.ListTimeout = e.registry.endpointTimeout
	e.volume.OnMixerUnavailable = func(err error) {
		e.report("", err)
	}
	art.OnResolved = func(string) {
		e.requestRepublish()
	}
	e.view.Store(&mediaplayer.PlayerView{UpdatedAt: time.Now()})
	return e
}

// Sets a callback that is invoked on the loop goroutine after each new view is published.
// Must be called before Run.
func (e *Engine) OnViewUpdate(cb func(*mediaplayer.PlayerView)) {
	e.onViewUpdate = append(e.onViewUpdate, cb)
}

// View returns the most recently published view. The result must not be modified.
func (e *Engine) View() *mediaplayer.PlayerView {
	return e.view.Load()
}

// Notifications delivers non-fatal errors. If the consumer falls behind,
// further notifications are dropped rather than blocking the engine.
func (e *Engine) Notifications() <-chan mediaplayer.Notification {
	return e.notify
}

// KnownPlayers lists every player seen on the last refresh, visible or not.
func (e *Engine) KnownPlayers() []mediaplayer.KnownPlayer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.known)
}

// LookupPlayer implements PlayerLookup using the last refresh.
func (e *Engine) LookupPlayer(key mediaplayer.ApplicationKey) (mediaplayer.LogicalPlayer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.players[key]
	return p, ok
}

// Run drives the reconciliation loop until ctx is cancelled.
// In-flight art fetches are cancelled on return.
func (e *Engine) Run(ctx context.Context) {
	defer e.art.Clear()
	t := time.NewTicker(e.pollInterval)
	defer t.Stop()

	e.tickRefresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.tickRefresh(ctx)
		case <-e.refreshReq:
			e.tickRefresh(ctx)
		case <-e.republishReq:
			e.republish()
		}
	}
}

// RequestRefresh schedules an out-of-cadence tick. Requests made while one is
// already pending are coalesced.
func (e *Engine) RequestRefresh() {
	select {
	case e.refreshReq <- struct{}{}:
	default:
	}
}

func (e *Engine) requestRepublish() {
	select {
	case e.republishReq <- struct{}{}:
	default:
	}
}

func (e *Engine) tickRefresh(ctx context.Context) {
	e.mu.Lock()
	e.overrides = nil
	e.mu.Unlock()

	players, err := e.registry.Refresh(ctx)
	if err != nil {
		if !e.enumFailing {
			log.Printf("failed to enumerate media players: %v", err)
		}
		e.enumFailing = true
	} else if e.enumFailing {
		log.Println("media player enumeration recovered")
		e.enumFailing = false
	}

	settings := e.settings.Settings()
	if e.discoverRequested.Swap(false) && settings.AutoDetectNew {
		settings = e.addDiscovered(players, settings)
	}

	ordered := e.applyStableOrder(players)
	e.storePlayers(ordered)

	visible := FilterPlayers(ordered, settings)
	e.volumes = e.volume.ResolveVolumes(ctx, visible)
	e.syncArt(visible)
	e.visible = visible
	e.publish()
}

func (e *Engine) republish() {
	e.publish()
}

func (e *Engine) addDiscovered(players []mediaplayer.LogicalPlayer, s mediaplayer.Settings) mediaplayer.Settings {
	var added bool
	for _, p := range players {
		if !slices.Contains(s.EnabledApplicationKeys, p.Key) {
			s.EnabledApplicationKeys = append(s.EnabledApplicationKeys, p.Key)
			added = true
		}
	}
	if !added {
		return s
	}
	keys := s.EnabledApplicationKeys
	if err := e.settings.UpdateSettings(func(st *mediaplayer.Settings) {
		st.EnabledApplicationKeys = keys
	}); err != nil {
		log.Printf("failed to save discovered players: %v", err)
	}
	return s
}

// applyStableOrder orders players by first appearance, forgetting keys that
// no longer have any endpoint.
func (e *Engine) applyStableOrder(players []mediaplayer.LogicalPlayer) []mediaplayer.LogicalPlayer {
	byKey := make(map[mediaplayer.ApplicationKey]mediaplayer.LogicalPlayer, len(players))
	for _, p := range players {
		byKey[p.Key] = p
	}
	e.order = slices.DeleteFunc(e.order, func(k mediaplayer.ApplicationKey) bool {
		_, ok := byKey[k]
		return !ok
	})
	for _, p := range players {
		if !slices.Contains(e.order, p.Key) {
			e.order = append(e.order, p.Key)
		}
	}
	ordered := make([]mediaplayer.LogicalPlayer, 0, len(e.order))
	for _, k := range e.order {
		ordered = append(ordered, byKey[k])
	}
	return ordered
}

func (e *Engine) storePlayers(players []mediaplayer.LogicalPlayer) {
	m := make(map[mediaplayer.ApplicationKey]mediaplayer.LogicalPlayer, len(players))
	known := make([]mediaplayer.KnownPlayer, 0, len(players))
	for _, p := range players {
		m[p.Key] = p
		identity := p.Winner.Identity
		if identity == "" {
			identity = string(p.Key)
		}
		known = append(known, mediaplayer.KnownPlayer{
			Key:      p.Key,
			Identity: identity,
			IsActive: p.Status() == mediaplayer.Playing,
		})
	}
	c := collate.New(language.English, collate.IgnoreCase)
	slices.SortFunc(known, func(a, b mediaplayer.KnownPlayer) int {
		if r := c.CompareString(a.Identity, b.Identity); r != 0 {
			return r
		}
		return strings.Compare(string(a.Key), string(b.Key))
	})

	e.mu.Lock()
	e.players = m
	e.known = known
	e.mu.Unlock()
}

// syncArt requests art for players whose URL changed since the previous tick
// and releases URLs no visible player points at anymore.
func (e *Engine) syncArt(visible []mediaplayer.LogicalPlayer) {
	seen := make(map[mediaplayer.ApplicationKey]bool, len(visible))
	for _, p := range visible {
		seen[p.Key] = true
		newURL := NormalizeArtURL(p.Winner.ArtURL)
		oldURL, had := e.artURLs[p.Key]
		if had && oldURL == newURL {
			continue
		}
		if had && oldURL != "" {
			e.art.Release(oldURL)
		}
		if newURL != "" {
			e.art.Request(newURL)
		}
		e.artURLs[p.Key] = newURL
	}
	for k, url := range e.artURLs {
		if seen[k] {
			continue
		}
		if url != "" {
			e.art.Release(url)
		}
		delete(e.artURLs, k)
	}
}

func (e *Engine) publish() {
	e.mu.Lock()
	overrides := e.overrides
	e.mu.Unlock()

	entries := make([]mediaplayer.ViewEntry, 0, len(e.visible))
	for _, p := range e.visible {
		if st, ok := overrides[p.Key]; ok {
			p.Winner.Status = st
		}
		entry := mediaplayer.ViewEntry{Player: p}
		if v, ok := e.volumes[p.Key]; ok {
			entry.Volume = v.Level
			entry.VolumeSource = v.Source
		}
		if url := e.artURLs[p.Key]; url != "" {
			entry.ArtState, entry.Art = e.art.Get(url)
		}
		entries = append(entries, entry)
	}

	e.seq++
	v := &mediaplayer.PlayerView{Seq: e.seq, UpdatedAt: time.Now(), Entries: entries}
	e.view.Store(v)
	for _, cb := range e.onViewUpdate {
		cb(v)
	}
}

// FilterPlayers applies the user's Settings to an ordered player list.
// With ShowAllPlayers off only one player is kept: the selected one if present,
// else the first Playing player, else the first player.
func FilterPlayers(players []mediaplayer.LogicalPlayer, s mediaplayer.Settings) []mediaplayer.LogicalPlayer {
	if !s.ShowAllPlayers {
		if s.SelectedApplicationKey != "" {
			if i := slices.IndexFunc(players, func(p mediaplayer.LogicalPlayer) bool {
				return p.Key == s.SelectedApplicationKey
			}); i >= 0 {
				return players[i : i+1]
			}
		}
		var first *mediaplayer.LogicalPlayer
		for i := range players {
			if !s.IsEnabled(players[i].Key) {
				continue
			}
			if players[i].Status() == mediaplayer.Playing {
				return players[i : i+1]
			}
			if first == nil {
				first = &players[i]
			}
		}
		if first != nil {
			return []mediaplayer.LogicalPlayer{*first}
		}
		return nil
	}

	filtered := make([]mediaplayer.LogicalPlayer, 0, len(players))
	for _, p := range players {
		if !s.IsEnabled(p.Key) {
			continue
		}
		if s.HideInactivePlayers && p.Status() == mediaplayer.Stopped {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

func (e *Engine) report(key mediaplayer.ApplicationKey, err error) {
	select {
	case e.notify <- mediaplayer.NewNotification(key, err):
	default:
		// drop if the consumer is not keeping up
	}
}

// Command surface

// PlayPause toggles playback of the player for key (empty for the current target).
// On success the displayed status is flipped right away; the next tick corrects it if needed.
func (e *Engine) PlayPause(ctx context.Context, key mediaplayer.ApplicationKey) error {
	return e.endpointCommand(ctx, "play-pause", key, func(p mediaplayer.LogicalPlayer) mediaplayer.Command {
		return mediaplayer.Command{Kind: mediaplayer.CommandPlayPause}
	}, func(p mediaplayer.LogicalPlayer) {
		e.mu.Lock()
		if e.overrides == nil {
			e.overrides = make(map[mediaplayer.ApplicationKey]mediaplayer.PlaybackStatus)
		}
		cur, ok := e.overrides[p.Key]
		if !ok {
			cur = p.Status()
		}
		e.overrides[p.Key] = cur.Toggled()
		e.mu.Unlock()
		e.requestRepublish()
	})
}

func (e *Engine) Next(ctx context.Context, key mediaplayer.ApplicationKey) error {
	return e.endpointCommand(ctx, "next", key, func(mediaplayer.LogicalPlayer) mediaplayer.Command {
		return mediaplayer.Command{Kind: mediaplayer.CommandNext}
	}, nil)
}

func (e *Engine) Previous(ctx context.Context, key mediaplayer.ApplicationKey) error {
	return e.endpointCommand(ctx, "previous", key, func(mediaplayer.LogicalPlayer) mediaplayer.Command {
		return mediaplayer.Command{Kind: mediaplayer.CommandPrevious}
	}, nil)
}

// Seek moves playback of the current track to the absolute position ms.
func (e *Engine) Seek(ctx context.Context, key mediaplayer.ApplicationKey, ms int64) error {
	if ms < 0 {
		ms = 0
	}
	return e.endpointCommand(ctx, "seek", key, func(p mediaplayer.LogicalPlayer) mediaplayer.Command {
		return mediaplayer.Command{Kind: mediaplayer.CommandSeek, PositionMs: ms, TrackID: p.Winner.TrackID}
	}, nil)
}

// SetVolume sets the volume (0.0-1.0) through the player's own control or the mixer.
// The view is not updated optimistically.
func (e *Engine) SetVolume(ctx context.Context, key mediaplayer.ApplicationKey, level float64) error {
	key, err := e.resolveTarget(key)
	if err != nil {
		return e.fail("set-volume", key, err)
	}
	unlock := e.keyLocks.Lock(key)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()
	if err := e.volume.SetVolume(ctx, key, level); err != nil {
		return e.fail("set-volume", key, err)
	}
	return nil
}

// SelectPlayer sets the player shown in single-player mode. An empty key clears the selection.
func (e *Engine) SelectPlayer(key mediaplayer.ApplicationKey) error {
	return e.updateSettings("select", func(s *mediaplayer.Settings) {
		s.SelectedApplicationKey = key
	})
}

func (e *Engine) SetAutoDetect(enabled bool) error {
	return e.updateSettings("auto-detect", func(s *mediaplayer.Settings) {
		s.AutoDetectNew = enabled
	})
}

func (e *Engine) SetShowAllPlayers(enabled bool) error {
	return e.updateSettings("show-all", func(s *mediaplayer.Settings) {
		s.ShowAllPlayers = enabled
	})
}

func (e *Engine) SetHideInactive(enabled bool) error {
	return e.updateSettings("hide-inactive", func(s *mediaplayer.Settings) {
		s.HideInactivePlayers = enabled
	})
}

// DiscoverPlayers forces an immediate tick. With auto-detect enabled, every
// player found by it is added to the enabled set.
func (e *Engine) DiscoverPlayers() {
	e.discoverRequested.Store(true)
	e.RequestRefresh()
}

func (e *Engine) updateSettings(op string, f func(*mediaplayer.Settings)) error {
	if err := e.settings.UpdateSettings(f); err != nil {
		return e.fail(op, "", fmt.Errorf("save settings: %w", err))
	}
	e.RequestRefresh()
	return nil
}

func (e *Engine) endpointCommand(
	ctx context.Context,
	op string,
	key mediaplayer.ApplicationKey,
	build func(mediaplayer.LogicalPlayer) mediaplayer.Command,
	onSuccess func(mediaplayer.LogicalPlayer),
) error {
	key, err := e.resolveTarget(key)
	if err != nil {
		return e.fail(op, key, err)
	}
	unlock := e.keyLocks.Lock(key)
	defer unlock()

	p, ok := e.LookupPlayer(key)
	if !ok {
		return e.fail(op, key, mediaplayer.ErrNoPlayer)
	}
	ctx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()
	if err := e.registry.Command(ctx, p.Winner.ID, build(p)); err != nil {
		return e.fail(op, key, fmt.Errorf("%w: %w", mediaplayer.ErrEndpointCommandFailed, err))
	}
	if onSuccess != nil {
		onSuccess(p)
	}
	return nil
}

func (e *Engine) fail(op string, key mediaplayer.ApplicationKey, err error) error {
	cerr := &mediaplayer.CommandError{Op: op, Key: key, Err: err}
	e.report(key, cerr)
	return cerr
}

// resolveTarget maps an empty key to the selected player if it exists,
// else to the first player in the current view.
func (e *Engine) resolveTarget(key mediaplayer.ApplicationKey) (mediaplayer.ApplicationKey, error) {
	if key != "" {
		return key, nil
	}
	if sel := e.settings.Settings().SelectedApplicationKey; sel != "" {
		if _, ok := e.LookupPlayer(sel); ok {
			return sel, nil
		}
	}
	if v := e.View(); v != nil && len(v.Entries) > 0 {
		return v.Entries[0].Player.Key, nil
	}
	return "", mediaplayer.ErrNoPlayer
}

// keyedMutex serializes work per ApplicationKey.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[mediaplayer.ApplicationKey]*sync.Mutex
}

func (k *keyedMutex) Lock(key mediaplayer.ApplicationKey) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[mediaplayer.ApplicationKey]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
