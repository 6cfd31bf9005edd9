package ipc

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
)

const (
	PingPath      = "/ping"
	ViewPath      = "/view"
	PlayersPath   = "/players"
	PlayPausePath = "/player/playpause" // ?key=<app key>
	NextPath      = "/player/next"      // ?key=<app key>
	PreviousPath  = "/player/previous"  // ?key=<app key>
	SeekPath      = "/player/seek"      // ?key=<app key>&ms=<position>
	VolumePath    = "/player/volume"    // ?key=<app key>&v=<0-100>
	SelectPath    = "/player/select"    // ?key=<app key, empty to clear>
	DiscoverPath  = "/players/discover"
)

type Response struct {
	Error string `json:"error"`
}

// PlayerStatus is the wire form of one visible player.
type PlayerStatus struct {
	Key          string   `json:"key"`
	Identity     string   `json:"identity"`
	Status       string   `json:"status"`
	Title        string   `json:"title,omitempty"`
	Artist       string   `json:"artist,omitempty"`
	Album        string   `json:"album,omitempty"`
	ArtURL       string   `json:"artUrl,omitempty"`
	ArtState     string   `json:"artState"`
	Accent       string   `json:"accent,omitempty"` // #rrggbb dominant colour of ready art
	PositionMs   int64    `json:"positionMs"`
	Volume       *float64 `json:"volume,omitempty"` // nil if no volume backend
	VolumeSource string   `json:"volumeSource"`
	Endpoints    int      `json:"endpoints"`
}

type ViewResponse struct {
	Seq       uint64         `json:"seq"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Players   []PlayerStatus `json:"players"`
}

type KnownPlayer struct {
	Key      string `json:"key"`
	Identity string `json:"identity"`
	Active   bool   `json:"active"`
}

func NewViewResponse(v *mediaplayer.PlayerView) ViewResponse {
	r := ViewResponse{Players: []PlayerStatus{}}
	if v == nil {
		return r
	}
	r.Seq = v.Seq
	r.UpdatedAt = v.UpdatedAt
	for _, e := range v.Entries {
		w := e.Player.Winner
		ps := PlayerStatus{
			Key:          string(e.Player.Key),
			Identity:     w.Identity,
			Status:       e.Player.Status().String(),
			Title:        w.Title,
			Artist:       w.Artist,
			Album:        w.Album,
			ArtURL:       w.ArtURL,
			ArtState:     e.ArtState.String(),
			PositionMs:   w.PositionMs,
			VolumeSource: e.VolumeSource.String(),
			Endpoints:    len(e.Player.Endpoints),
		}
		if e.Art != nil {
			ps.Accent = fmt.Sprintf("#%02x%02x%02x", e.Art.Accent.R, e.Art.Accent.G, e.Art.Accent.B)
		}
		if e.VolumeSource != mediaplayer.VolumeSourceNone {
			vol := e.Volume
			ps.Volume = &vol
		}
		r.Players = append(r.Players, ps)
	}
	return r
}

func keyPath(base, key string) string {
	if key == "" {
		return base
	}
	return base + "?key=" + url.QueryEscape(key)
}

func BuildSeekPath(key string, ms int64) string {
	q := url.Values{}
	if key != "" {
		q.Set("key", key)
	}
	q.Set("ms", strconv.FormatInt(ms, 10))
	return SeekPath + "?" + q.Encode()
}

func BuildVolumePath(key string, pct int) string {
	q := url.Values{}
	if key != "" {
		q.Set("key", key)
	}
	q.Set("v", strconv.Itoa(pct))
	return VolumePath + "?" + q.Encode()
}

func BuildSelectPath(key string) string {
	return fmt.Sprintf("%s?key=%s", SelectPath, url.QueryEscape(key))
}
