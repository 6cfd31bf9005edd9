package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
)

const requestTimeout = 5 * time.Second

// Controller is the command surface the IPC server exposes.
type Controller interface {
	PlayPause(ctx context.Context, key mediaplayer.ApplicationKey) error
	Next(ctx context.Context, key mediaplayer.ApplicationKey) error
	Previous(ctx context.Context, key mediaplayer.ApplicationKey) error
	Seek(ctx context.Context, key mediaplayer.ApplicationKey, ms int64) error
	SetVolume(ctx context.Context, key mediaplayer.ApplicationKey, level float64) error
	SelectPlayer(key mediaplayer.ApplicationKey) error
	DiscoverPlayers()
	View() *mediaplayer.PlayerView
	KnownPlayers() []mediaplayer.KnownPlayer
}

type serverImpl struct {
	ctl Controller
}

func NewServer(ctl Controller) *http.Server {
	s := serverImpl{ctl: ctl}
	return &http.Server{
		Handler:           s.createHandler(),
		ReadHeaderTimeout: requestTimeout,
	}
}

func (s *serverImpl) createHandler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("The given path is not valid"))
	})
	m.HandleFunc(PingPath, s.makeSimpleEndpointHandler(func(context.Context, mediaplayer.ApplicationKey, url.Values) error { return nil }))
	m.HandleFunc(ViewPath, func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, NewViewResponse(s.ctl.View()))
	})
	m.HandleFunc(PlayersPath, func(w http.ResponseWriter, r *http.Request) {
		known := []KnownPlayer{}
		for _, k := range s.ctl.KnownPlayers() {
			known = append(known, KnownPlayer{Key: string(k.Key), Identity: k.Identity, Active: k.IsActive})
		}
		s.writeJSON(w, known)
	})
	m.HandleFunc(PlayPausePath, s.makeSimpleEndpointHandler(keyed(s.ctl.PlayPause)))
	m.HandleFunc(NextPath, s.makeSimpleEndpointHandler(keyed(s.ctl.Next)))
	m.HandleFunc(PreviousPath, s.makeSimpleEndpointHandler(keyed(s.ctl.Previous)))
	m.HandleFunc(SeekPath, s.makeSimpleEndpointHandler(func(ctx context.Context, key mediaplayer.ApplicationKey, q url.Values) error {
		ms, err := strconv.ParseInt(q.Get("ms"), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ms: %w", err)
		}
		return s.ctl.Seek(ctx, key, ms)
	}))
	m.HandleFunc(VolumePath, s.makeSimpleEndpointHandler(func(ctx context.Context, key mediaplayer.ApplicationKey, q url.Values) error {
		v, err := strconv.Atoi(q.Get("v"))
		if err != nil {
			return fmt.Errorf("invalid volume: %w", err)
		}
		return s.ctl.SetVolume(ctx, key, float64(clamp(v, 0, 100))/100)
	}))
	m.HandleFunc(SelectPath, s.makeSimpleEndpointHandler(func(_ context.Context, key mediaplayer.ApplicationKey, _ url.Values) error {
		return s.ctl.SelectPlayer(key)
	}))
	m.HandleFunc(DiscoverPath, s.makeSimpleEndpointHandler(func(context.Context, mediaplayer.ApplicationKey, url.Values) error {
		s.ctl.DiscoverPlayers()
		return nil
	}))
	return m
}

// handler for a request addressed to the player in the "key" query param
type keyedHandler func(ctx context.Context, key mediaplayer.ApplicationKey, q url.Values) error

func keyed(f func(context.Context, mediaplayer.ApplicationKey) error) keyedHandler {
	return func(ctx context.Context, key mediaplayer.ApplicationKey, _ url.Values) error {
		return f(ctx, key)
	}
}

func (s *serverImpl) makeSimpleEndpointHandler(f keyedHandler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		q := r.URL.Query()
		s.writeSimpleResponse(w, f(ctx, mediaplayer.NewApplicationKey(q.Get("key")), q))
	}
}

func (s *serverImpl) writeSimpleResponse(w http.ResponseWriter, err error) {
	if err == nil {
		s.writeOK(w)
	} else {
		s.writeErr(w, err)
	}
}

func (s *serverImpl) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (s *serverImpl) writeOK(w http.ResponseWriter) (int, error) {
	var r Response
	b, err := json.Marshal(&r)
	if err != nil {
		return 0, err
	}
	return w.Write(b)
}

func (s *serverImpl) writeErr(w http.ResponseWriter, err error) (int, error) {
	r := Response{Error: err.Error()}
	b, err := json.Marshal(&r)
	if err != nil {
		return 0, err
	}
	w.WriteHeader(http.StatusInternalServerError)
	return w.Write(b)
}

func clamp(i, min, max int) int {
	if i < min {
		i = min
	} else if i > max {
		i = max
	}
	return i
}
