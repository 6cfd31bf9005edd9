package backend

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const defaultEndpointTimeout = 750 * time.Millisecond

// The PlayerRegistry turns the live set of bus endpoints into deduplicated
// LogicalPlayers. It keeps no state between calls to Refresh.
type PlayerRegistry struct {
	adapter         mediaplayer.EndpointAdapter
	endpointTimeout time.Duration
}

func NewPlayerRegistry(adapter mediaplayer.EndpointAdapter, endpointTimeout time.Duration) *PlayerRegistry {
	if endpointTimeout <= 0 {
		endpointTimeout = defaultEndpointTimeout
	}
	return &PlayerRegistry{adapter: adapter, endpointTimeout: endpointTimeout}
}

// Refresh enumerates all reachable endpoints and groups them by ApplicationKey.
// Enumeration and each endpoint query are bounded by the endpoint timeout.
// Endpoints that fail or time out are left out of the result. The returned error
// is non-nil only if enumeration itself failed, in which case the slice is empty.
func (r *PlayerRegistry) Refresh(ctx context.Context) ([]mediaplayer.LogicalPlayer, error) {
	listCtx, cancel := context.WithTimeout(ctx, r.endpointTimeout)
	ids, err := r.adapter.ListEndpoints(listCtx)
	cancel()
	if err != nil {
		return []mediaplayer.LogicalPlayer{}, err
	}
	return groupSnapshots(r.describeAll(ctx, ids)), nil
}

// Command forwards a write to one endpoint.
func (r *PlayerRegistry) Command(ctx context.Context, id mediaplayer.EndpointID, cmd mediaplayer.Command) error {
	return r.adapter.Command(ctx, id, cmd)
}

type describeResult struct {
	idx  int
	snap mediaplayer.EndpointSnapshot
	err  error
}

// describeAll queries every endpoint concurrently. The batch waits at most
// endpointTimeout; endpoints that have not answered by then are treated as absent.
func (r *PlayerRegistry) describeAll(ctx context.Context, ids []mediaplayer.EndpointID) []mediaplayer.EndpointSnapshot {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.endpointTimeout)
	defer cancel()

	// buffered so late answers never block their goroutine
	results := make(chan describeResult, len(ids))
	for i, id := range ids {
		go func(i int, id mediaplayer.EndpointID) {
			snap, err := r.adapter.Describe(ctx, id)
			results <- describeResult{idx: i, snap: snap, err: err}
		}(i, id)
	}

	got := make([]*mediaplayer.EndpointSnapshot, len(ids))
	for remaining := len(ids); remaining > 0; remaining-- {
		select {
		case res := <-results:
			if res.err == nil {
				s := res.snap
				if s.ID == "" {
					s.ID = ids[res.idx]
				}
				if s.Key == "" {
					s.Key = mediaplayer.NewApplicationKey(string(s.ID))
				}
				got[res.idx] = &s
			}
		case <-ctx.Done():
			remaining = 0
		}
	}

	// keep enumeration order so the result doesn't depend on answer timing
	snaps := make([]mediaplayer.EndpointSnapshot, 0, len(ids))
	for _, s := range got {
		if s != nil {
			snaps = append(snaps, *s)
		}
	}
	return snaps
}

func groupSnapshots(snaps []mediaplayer.EndpointSnapshot) []mediaplayer.LogicalPlayer {
	groups := make(map[mediaplayer.ApplicationKey]*mediaplayer.LogicalPlayer)
	for _, s := range snaps {
		lp, ok := groups[s.Key]
		if !ok {
			groups[s.Key] = &mediaplayer.LogicalPlayer{
				Key:       s.Key,
				Winner:    s,
				Endpoints: []mediaplayer.EndpointID{s.ID},
			}
			continue
		}
		lp.Endpoints = append(lp.Endpoints, s.ID)
		if betterWinner(s, lp.Winner) {
			lp.Winner = s
		}
	}

	players := make([]mediaplayer.LogicalPlayer, 0, len(groups))
	for _, lp := range groups {
		slices.Sort(lp.Endpoints)
		players = append(players, *lp)
	}
	c := collate.New(language.English, collate.Loose)
	slices.SortFunc(players, func(a, b mediaplayer.LogicalPlayer) int {
		if r := c.CompareString(string(a.Key), string(b.Key)); r != 0 {
			return r
		}
		return strings.Compare(string(a.Key), string(b.Key))
	})
	return players
}

// betterWinner reports whether a should replace b as the winning snapshot.
// Order: higher playback status, then the more recently advancing position
// (second granularity; no position loses), then the lower endpoint ID.
func betterWinner(a, b mediaplayer.EndpointSnapshot) bool {
	if a.Status != b.Status {
		return a.Status > b.Status
	}
	aPos, bPos := positionRank(a), positionRank(b)
	if aPos != bPos {
		return aPos > bPos
	}
	return a.ID < b.ID
}

func positionRank(s mediaplayer.EndpointSnapshot) int64 {
	if s.PositionUpdatedAt.IsZero() {
		return 0
	}
	return s.PositionUpdatedAt.Unix()
}
