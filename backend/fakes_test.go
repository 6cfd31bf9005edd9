package backend

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
)

type sentCommand struct {
	ID  mediaplayer.EndpointID
	Cmd mediaplayer.Command
}

// fakeEndpoints is an in-memory mediaplayer.EndpointAdapter.
type fakeEndpoints struct {
	mu          sync.Mutex
	snaps       map[mediaplayer.EndpointID]mediaplayer.EndpointSnapshot
	listErr     error
	describeErr map[mediaplayer.EndpointID]error
	delay       map[mediaplayer.EndpointID]time.Duration
	cmdErr      error
	commands    []sentCommand
	listHang    bool // ListEndpoints blocks until its context is done
}

func newFakeEndpoints(snaps ...mediaplayer.EndpointSnapshot) *fakeEndpoints {
	f := &fakeEndpoints{
		snaps:       make(map[mediaplayer.EndpointID]mediaplayer.EndpointSnapshot),
		describeErr: make(map[mediaplayer.EndpointID]error),
		delay:       make(map[mediaplayer.EndpointID]time.Duration),
	}
	for _, s := range snaps {
		f.snaps[s.ID] = s
	}
	return f
}

func (f *fakeEndpoints) set(s mediaplayer.EndpointSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[s.ID] = s
}

func (f *fakeEndpoints) remove(id mediaplayer.EndpointID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, id)
}

func (f *fakeEndpoints) setCommandErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmdErr = err
}

func (f *fakeEndpoints) sent() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

func (f *fakeEndpoints) ListEndpoints(ctx context.Context) ([]mediaplayer.EndpointID, error) {
	f.mu.Lock()
	hang := f.listHang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]mediaplayer.EndpointID, 0, len(f.snaps))
	for id := range f.snaps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeEndpoints) Describe(ctx context.Context, id mediaplayer.EndpointID) (mediaplayer.EndpointSnapshot, error) {
	f.mu.Lock()
	s, ok := f.snaps[id]
	err := f.describeErr[id]
	d := f.delay[id]
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return mediaplayer.EndpointSnapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return mediaplayer.EndpointSnapshot{}, err
	}
	if !ok {
		return mediaplayer.EndpointSnapshot{}, mediaplayer.ErrEndpointVanished
	}
	return s, nil
}

func (f *fakeEndpoints) Command(ctx context.Context, id mediaplayer.EndpointID, cmd mediaplayer.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return f.cmdErr
	}
	if _, ok := f.snaps[id]; !ok {
		return mediaplayer.ErrEndpointVanished
	}
	f.commands = append(f.commands, sentCommand{ID: id, Cmd: cmd})
	return nil
}

type mixerSet struct {
	Handle uint32
	Level  float64
}

// fakeMixer is an in-memory mediaplayer.MixerAdapter.
type fakeMixer struct {
	mu        sync.Mutex
	streams   []mediaplayer.MixerStream
	listErr   error
	setErr    error
	listCalls int
	sets      []mixerSet
	hang      bool // ListStreams blocks until its context is done
}

func (m *fakeMixer) ListStreams(ctx context.Context) ([]mediaplayer.MixerStream, error) {
	m.mu.Lock()
	m.listCalls++
	hang := m.hang
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return slices.Clone(m.streams), nil
}

func (m *fakeMixer) SetStreamVolume(ctx context.Context, handle uint32, level float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets = append(m.sets, mixerSet{Handle: handle, Level: level})
	return nil
}

// fakeFetcher serves art bytes from memory. If block is set, fetches wait
// until it is closed or their context is cancelled.
type fakeFetcher struct {
	mu       sync.Mutex
	data     map[string][]byte
	errs     map[string]error
	calls    map[string]int
	block    chan struct{}
	canceled int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		data:  make(map[string][]byte),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			f.mu.Lock()
			f.canceled++
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if d, ok := f.data[url]; ok {
		return d, nil
	}
	return []byte("art:" + url), nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) canceledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

var errBadImage = errors.New("bad image")

// fakeDecode skips real image decoding; data "bad" fails.
func fakeDecode(url string, data []byte) (*mediaplayer.ArtImage, error) {
	if string(data) == "bad" {
		return nil, errBadImage
	}
	return &mediaplayer.ArtImage{URL: url}, nil
}

type fakeLookup map[mediaplayer.ApplicationKey]mediaplayer.LogicalPlayer

func (f fakeLookup) LookupPlayer(key mediaplayer.ApplicationKey) (mediaplayer.LogicalPlayer, bool) {
	p, ok := f[key]
	return p, ok
}

func snap(id string, key string, status mediaplayer.PlaybackStatus) mediaplayer.EndpointSnapshot {
	return mediaplayer.EndpointSnapshot{
		ID:       mediaplayer.EndpointID(id),
		Key:      mediaplayer.ApplicationKey(key),
		Identity: key,
		Status:   status,
	}
}
