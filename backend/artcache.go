package backend

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/boxes-ltd/imaging"
	"github.com/cenkalti/dominantcolor"
	"github.com/dweymouth/mediatray/backend/mediaplayer"
)

const defaultArtThumbnailSize = 256

// ArtDecoder turns fetched bytes into a displayable image.
type ArtDecoder func(url string, data []byte) (*mediaplayer.ArtImage, error)

type artEntry struct {
	url    string
	state  mediaplayer.ArtState
	img    *mediaplayer.ArtImage
	err    error
	refs   int
	done   chan struct{} // closed when the current fetch finishes
	cancel context.CancelFunc
}

// ArtHandle refers to a cache entry as of the Request that produced it.
type ArtHandle struct {
	c    *AlbumArtCache
	e    *artEntry
	done chan struct{}
}

// Done is closed once the fetch this handle attached to has finished.
func (h *ArtHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the entry's current state, and the image if it is Ready.
func (h *ArtHandle) Result() (mediaplayer.ArtState, *mediaplayer.ArtImage, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.e.state, h.e.img, h.e.err
}

// An in-memory album art cache keyed by URL with the following rules:
//  1. At most one fetch per URL is in flight; concurrent requests attach to it.
//  2. Each Request adds a reference and each Release drops one. An entry is
//     evicted as soon as it has no references, cancelling any pending fetch.
//  3. Failed entries stay Failed until the next Request for the URL retries them.
type AlbumArtCache struct {
	// Called after a fetch for a still-referenced URL completes (Ready or Failed).
	// Invoked from the fetching goroutine.
	OnResolved func(url string)

	fetcher mediaplayer.ArtFetcher
	decode  ArtDecoder
	ctx     context.Context

	mu    sync.Mutex
	cache map[string]*artEntry
	wg    sync.WaitGroup
}

func NewAlbumArtCache(ctx context.Context, fetcher mediaplayer.ArtFetcher, decode ArtDecoder) *AlbumArtCache {
	if decode == nil {
		decode = ThumbnailDecoder(defaultArtThumbnailSize)
	}
	return &AlbumArtCache{
		fetcher: fetcher,
		decode:  decode,
		ctx:     ctx,
		cache:   make(map[string]*artEntry),
	}
}

// Request adds a reference to url and starts a fetch if the URL is not cached
// or its last fetch failed. It never blocks on the fetch itself.
func (a *AlbumArtCache) Request(url string) *ArtHandle {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.cache[url]
	if !ok {
		e = &artEntry{url: url}
		a.cache[url] = e
		a.startFetch(e)
	} else if e.state == mediaplayer.ArtFailed {
		a.startFetch(e)
	}
	e.refs++
	return &ArtHandle{c: a, e: e, done: e.done}
}

// Release drops one reference to url, evicting the entry at zero.
func (a *AlbumArtCache) Release(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.cache[url]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(a.cache, url)
		if e.state == mediaplayer.ArtPending {
			e.cancel()
		}
	}
}

// Get returns the current state of url and its image if Ready.
func (a *AlbumArtCache) Get(url string) (mediaplayer.ArtState, *mediaplayer.ArtImage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.cache[url]; ok {
		return e.state, e.img
	}
	return mediaplayer.ArtNone, nil
}

func (a *AlbumArtCache) Has(url string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.cache[url]
	return ok
}

// RefCount returns the number of outstanding references to url.
func (a *AlbumArtCache) RefCount(url string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.cache[url]; ok {
		return e.refs
	}
	return 0
}

func (a *AlbumArtCache) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cache)
}

// Clear evicts every entry and cancels in-flight fetches, then waits for them to exit.
func (a *AlbumArtCache) Clear() {
	a.mu.Lock()
	for url, e := range a.cache {
		if e.state == mediaplayer.ArtPending {
			e.cancel()
		}
		delete(a.cache, url)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// must be called with a.mu held
func (a *AlbumArtCache) startFetch(e *artEntry) {
	ctx, cancel := context.WithCancel(a.ctx)
	done := make(chan struct{})
	e.state = mediaplayer.ArtPending
	e.img = nil
	e.err = nil
	e.done = done
	e.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		img, err := a.fetchAndDecode(ctx, e.url)

		a.mu.Lock()
		if err != nil {
			e.state = mediaplayer.ArtFailed
			e.err = err
		} else {
			e.state = mediaplayer.ArtReady
			e.img = img
		}
		current := a.cache[e.url] == e
		close(done)
		a.mu.Unlock()

		if !current {
			return // evicted while in flight; result discarded
		}
		if err != nil {
			log.Printf("failed to load album art %s: %v", e.url, err)
		}
		if a.OnResolved != nil {
			a.OnResolved(e.url)
		}
	}()
}

func (a *AlbumArtCache) fetchAndDecode(ctx context.Context, url string) (*mediaplayer.ArtImage, error) {
	data, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mediaplayer.ErrArtFetchFailed, err)
	}
	img, err := a.decode(url, data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", mediaplayer.ErrArtFetchFailed, err)
	}
	return img, nil
}

// ThumbnailDecoder decodes an image, fits it within size x size pixels and
// computes its dominant colour.
func ThumbnailDecoder(size int) ArtDecoder {
	return func(url string, data []byte) (*mediaplayer.ArtImage, error) {
		im, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, err
		}
		if b := im.Bounds(); size > 0 && (b.Dx() > size || b.Dy() > size) {
			im = imaging.Fit(im, size, size, imaging.Lanczos)
		}
		return &mediaplayer.ArtImage{
			URL:    url,
			Image:  im,
			Accent: dominantcolor.Find(im),
		}, nil
	}
}
