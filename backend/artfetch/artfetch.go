package artfetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
	"github.com/dweymouth/mediatray/backend/util"
	"github.com/h2non/filetype"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultMaxBytes = 10 * 1_048_576
	defaultTimeout  = 15 * time.Second
	userAgent       = "mediatray"
)

var ErrNotAnImage = errors.New("content is not an image")

var _ mediaplayer.ArtFetcher = (*Fetcher)(nil)

type Options struct {
	// Max size of fetched art in bytes (DefaultMaxBytes if <= 0).
	MaxBytes int64
	// How many times a failed HTTP fetch is retried.
	Retries int
	// Log each HTTP attempt.
	Verbose bool
}

// Fetcher loads album art from file:// and http(s):// URLs.
type Fetcher struct {
	maxBytes int64
	client   *retryablehttp.Client
}

func New(opts Options) *Fetcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	c := retryablehttp.NewClient()
	c.RetryMax = max(opts.Retries, 0)
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = defaultTimeout
	if opts.Verbose {
		c.Logger = log.Default()
	} else {
		c.Logger = nil
	}
	return &Fetcher{maxBytes: opts.MaxBytes, client: c}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	var data []byte
	switch strings.ToLower(u.Scheme) {
	case "file":
		data, err = f.fetchFile(ctx, u)
	case "http", "https":
		data, err = f.fetchHTTP(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", mediaplayer.ErrUnsupportedArtURL, u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	if !filetype.IsImage(data) {
		return nil, ErrNotAnImage
	}
	return data, nil
}

func (f *Fetcher) fetchFile(ctx context.Context, u *url.URL) ([]byte, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := util.NewCancellableReadCloser(ctx, file)
	defer r.Close()
	return util.ReadAllLimited(r, f.maxBytes)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", util.ErrTooLarge, resp.ContentLength)
	}
	return util.ReadAllLimited(resp.Body, f.maxBytes)
}
