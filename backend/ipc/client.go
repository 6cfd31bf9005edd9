package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var ErrPingFail = errors.New("ping failed")

// Client forwards commands to a running instance over the IPC socket.
type Client struct {
	httpC http.Client
}

// Connect attempts to connect to the IPC socket as client.
func Connect() (*Client, error) {
	client := &Client{httpC: http.Client{
		Timeout: 2 * requestTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return Dial()
			},
		},
	}}
	if err := client.Ping(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) Ping() error {
	if c.makeSimpleRequest(http.MethodGet, PingPath) != nil {
		return ErrPingFail
	}
	return nil
}

func (c *Client) PlayPause(key string) error {
	return c.makeSimpleRequest(http.MethodPost, keyPath(PlayPausePath, key))
}

func (c *Client) Next(key string) error {
	return c.makeSimpleRequest(http.MethodPost, keyPath(NextPath, key))
}

func (c *Client) Previous(key string) error {
	return c.makeSimpleRequest(http.MethodPost, keyPath(PreviousPath, key))
}

func (c *Client) SeekTo(key string, ms int64) error {
	return c.makeSimpleRequest(http.MethodPost, BuildSeekPath(key, ms))
}

// SetVolume sets the volume as a percentage (0-100).
func (c *Client) SetVolume(key string, pct int) error {
	return c.makeSimpleRequest(http.MethodPost, BuildVolumePath(key, pct))
}

func (c *Client) Select(key string) error {
	return c.makeSimpleRequest(http.MethodPost, BuildSelectPath(key))
}

func (c *Client) Discover() error {
	return c.makeSimpleRequest(http.MethodPost, DiscoverPath)
}

func (c *Client) View() (*ViewResponse, error) {
	var v ViewResponse
	if err := c.getJSON(ViewPath, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) KnownPlayers() ([]KnownPlayer, error) {
	var k []KnownPlayer
	err := c.getJSON(PlayersPath, &k)
	return k, err
}

func (c *Client) getJSON(path string, v any) error {
	resp, err := c.httpC.Get("http://mediatray" + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) makeSimpleRequest(method string, path string) error {
	var resp *http.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = c.httpC.Get("http://mediatray" + path)
	case http.MethodPost:
		resp, err = c.httpC.Post("http://mediatray"+path, "application/json", nil)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

func responseError(resp *http.Response) error {
	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil || r.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return errors.New(r.Error)
}
