package pulse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dweymouth/mediatray/backend/mediaplayer"
)

const maxVolume = 1.5

var _ mediaplayer.MixerAdapter = (*Mixer)(nil)

// Mixer implements mediaplayer.MixerAdapter by shelling out to pactl,
// which works against both PulseAudio and PipeWire's pulse server.
type Mixer struct {
	pactl string
}

// New locates pactl on the PATH. If it can't be found the returned error
// wraps mediaplayer.ErrMixerUnavailable.
func New() (*Mixer, error) {
	p, err := exec.LookPath("pactl")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mediaplayer.ErrMixerUnavailable, err)
	}
	return &Mixer{pactl: p}, nil
}

func (m *Mixer) ListStreams(ctx context.Context) ([]mediaplayer.MixerStream, error) {
	out, err := m.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	return ParseSinkInputs(out), nil
}

func (m *Mixer) SetStreamVolume(ctx context.Context, handle uint32, level float64) error {
	level = min(max(level, 0), maxVolume)
	pct := int(level * 100)
	_, err := m.run(ctx, "set-sink-input-volume", strconv.FormatUint(uint64(handle), 10), fmt.Sprintf("%d%%", pct))
	return err
}

func (m *Mixer) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, m.pactl, args...)
	// output is parsed, so keep it unlocalized
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if serverUnreachable(err, msg) {
			err = fmt.Errorf("%w: %w", mediaplayer.ErrMixerUnavailable, err)
		}
		if msg != "" {
			return nil, fmt.Errorf("pactl %s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("pactl %s: %w", args[0], err)
	}
	return out, nil
}

// serverUnreachable reports whether pactl failed because there is no sound
// server to talk to (or pactl itself went missing), as opposed to a bad request.
func serverUnreachable(err error, stderr string) bool {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return true
	}
	return strings.Contains(stderr, "Connection failure") ||
		strings.Contains(stderr, "Connection refused")
}

// ParseSinkInputs parses the output of `pactl list sink-inputs`.
// A stream whose volume line can't be parsed is reported at 100%.
func ParseSinkInputs(out []byte) []mediaplayer.MixerStream {
	var streams []mediaplayer.MixerStream
	var cur *mediaplayer.MixerStream

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Sink Input #"):
			if cur != nil {
				streams = append(streams, *cur)
				cur = nil
			}
			idx, err := strconv.ParseUint(strings.TrimPrefix(line, "Sink Input #"), 10, 32)
			if err != nil {
				continue
			}
			cur = &mediaplayer.MixerStream{Handle: uint32(idx), Volume: 1}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "application.name = "):
			name := strings.TrimPrefix(line, "application.name = ")
			cur.ApplicationName = strings.TrimSuffix(strings.TrimPrefix(name, `"`), `"`)
		case strings.HasPrefix(line, "Volume:"):
			if v, ok := parseVolumePercent(line); ok {
				cur.Volume = v
			}
		}
	}
	if cur != nil {
		streams = append(streams, *cur)
	}
	return streams
}

// parseVolumePercent reads the first channel's percentage from a line like
// "Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: ...".
func parseVolumePercent(line string) (float64, bool) {
	pctIdx := strings.IndexByte(line, '%')
	if pctIdx < 0 {
		return 0, false
	}
	before := line[:pctIdx]
	field := before[strings.LastIndexByte(before, ' ')+1:]
	pct, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, false
	}
	return pct / 100, true
}
