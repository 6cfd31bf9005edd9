package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dweymouth/mediatray/backend"
	"github.com/dweymouth/mediatray/backend/ipc"
	"golang.org/x/term"
)

// commander is the subset of *ipc.Client the command line uses.
type commander interface {
	PlayPause(key string) error
	Next(key string) error
	Previous(key string) error
	SeekTo(key string, ms int64) error
	SetVolume(key string, pct int) error
	Select(key string) error
	Discover() error
	View() (*ipc.ViewResponse, error)
}

// runCommands forwards the given flags to the running instance, in a fixed order.
func runCommands(c commander, out io.Writer) error {
	key := *backend.FlagPlayer
	if sel, ok := backend.SelectCLIArg(); ok {
		if err := c.Select(sel); err != nil {
			return err
		}
	}
	if *backend.FlagDiscover {
		if err := c.Discover(); err != nil {
			return err
		}
	}
	if *backend.FlagPlayPause {
		if err := c.PlayPause(key); err != nil {
			return err
		}
	}
	if *backend.FlagPrevious {
		if err := c.Previous(key); err != nil {
			return err
		}
	}
	if *backend.FlagNext {
		if err := c.Next(key); err != nil {
			return err
		}
	}
	if backend.SeekToCLIArg >= 0 {
		if err := c.SeekTo(key, backend.SeekToCLIArg); err != nil {
			return err
		}
	}
	if backend.VolumeCLIArg >= 0 {
		if err := c.SetVolume(key, backend.VolumeCLIArg); err != nil {
			return err
		}
	}
	if *backend.FlagStatus {
		v, err := c.View()
		if err != nil {
			return err
		}
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return printStatusTable(out, v)
		}
		return printStatusJSON(out, v)
	}
	return nil
}

func printStatusJSON(out io.Writer, v *ipc.ViewResponse) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatusTable(out io.Writer, v *ipc.ViewResponse) error {
	if len(v.Players) == 0 {
		_, err := fmt.Fprintln(out, "No players")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tTRACK\tPOSITION\tVOLUME")
	for _, p := range v.Players {
		track := p.Title
		if p.Artist != "" {
			track = p.Artist + " - " + track
		}
		vol := "-"
		if p.Volume != nil {
			vol = fmt.Sprintf("%d%% (%s)", int(*p.Volume*100+0.5), p.VolumeSource)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Key, p.Status, track, formatPosition(p.PositionMs), vol)
	}
	return tw.Flush()
}

func formatPosition(ms int64) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
