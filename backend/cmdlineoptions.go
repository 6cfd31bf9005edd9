package backend

import (
	"flag"
	"strconv"
	"strings"
)

const selectNone = "none"

var (
	VolumeCLIArg int   = -1
	SeekToCLIArg int64 = -1

	FlagPlayPause = flag.Bool("play-pause", false, "toggle play/pause of the target player")
	FlagPrevious  = flag.Bool("previous", false, "skip the target player to the previous track")
	FlagNext      = flag.Bool("next", false, "skip the target player to the next track")
	FlagPlayer    = flag.String("player", "", "application key of the player to control (default: selected, else first shown)")
	FlagSelect    = flag.String("select", "", "select the player shown in single-player mode ('none' to clear)")
	FlagDiscover  = flag.Bool("discover", false, "scan for players now")
	FlagStatus    = flag.Bool("status", false, "print the current players and exit")
	FlagVerbose   = flag.Bool("verbose", false, "log more detail, including each art download attempt")
	FlagVersion   = flag.Bool("version", false, "print app version and exit")
	FlagHelp      = flag.Bool("help", false, "print command line options and exit")
)

func init() {
	flag.Func("volume", "sets the target player's volume (0-100)", func(s string) error {
		v, err := strconv.Atoi(strings.TrimSuffix(s, "%"))
		VolumeCLIArg = v
		return err
	})
	flag.Func("seek-to", "seeks the target player to the given position in milliseconds", func(s string) error {
		v, err := strconv.ParseInt(s, 10, 64)
		SeekToCLIArg = v
		return err
	})
}

// HaveCommandLineOptions reports whether any flag that is meant
// for a running instance was given. -verbose alone starts the app.
func HaveCommandLineOptions() bool {
	visitedAny := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name != "verbose" {
			visitedAny = true
		}
	})
	return visitedAny
}

// SelectCLIArg returns the key passed to -select, mapping "none" to the empty key.
func SelectCLIArg() (key string, ok bool) {
	if *FlagSelect == "" {
		return "", false
	}
	if strings.EqualFold(*FlagSelect, selectNone) {
		return "", true
	}
	return *FlagSelect, true
}
