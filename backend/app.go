package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/20after4/configdir"
	"github.com/dweymouth/mediatray/backend/artfetch"
	"github.com/dweymouth/mediatray/backend/ipc"
	"github.com/dweymouth/mediatray/backend/mediaplayer"
	"github.com/dweymouth/mediatray/backend/mixer/pulse"
	"github.com/dweymouth/mediatray/backend/player/mpris"
	"github.com/dweymouth/mediatray/backend/util"
)

const (
	configFile          = "config.toml"
	portableDir         = "mediatray_portable"
	configWriteInterval = 2 * time.Minute
)

var ErrAnotherInstance = errors.New("another instance is running")

type App struct {
	ConfigStore *ConfigStore
	Engine      *Engine

	appName       string
	appVersionTag string
	configDir     string
	portableMode  bool
	verbose       bool

	isFirstLaunch bool // set by config file reader
	bgrndCtx      context.Context
	cancel        context.CancelFunc

	endpoints *mpris.Adapter
	ipcServer *http.Server
	running   atomic.Bool
	runDone   chan struct{}
	stopOnce  sync.Once
}

func (a *App) VersionTag() string {
	return a.appVersionTag
}

func StartupApp(appName, appVersionTag string, verbose bool) (*App, error) {
	var confDir string
	portableMode := false
	if p := checkPortablePath(); p != "" {
		confDir = path.Join(p, "config")
		portableMode = true
	} else {
		confDir = configdir.LocalConfig(appName)
	}
	// ensure config dir exists
	configdir.MakePath(confDir)

	if _, err := ipc.Connect(); err == nil {
		return nil, ErrAnotherInstance
	}

	log.Printf("Starting %s...", appName)
	log.Printf("Using config dir: %s", confDir)

	a := &App{
		appName:       appName,
		appVersionTag: appVersionTag,
		configDir:     confDir,
		portableMode:  portableMode,
		verbose:       verbose,
		runDone:       make(chan struct{}),
	}
	a.bgrndCtx, a.cancel = context.WithCancel(context.Background())

	cfg := a.readConfig()
	a.ConfigStore = NewConfigStore(a.configFilePath(), cfg)
	if prev := a.ConfigStore.SetLastLaunchedVersion(appVersionTag); prev != "" && prev != appVersionTag {
		log.Printf("Upgraded from %s", prev)
	}
	a.ConfigStore.StartWriter(a.bgrndCtx, configWriteInterval)
	if err := a.ConfigStore.Watch(a.bgrndCtx); err != nil {
		log.Printf("Not watching config file for changes: %v", err)
	}

	endpoints, err := mpris.Connect()
	if err != nil {
		a.cancel()
		return nil, fmt.Errorf("failed to connect to media players: %w", err)
	}
	a.endpoints = endpoints

	var mixer mediaplayer.MixerAdapter
	if m, err := pulse.New(); err == nil {
		mixer = m
	} else {
		log.Printf("System mixer not found, only players' own volume controls will work: %v", err)
	}

	a.Engine = a.newEngine(endpoints, mixer, cfg)
	a.ConfigStore.OnReload = a.Engine.RequestRefresh

	if listener, err := ipc.Listen(); err == nil {
		a.ipcServer = ipc.NewServer(a.Engine)
		go a.ipcServer.Serve(listener)
	} else {
		log.Printf("Failed to start IPC server, command line control unavailable: %v", err)
	}

	return a, nil
}

func (a *App) newEngine(endpoints mediaplayer.EndpointAdapter, mixer mediaplayer.MixerAdapter, cfg *Config) *Engine {
	fetcher := artfetch.New(artfetch.Options{
		MaxBytes: int64(cfg.Application.MaxArtSizeMB) * 1_048_576,
		Retries:  cfg.Application.ArtFetchRetries,
		Verbose:  a.verbose,
	})
	art := NewAlbumArtCache(a.bgrndCtx, fetcher, ThumbnailDecoder(cfg.Application.ArtThumbnailSize))
	return NewEngine(endpoints, mixer, art, a.ConfigStore, cfg.EndpointTimeout(), EngineOptions{
		PollInterval:   cfg.PollInterval(),
		CommandTimeout: cfg.CommandTimeout(),
	})
}

func (a *App) IsFirstLaunch() bool {
	return a.isFirstLaunch
}

func (a *App) IsPortableMode() bool {
	return a.portableMode
}

// Run drives the engine and logs its notifications until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	if !a.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-a.bgrndCtx.Done()
		cancel()
	}()

	if a.verbose {
		a.Engine.OnViewUpdate(newViewLogger().logChanges)
	}

	engineDone := make(chan struct{})
	go func() {
		a.Engine.Run(ctx)
		close(engineDone)
	}()

	for {
		select {
		case <-ctx.Done():
			<-engineDone
			close(a.runDone)
			return
		case n := <-a.Engine.Notifications():
			if n.Key != "" {
				log.Printf("%s: %v", n.Key, n.Err)
			} else {
				log.Printf("%v", n.Err)
			}
		}
	}
}

func checkPortablePath() string {
	if p, err := os.Executable(); err == nil {
		pdirPath := path.Join(filepath.Dir(p), portableDir)
		if s, err := os.Stat(pdirPath); err == nil && s.IsDir() {
			return pdirPath
		}
	}
	return ""
}

func (a *App) readConfig() *Config {
	cfgPath := a.configFilePath()
	var cfgExists bool
	if _, err := os.Stat(cfgPath); err == nil {
		cfgExists = true
	}
	a.isFirstLaunch = !cfgExists
	cfg, err := ReadConfigFile(cfgPath)
	if err != nil {
		if cfgExists {
			log.Printf("Error reading app config file: %v", err)
			backupCfgName := fmt.Sprintf("%s.bak", configFile)
			log.Printf("Config file may be malformed: copying to %s", backupCfgName)
			_ = util.CopyFile(cfgPath, path.Join(a.configDir, backupCfgName))
		}
		cfg = DefaultConfig()
	}
	return cfg
}

// Shutdown stops the engine, closes the IPC server and bus connection, and saves the config.
// It waits for a running Run to return.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		a.cancel()
		if a.ipcServer != nil {
			a.ipcServer.Close()
			ipc.DestroyConn()
		}
		if a.running.Load() {
			select {
			case <-a.runDone:
			case <-time.After(5 * time.Second):
				log.Println("Timed out waiting for engine to stop")
			}
		}
		if err := a.ConfigStore.Save(); err != nil {
			log.Printf("Failed to save config: %v", err)
		}
		if a.endpoints != nil {
			a.endpoints.Close()
		}
	})
}

func (a *App) configFilePath() string {
	return path.Join(a.configDir, configFile)
}

// viewLogger logs the visible players whenever their key or status changes.
type viewLogger struct {
	last string
}

func newViewLogger() *viewLogger {
	return &viewLogger{}
}

func (v *viewLogger) logChanges(view *mediaplayer.PlayerView) {
	parts := make([]string, 0, len(view.Entries))
	for _, e := range view.Entries {
		parts = append(parts, fmt.Sprintf("%s (%s)", e.Player.Key, e.Player.Status()))
	}
	summary := strings.Join(parts, ", ")
	if summary == v.last {
		return
	}
	v.last = summary
	if summary == "" {
		summary = "none"
	}
	log.Printf("Players: %s", summary)
}
