package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dweymouth/mediatray/backend"
	"github.com/dweymouth/mediatray/backend/ipc"
	"github.com/dweymouth/mediatray/res"
)

func main() {
	flag.Parse()
	if *backend.FlagVersion {
		fmt.Println(res.AppVersion)
		return
	}
	if *backend.FlagHelp {
		flag.Usage()
		return
	}

	if backend.HaveCommandLineOptions() {
		cli, err := ipc.Connect()
		if err != nil {
			log.Fatalf("%s is not running", res.DisplayName)
		}
		if err := runCommands(cli, os.Stdout); err != nil {
			log.Fatalf("error: %v", err)
		}
		return
	}

	myApp, err := backend.StartupApp(res.AppName, res.AppVersionTag, *backend.FlagVerbose)
	if errors.Is(err, backend.ErrAnotherInstance) {
		log.Printf("%s is already running", res.DisplayName)
		return
	}
	if err != nil {
		log.Fatalf("fatal startup error: %v", err.Error())
	}
	if myApp.IsFirstLaunch() {
		myApp.ConfigStore.Save()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	myApp.Run(ctx)

	log.Println("Running shutdown tasks...")
	myApp.Shutdown()
}
