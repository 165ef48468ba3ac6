package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sammck-go/tunbridge/internal/config"
	"github.com/sammck-go/tunbridge/internal/logging"
	"github.com/sammck-go/tunbridge/internal/tunnel"
)

var help = `
  Usage: tunbridge <config-file>

  <config-file> is a tab-separated key/value file selecting one of
  LOCAL_STANDALONE, LOCAL_FRONT, REMOTE_STANDALONE or REMOTE_FORWARD mode.

  Signals:
    SIGINT triggers a clean shutdown.
`

func sigIntHandler(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT)
	defer signal.Stop(sig)
	select {
	case <-sig:
		log.Printf("SIGINT received; shutting down")
		cancel()
	case <-ctx.Done():
	}
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Printf("%s", err)
		os.Exit(1)
	}

	log0 := logging.New(cfg.Mode.String(), logging.ParseLevel("info"), nil)
	if cfg.DebugFile != "" {
		f, err := os.OpenFile(cfg.DebugFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Printf("open debug_file %q: %s", cfg.DebugFile, err)
			os.Exit(1)
		}
		defer f.Close()
		log0 = logging.New(cfg.Mode.String(), logging.ParseLevel("debug"), f)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sigIntHandler(ctx, cancel)

	switch cfg.Mode {
	case config.LocalStandalone, config.LocalFront:
		err = tunnel.RunLocal(ctx, cfg, log0)
	case config.RemoteStandalone, config.RemoteForward:
		err = tunnel.RunRemote(ctx, cfg, log0)
	default:
		log0.Errorf("unreachable: invalid mode survived config.Load")
		os.Exit(1)
	}

	if err != nil {
		log0.Errorf("exiting: %s", err)
		os.Exit(1)
	}
}
