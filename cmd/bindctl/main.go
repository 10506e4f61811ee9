// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// bindctl is the control plane daemon for a BIND9-backed hybrid
// recursive/authoritative DNS service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/bindctl/internal/config"
	"grimm.is/bindctl/internal/daemon"
	"grimm.is/bindctl/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: bindctl <command> [flags]

Commands:
  run      Run the daemon in the foreground
  check    Validate configuration and the BIND tree, then exit
  version  Print version information

Flags:
  -config path   Configuration file (default /etc/bindctl/bindctl.hcl)
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	configPath := fs.String("config", "/etc/bindctl/bindctl.hcl", "configuration file")
	fs.Parse(os.Args[2:])

	var err error
	switch os.Args[1] {
	case "run":
		err = runDaemon(*configPath)
	case "check":
		err = runCheck(*configPath)
	case "version":
		fmt.Printf("bindctl %s (%s)\n", version, commit)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bindctl: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, queueing redeploy")
				d.TriggerReload("sighup")
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return
		}
	}()

	logger.Info("starting bindctl", "version", version, "config", configPath)
	return d.Run(ctx)
}

func runCheck(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := daemon.CheckNamedConf(cfg.BindConfigDir); err != nil {
		return err
	}
	fmt.Printf("configuration ok: %s\n", configPath)
	return nil
}
