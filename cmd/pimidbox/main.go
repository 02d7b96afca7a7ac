// Command pimidbox is the composition root: it parses flags, builds
// the registry/router/clock from a configuration document, starts the
// USB sync watcher, and runs until signaled.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/pimidbox/pimidbox/internal/config"
	"github.com/pimidbox/pimidbox/internal/registry"
	"github.com/pimidbox/pimidbox/internal/usbsync"
	"github.com/pimidbox/pimidbox/pkg/cli"
	"github.com/pimidbox/pimidbox/pkg/logger"
)

var log = logger.Component("main")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := cli.ParseArgs(args)
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}

	if cfg.ShowHelp {
		cli.PrintHelp()
		return nil
	}

	if cfg.List {
		for _, p := range registry.ListPorts() {
			fmt.Printf("%s, %d\n", p.Name, p.Port)
		}
		return nil
	}

	if cfg.Configure {
		fmt.Println("configuration wizard not included in this build")
		return nil
	}

	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	if err := logger.InitLogger(level); err != nil {
		return fmt.Errorf("main: %w", err)
	}

	doc, err := config.Load(cfg.ConfigPath)
	if err != nil {
		// Configuration errors are fatal at initial load (spec.md §7.1).
		return fmt.Errorf("main: %w", err)
	}
	doc.Options.Hotplug = doc.Options.Hotplug && cfg.Hotplug

	reg := registry.New(doc.Options.Hotplug)

	if cfg.RouteAll {
		return runRouteAll(reg)
	}

	rtr, clk, err := config.Apply(doc, reg)
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}

	if err := rtr.ActivateAll(); err != nil {
		return fmt.Errorf("main: %w", err)
	}
	if clk != nil {
		clk.Play()
	}

	var watcher *usbsync.Watcher
	if doc.Options.SyncConfigToUsb {
		watcher = startUSBSync(cfg.ConfigPath)
	}

	log.Info().Str("config", cfg.ConfigPath).Bool("hotplug", doc.Options.Hotplug).Msg("pimidbox running")

	waitForShutdown()

	if watcher != nil {
		watcher.Stop()
	}
	rtr.OnExit(reg)
	return nil
}

// runRouteAll implements -a/--all: every input routed to every
// output, bypassing mappings entirely.
func runRouteAll(reg *registry.Registry) error {
	inputs, failures := reg.OpenAllInputs()
	for _, f := range failures {
		log.Error().Err(f.Err).Str("device", f.Record.Name).Msg("could not open input")
	}

	outputs, outFailures := reg.OpenAllOutputs()
	for _, f := range outFailures {
		log.Error().Err(f.Err).Str("device", f.Record.Name).Msg("could not open output")
	}

	for _, in := range inputs {
		err := in.Subscribe(func(data []byte, _ int32) {
			for _, out := range outputs {
				if err := out.Send(data); err != nil {
					log.Error().Err(err).Str("device", out.Name()).Msg("send failed")
				}
			}
		})
		if err != nil {
			log.Error().Err(err).Str("device", in.Name()).Msg("subscribe failed")
		}
	}

	log.Info().Int("inputs", len(inputs)).Int("outputs", len(outputs)).Msg("route-all mode running")
	waitForShutdown()
	reg.OnExit()
	return nil
}

func startUSBSync(localPath string) *usbsync.Watcher {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.Error().Err(err).Msg("usb sync disabled: could not connect to the system bus")
		return nil
	}

	watcher := usbsync.New(conn, localPath, func(winningPath string) {
		if winningPath != localPath {
			if synced, err := config.Load(winningPath); err == nil {
				_ = config.Save(localPath, synced)
			}
		}
	})
	if err := watcher.Start(); err != nil {
		log.Error().Err(err).Msg("usb sync disabled: could not subscribe to udisks2")
		return nil
	}
	return watcher
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
