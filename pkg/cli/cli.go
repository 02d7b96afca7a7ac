// Package cli parses the small set of flags the pimidbox binary accepts.
// Everything else - the configuration wizard, log routing, USB sync UI -
// is orchestration left to the calling script; this package only turns
// argv into a Config the composition root can act on.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Config holds the parsed command-line flags.
type Config struct {
	RouteAll    bool   // -a / --all: bypass mappings, route every input to every output
	ConfigPath  string // -c / --config <path>
	Configure   bool   // --configure: hand off to the external configuration wizard
	List        bool   // -l / --list: print connected devices and exit
	Hotplug     bool   // -h / --hotplug
	Verbose     bool   // -v / --verbose
	ShowHelp    bool
}

const defaultConfigPath = "./config.json"

// ParseArgs parses argv (excluding the program name) into a Config.
func ParseArgs(args []string) (*Config, error) {
	reordered := reorderArgs(args)

	fs := flag.NewFlagSet("pimidbox", flag.ContinueOnError)
	cfg := &Config{ConfigPath: defaultConfigPath, Hotplug: true}

	fs.BoolVar(&cfg.RouteAll, "all", false, "route every input to every output, bypassing mappings")
	fs.BoolVar(&cfg.RouteAll, "a", false, "short for --all")
	fs.StringVar(&cfg.ConfigPath, "config", defaultConfigPath, "configuration document path")
	fs.StringVar(&cfg.ConfigPath, "c", defaultConfigPath, "short for --config")
	fs.BoolVar(&cfg.Configure, "configure", false, "invoke the configuration wizard")
	fs.BoolVar(&cfg.List, "list", false, "print name, port for every connected MIDI device and exit")
	fs.BoolVar(&cfg.List, "l", false, "short for --list")
	fs.BoolVar(&cfg.Hotplug, "hotplug", true, "reopen devices on add events")
	fs.BoolVar(&cfg.Hotplug, "h", true, "short for --hotplug")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "lower the log threshold")
	fs.BoolVar(&cfg.Verbose, "v", false, "short for --verbose")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "show this help")

	if err := fs.Parse(reordered); err != nil {
		return nil, err
	}

	return cfg, nil
}

// boolFlags lists every flag registered with BoolVar in ParseArgs.
// reorderArgs consults it to tell a value-taking flag (whose following
// token belongs to it) from a boolean one (whose following token is a
// separate, possibly positional, argument).
var boolFlags = map[string]bool{
	"-a": true, "--all": true,
	"--configure": true,
	"-l": true, "--list": true,
	"-h": true, "--hotplug": true,
	"-v": true, "--verbose": true,
	"--help": true,
}

// reorderArgs places flags before any stray positional arguments so the
// underlying flag.FlagSet (which stops at the first non-flag token) sees
// every flag regardless of where the user put it. A flag that isn't
// boolean keeps its following token paired with it (e.g. "-c foo.json"),
// so that token travels with the flag instead of being bucketed as a
// positional argument that would otherwise land ahead of it.
func reorderArgs(args []string) []string {
	var flags, positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)

			hasValue := strings.Contains(arg, "=")
			if !hasValue && !boolFlags[arg] && i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' {
				i++
				flags = append(flags, args[i])
			}
			continue
		}
		positional = append(positional, arg)
	}

	return append(flags, positional...)
}

// PrintHelp writes the flag summary to stdout.
func PrintHelp() {
	fmt.Fprint(os.Stdout, `pimidbox - MIDI routing and clock-generation daemon

Usage:
  pimidbox [options]

Options:
  -a, --all              Route every input to every output, bypassing mappings
  -c, --config <path>    Configuration document path (default: ./config.json)
      --configure        Invoke the configuration wizard
  -l, --list             Print name, port for every connected MIDI device and exit
  -h, --hotplug          Reopen devices on add events (default: true)
  -v, --verbose          Lower the log threshold

Exit codes: 0 normal, 1 on uncaught fatal error.
`)
}
