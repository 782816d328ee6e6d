// Command trdpd runs a TRDP device: a process data publisher and
// subscriber, a message data endpoint and the diagnostics REST API,
// driven by one cooperative event loop.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/saelay/trdpstack/internal/config"
	"github.com/saelay/trdpstack/internal/daemon"
	"github.com/saelay/trdpstack/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	ownIP      string
	pdPort     int
	mdPort     int
	dbPath     string
	jsonLogs   bool
	debug      bool
	apiPort    int
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.ownIP, "own-ip", "", "Override the session's interface address")
	flag.IntVar(&f.pdPort, "pd-port", 0, "Override the process data UDP port")
	flag.IntVar(&f.mdPort, "md-port", 0, "Override the message data UDP/TCP port")
	flag.StringVar(&f.dbPath, "db", "", "Path to the telegram directory database")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.IntVar(&f.apiPort, "api-port", 0, "Enable the diagnostics API on this port")
	flag.Parse()
	return f
}

// applyCLIOverrides applies command-line overrides to the config.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.ownIP != "" {
		cfg.Session.OwnIP = f.ownIP
	}
	if f.pdPort != 0 {
		cfg.PD.Port = f.pdPort
	}
	if f.mdPort != 0 {
		cfg.MD.UDPPort = f.mdPort
		cfg.MD.TCPPort = f.mdPort
	}
	if f.dbPath != "" {
		cfg.Store.Path = f.dbPath
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
	if f.apiPort != 0 {
		cfg.API.Enabled = true
		cfg.API.Port = f.apiPort
	}
}

func run() error {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyCLIOverrides(cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})

	return daemon.NewRunner(logger).Run(cfg)
}
