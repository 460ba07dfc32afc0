package main

import (
	"errors"
	"log/slog"
	"os"

	"spacescreen/config"

	"github.com/spf13/cobra"
)

// sessionFlags are shared by every command that talks to a spacedesk
// server. Only flags the user set override the config file.
type sessionFlags struct {
	configPath string
	debug      bool

	port       int
	resolution string
	quality    int
	hostname   string
	chunking   string
}

func (f *sessionFlags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML configuration file")
	pf.BoolVarP(&f.debug, "debug", "d", false, "Verbose logging")
	pf.IntVarP(&f.port, "port", "p", 0, "spacedesk server port (default 28252)")
	pf.StringVarP(&f.resolution, "resolution", "r", "", "Requested resolution, WxH")
	pf.IntVarP(&f.quality, "quality", "q", 0, "Requested quality, 1..100")
	pf.StringVar(&f.hostname, "hostname", "", "Name used for the client identification")
	pf.StringVar(&f.chunking, "chunking", "", "VIDEO_DATA layout: whole or indexed")
}

// load builds the effective configuration. host, when given, is the
// server address.
func (f *sessionFlags) load(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = f.debug
	}
	if flags.Changed("port") {
		cfg.Server.Port = f.port
	}
	if flags.Changed("resolution") {
		cfg.Server.Resolution = f.resolution
	}
	if flags.Changed("quality") {
		cfg.Server.Quality = f.quality
	}
	if flags.Changed("hostname") {
		cfg.Server.Hostname = f.hostname
	}
	if flags.Changed("chunking") {
		cfg.Server.Chunking = f.chunking
	}
	if len(args) > 0 {
		cfg.Server.Address = args[0]
	}

	setupLogging(cfg.Debug)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var errNoServer = errors.New("no spacedesk server address; pass it as an argument or set server.address")

func requireServer(cfg *config.Config) error {
	if cfg.Server.Address == "" {
		return errNoServer
	}
	return nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newRootCmd() *cobra.Command {
	flags := &sessionFlags{}
	view := &viewFlags{}

	rootCmd := &cobra.Command{
		Use:   "spacescreen [host]",
		Short: "Receive a spacedesk screen and relay it to browsers",
		Long: `spacescreen connects to a spacedesk server, negotiates a resolution and
quality, and receives the H.264 stream it sends.

Without a subcommand it behaves like "view": the stream is relayed to
browsers over WebRTC and WebSocket.

Examples:
  spacescreen 192.168.1.20
  spacescreen 192.168.1.20 -r 1280x720 -q 80
  spacescreen record 192.168.1.20 -o screen.h264
  spacescreen dummy --file sample.h264`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViewCmd(cmd, args, flags, view)
		},
	}
	flags.bind(rootCmd)
	view.bind(rootCmd)

	rootCmd.AddCommand(
		viewCmd(flags),
		recordCmd(flags),
		probeCmd(flags),
		dummyCmd(flags),
		versionCmd(),
	)
	return rootCmd
}
