package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"CollabBoard/internal/config"
	boardnet "CollabBoard/internal/net"
	"CollabBoard/internal/server"
)

type serveOptions struct {
	configPath string
	envFile    string
	port       int
	mdns       bool
	logLevel   string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the whiteboard server",
		Long: `Run the whiteboard server until interrupted.

Configuration is layered: built-in defaults, then the YAML file given by
--config, then environment variables (a .env file is loaded first if
present), then command line flags.

Environment:
  PORT                listen port (default 3000)
  BOARD_HOST          listen host
  BOARD_LOG_LEVEL     debug, info, warn or error
  REDIS_ADDR          mirror room events to this Redis server
  BOARD_REDIS_PREFIX  Redis channel prefix (default "collabboard")
  BOARD_MDNS          advertise on the local network (true/false)

Examples:
  collabboard serve
  collabboard serve --port 8080 --mdns
  collabboard serve --config board.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	bindServeFlags(cmd.Flags(), opts)
	return cmd
}

func bindServeFlags(f *pflag.FlagSet, opts *serveOptions) {
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	f.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	f.IntVarP(&opts.port, "port", "p", config.DefaultPort, "Port to listen on")
	f.BoolVar(&opts.mdns, "mdns", false, "Advertise the board on the local network")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := resolveConfig(cmd.Flags(), opts)
	if err != nil {
		return err
	}

	level, _ := cfg.SlogLevel()
	logger := newLogger(cmd.ErrOrStderr(), level)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	if ip, err := boardnet.GetOutgoingIP(); err == nil {
		logger.Info("share this address with collaborators", "url", boardnet.ShareURL(ip, cfg.Port))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// resolveConfig loads the dotenv file and the config, then applies the
// flags the user explicitly set.
func resolveConfig(flags *pflag.FlagSet, opts *serveOptions) (*config.Config, error) {
	if opts.envFile != "" {
		if err := config.LoadDotEnv(opts.envFile); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("mdns") {
		cfg.MDNS.Enabled = opts.mdns
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
