package servecmder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/chatstream/pkg/backend"
	"github.com/papercomputeco/chatstream/pkg/chat"
	"github.com/papercomputeco/chatstream/pkg/config"
	"github.com/papercomputeco/chatstream/pkg/kernel"
	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/server"
)

const serveLongDesc string = `Start the streaming chat server.

Configuration is read from, in increasing precedence: built-in
defaults, the --config file (TOML or YAML), a .env file in the
working directory, the process environment and finally the flags
below.

Examples:
  chatstream serve
  chatstream serve --port 9000 --log-level DEBUG
  chatstream serve --config chatstream.toml`

const serveShortDesc string = "Start the streaming chat server"

// shutdownTimeout bounds how long in-flight connections get to drain.
const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	configPath string
	envFile    string
	host       string
	port       int
	logLevel   string
}

func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveCommander{})
}

func newServeCmd(cmder *serveCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML or YAML config file")
	cmd.Flags().StringVar(&cmder.envFile, "env-file", config.DefaultEnvFile, "Path to a dotenv file")
	cmd.Flags().StringVar(&cmder.host, "host", "", "Address to bind (overrides APP_HOST)")
	cmd.Flags().IntVarP(&cmder.port, "port", "p", 0, "Port to listen on (overrides APP_PORT)")
	cmd.Flags().StringVar(&cmder.logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN or ERROR (overrides LOG_LEVEL)")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("could not create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("chatstream starting", zap.Any("config", cfg.Redacted()))

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", cfg.Addr(), err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return Serve(ctx, cfg, log, ln)
}

// loadConfig layers the flags that were set on top of the loaded config.
func (c *serveCommander) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{File: c.configPath, EnvFile: c.envFile})
	if err != nil {
		return nil, fmt.Errorf("could not load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = c.host
	}
	if flags.Changed("port") {
		cfg.Port = c.port
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewServer wires the kernel, both backends and the orchestrator into an HTTP
// server for cfg.
func NewServer(cfg *config.Config, log *zap.Logger) *server.Server {
	masker := llm.NewMasker(cfg.Azure.APIKey)

	k := kernel.FromConfig(cfg, masker)
	svc := chat.New(
		chat.Config{SystemPrompt: cfg.SystemPrompt, Defaults: cfg.Generation},
		backend.NewManaged(k, kernel.AzureServiceID),
		backend.NewDirect(cfg.AzureSettings(), masker),
		log,
	)

	return server.New(server.Config{
		ListenAddr:           cfg.Addr(),
		CORSOrigins:          cfg.CORSOrigins,
		StreamTimeout:        cfg.Stream.Timeout.Duration,
		MaxConcurrentStreams: cfg.Stream.MaxConcurrent,
	}, svc, log)
}

// Serve runs the server on ln until ctx is cancelled or the server fails,
// then shuts it down.
func Serve(ctx context.Context, cfg *config.Config, log *zap.Logger, ln net.Listener) error {
	srv := NewServer(cfg, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.RunWithListener(ln); err != nil {
			return fmt.Errorf("chat server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down chat server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
