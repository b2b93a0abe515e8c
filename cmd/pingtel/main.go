// Package main is the entry point for the pingtel agent.
// It loads configuration, probes the configured targets, uploads every
// measurement and keeps undeliverable ones in the durable buffer. It runs as
// either a Windows service or a foreground process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/autostart"
	"github.com/Guliveer/pingtel/internal/collector"
	"github.com/Guliveer/pingtel/internal/config"
	"github.com/Guliveer/pingtel/internal/service"
	"github.com/Guliveer/pingtel/internal/setup"
)

// version is set at build time via -ldflags.
var version = "dev"

// flags holds the values shared by every command.
type flags struct {
	configPath string
	envFile    string
	source     string
	bufferPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "pingtel",
		Short: "Ping telemetry agent with durable at-least-once delivery",
		Long: `pingtel probes a set of IPv4 targets and uploads every measurement to a
time-series ingestion service. Measurements that cannot be delivered are kept
in a local buffer and retried until they are accepted.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Path to configuration file (default: auto-discover)")
	pf.StringVar(&f.envFile, "env-file", "", "Path to .env file with credentials (default: ./.env if present)")
	pf.StringVar(&f.source, "source", "", "Source identity stamped on every record (default: host name)")
	pf.StringVar(&f.bufferPath, "buffer", "", "Path to the durable buffer file")
	pf.BoolVar(&f.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(f),
		newDrainCmd(f),
		newStatusCmd(f),
		newInstallCmd(f),
		newUninstallCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pingtel %s\n", version)
		},
	}
}

func newRunCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [target...]",
		Short: "Probe targets continuously and upload measurements",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), f, args)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := initLogger(cfg)
			defer logger.Sync()

			logger.Info("Starting pingtel",
				zap.String("version", version),
				zap.String("source", cfg.Source),
				zap.Strings("targets", cfg.Targets),
				zap.String("ingest", cfg.Ingest.URL))

			if service.IsWindowsService() {
				logger.Info("Running as Windows service")
				svc := service.New(logger, func(ctx context.Context) error {
					return runAgent(ctx, cfg, logger)
				})
				return svc.Run()
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := runAgent(ctx, cfg, logger); err != nil {
				logger.Error("Agent failed", zap.Error(err))
				return err
			}
			logger.Info("Agent stopped")
			return nil
		},
	}
}

func newDrainCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Upload buffered records once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), f, nil)
			if err != nil {
				return err
			}
			if err := cfg.ValidateDelivery(); err != nil {
				return err
			}

			logger := initLogger(cfg)
			defer logger.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			delivered, remaining, err := drainBuffer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered: %d\nremaining: %d\n", delivered, remaining)
			return nil
		},
	}
}

func newStatusCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the buffered record count and failure session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), f, nil)
			if err != nil {
				return err
			}
			st, err := bufferStatus(cfg)
			if err != nil {
				return err
			}
			session := st.Session
			if session == "" {
				session = "-"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "buffer:   %s\n", st.Path)
			fmt.Fprintf(out, "records:  %d\n", st.Records)
			fmt.Fprintf(out, "session:  %s\n", session)
			return nil
		},
	}
}

func newInstallCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "install [target...]",
		Short: "Install pingtel as a boot-time service",
		Long: `install resolves the configuration exactly like run, validates it, writes
it to the system config path and registers a service that runs
"pingtel run --config <path>" at boot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), f, args)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := setup.CheckElevation(); err != nil {
				return err
			}
			return setup.NewInstaller(autostart.New(), cmd.OutOrStdout()).Install(version, cfg)
		},
	}
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the pingtel service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup.CheckElevation(); err != nil {
				return err
			}
			return setup.NewInstaller(autostart.New(), cmd.OutOrStdout()).Uninstall()
		},
	}
}

// loadConfig resolves the layered configuration and fills in the host name
// when no source identity was configured.
func loadConfig(ctx context.Context, f *flags, targets []string) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cli := config.CLIOverrides{
		Targets:    targets,
		Source:     f.source,
		BufferPath: f.bufferPath,
		Debug:      f.debug,
		DotEnv:     f.envFile,
	}

	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadLayered(cli, embeddedConfig, f.configPath)
	} else {
		cfg, err = config.LoadLayered(cli, embeddedConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cfg.Source == "" {
		if name, err := collector.HostIdentity(ctx); err == nil {
			cfg.Source = name
		}
	}
	return cfg, nil
}
