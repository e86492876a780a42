// Package commands provides CLI command implementations for tracefang.
package commands

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tracefang/pkg/observability"
)

// serviceName identifies the CLI in exported telemetry.
const serviceName = "tracefang"

// rootOptions holds the persistent flags shared by all commands.
type rootOptions struct {
	configPath   string
	logLevel     string
	logJSON      bool
	otlpEndpoint string
	otlpInsecure bool

	providers observability.Providers
}

// NewRootCommand creates the tracefang root command with all subcommands.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "tracefang",
		Short:         "Statistical fault localization from execution traces",
		Long:          "tracefang replays recorded execution traces of passing and failing runs and ranks source locations by the likelihood that they caused the failure.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.initObservability()
		},
		PersistentPostRunE: func(cobraCmd *cobra.Command, _ []string) error {
			if opts.providers.Shutdown == nil {
				return nil
			}

			return opts.providers.Shutdown(cobraCmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Emit JSON logs")
	rootCmd.PersistentFlags().StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces and metrics")
	rootCmd.PersistentFlags().BoolVar(&opts.otlpInsecure, "otlp-insecure", false, "Disable transport security for the OTLP exporter")

	rootCmd.AddCommand(NewAnalyzeCommand(opts))
	rootCmd.AddCommand(NewRankCommand(opts))
	rootCmd.AddCommand(NewFeaturesCommand(opts))
	rootCmd.AddCommand(NewMappingCommand(opts))

	return rootCmd
}

func (opts *rootOptions) initObservability() error {
	providers, err := observability.Init(observability.Config{
		ServiceName:  serviceName,
		OTLPEndpoint: opts.otlpEndpoint,
		OTLPInsecure: opts.otlpInsecure,
		LogLevel:     parseLogLevel(opts.logLevel),
		LogJSON:      opts.logJSON,
	})
	if err != nil {
		return err
	}

	opts.providers = providers
	slog.SetDefault(providers.Logger)

	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// commandContext returns the command's context, falling back to Background.
func commandContext(cobraCmd *cobra.Command) context.Context {
	ctx := cobraCmd.Context()
	if ctx == nil {
		return context.Background()
	}

	return ctx
}
