package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mtgjson/mtgjson-go/internal/core/config"
	"github.com/mtgjson/mtgjson-go/internal/logging"
	"github.com/mtgjson/mtgjson-go/internal/metrics"
	"github.com/mtgjson/mtgjson-go/internal/metrics/datadog"
	"github.com/mtgjson/mtgjson-go/internal/sdk"
)

const Version = "0.1.0"

var (
	configFile string
	cacheDir   string
	offline    bool
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "mtgjson",
	Short:         "Query MTGJSON data locally",
	Long:          `mtgjson downloads MTGJSON snapshot files on demand, caches them, and queries them with an embedded analytical engine.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Init(logging.Config{Level: logLevel, Format: logFormat, Output: cmd.ErrOrStderr()})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "cache directory (default: platform cache dir)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "never contact the CDN; use cached files only")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file and environment, then applies the
// persistent flags the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("cache-dir") {
		cfg.CacheDir = cacheDir
	}
	if cmd.Flags().Changed("offline") {
		cfg.Offline = offline
	}
	return cfg, nil
}

// openSession loads configuration, installs the metrics backend and opens a
// session. The returned cleanup closes both.
func openSession(cmd *cobra.Command, opts ...func(*sdk.Options)) (*sdk.Session, *config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	stopMetrics, err := startMetrics(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	o := sdk.OptionsFromConfig(cfg)
	for _, fn := range opts {
		fn(&o)
	}
	session, err := sdk.Open(o)
	if err != nil {
		stopMetrics()
		return nil, nil, nil, err
	}
	return session, cfg, func() {
		session.Close()
		stopMetrics()
	}, nil
}

func startMetrics(ctx context.Context, cfg *config.Config) (func(), error) {
	if !cfg.Datadog {
		return func() {}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := datadog.NewBackend(ctx, datadog.Options{
		JobName:    cfg.JobName,
		Tags:       cfg.Tags,
		FlushEvery: cfg.FlushEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start datadog metrics: %w", err)
	}
	metrics.SetBackend(backend)
	return func() {
		metrics.SetBackend(nil)
		if err := backend.Close(); err != nil {
			logging.WithComponent("metrics").Warn("final metrics flush failed", "error", err)
		}
	}, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
