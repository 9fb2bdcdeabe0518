// Command erpcore serves the ERP table API and offers operator tooling for
// the order tree, business number checks and row edits.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"erpcore/internal/blob"
	"erpcore/internal/config"
	"erpcore/internal/core"
	"erpcore/pkg/domain"
)

var exitFunc = os.Exit

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Format     string // "json" | "text"
	getenv     func(string) string
}

var validFormats = []string{"text", "json"}

func main() {
	if err := newRootCommand(os.Getenv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "erpcore:", err)
		exitFunc(1)
	}
}

func newRootCommand(getenv func(string) string) *cobra.Command {
	opts := &rootOptions{getenv: getenv}

	cmd := &cobra.Command{
		Use:           "erpcore",
		Short:         "ERP table engine",
		Long:          "Serves the ERP tables (orders, billings, receivables, employees, companies, books) over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (default $"+config.EnvConfigFile+")")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newTreeCommand(opts))
	cmd.AddCommand(newBRNCommand(opts))
	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newSetCommand(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	path := o.ConfigPath
	if path == "" {
		path = o.getenv(config.EnvConfigFile)
	}
	cfg, err := config.Load(path, o.getenv)
	if err != nil {
		return config.Config{}, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	return cfg, nil
}

// runtime is the opened storage plus the service built on it.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	backends core.Backends
	svc      *core.Service
}

func (r *runtime) Close() error { return r.backends.Close() }

func (o *rootOptions) open(ctx context.Context, logOut io.Writer, withBlobs bool, extra ...core.ServiceOption) (*runtime, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	logger, err := core.NewLogger(logOut, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	backends, err := core.OpenBackends(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	var blobs blob.Store
	if withBlobs {
		blobs, err = core.OpenBlob(ctx, cfg.Blob)
		if err != nil {
			_ = backends.Close()
			return nil, fmt.Errorf("open blob store: %w", err)
		}
	}
	opts := append([]core.ServiceOption{core.WithLogger(logger)}, extra...)
	return &runtime{
		cfg:      cfg,
		logger:   logger,
		backends: backends,
		svc:      core.NewService(backends, blobs, opts...),
	}, nil
}

// systemContext runs CLI work as the built-in administrator.
func systemContext(ctx context.Context) context.Context {
	return domain.WithActor(ctx, domain.SystemActor)
}
