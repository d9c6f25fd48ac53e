package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"rings/pkg/rings"
)

type rootOptions struct {
	configPath string
	storeKind  string
	dbPath     string
	verbose    bool
	json       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ringsctl",
		Short:         "Evolve synthesis genomes toward healthy audio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.storeKind, "store", "", "store backend: memory|sqlite|file (overrides config)")
	flags.StringVar(&opts.dbPath, "db-path", "", "store path (overrides config)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress details")
	flags.BoolVar(&opts.json, "json", false, "print JSON instead of text")

	root.AddCommand(
		newRunCmd(opts),
		newGenerateCmd(opts),
		newPopulationCmd(opts),
		newFeaturesCmd(opts),
		newRunsCmd(opts),
	)
	return root
}

// loadConfig reads the config file and applies the persistent overrides.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (FileConfig, error) {
	cfg, err := LoadFileConfig(o.configPath)
	if err != nil {
		return FileConfig{}, err
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Kind = o.storeKind
	}
	if cmd.Flags().Changed("db-path") {
		cfg.Store.Path = o.dbPath
	}
	return cfg, nil
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) openClient(cmd *cobra.Command, cfg FileConfig) (*rings.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	studio := cfg.StudioConfig()
	studio.Logger = o.logger(cmd)
	client, err := rings.New(rings.Options{
		StoreKind: cfg.Store.Kind,
		DBPath:    cfg.Store.Path,
		Studio:    &studio,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cleanPath(p string) string {
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}
