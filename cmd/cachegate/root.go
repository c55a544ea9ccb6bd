package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/cachegate/internal/config"
	"github.com/Sternrassler/cachegate/pkg/engine"
	"github.com/Sternrassler/cachegate/pkg/logging"
	"github.com/Sternrassler/cachegate/pkg/offline"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

// app carries state shared by the subcommands.
type app struct {
	version    string
	configPath string
	logLevel   string
	pretty     bool
	listen     string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd(ver string) *cobra.Command {
	a := &app{version: ver}

	cmd := &cobra.Command{
		Use:           "cachegate",
		Short:         "Offline-capable request cache in front of an origin",
		Long:          "cachegate serves requests from a versioned, partitioned cache according to per-route strategies and redrives failed writes when the origin is reachable again.",
		Version:       ver,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "human-readable log output")

	cmd.AddCommand(
		newServeCmd(a),
		newDeployCmd(a),
		newQueueCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty = &a.pretty
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)

	a.cfg = cfg
	a.logger = logging.NewLogger(logging.ComponentServer)
	return nil
}

// newEngine builds an engine for version on backend.
func (a *app) newEngine(ctx context.Context, backend storage.Backend, version string) (*engine.Engine, error) {
	classifier, err := a.cfg.Classifier()
	if err != nil {
		return nil, err
	}
	page, image, err := a.cfg.OfflineDocuments()
	if err != nil {
		return nil, err
	}

	return engine.New(ctx, engine.Options{
		Backend:      backend,
		BuildVersion: version,
		Classifier:   classifier,
		Fetch:        a.cfg.FetchConfig(),
		Queue:        a.cfg.QueueConfig(),
		Precache:     a.cfg.PrecacheConfig(),
		PrecacheURLs: a.cfg.PrecacheURLs(),
		Offline:      offline.New(page, image),
	})
}

func (a *app) origin() (*url.URL, error) {
	if err := a.cfg.ValidateOrigin(); err != nil {
		return nil, err
	}
	u, err := url.Parse(a.cfg.Server.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	return u, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cachegate version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cachegate %s\n", a.version)
		},
	}
}
