package main

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"workspacemodel/internal/blob"
	"workspacemodel/internal/config"
	"workspacemodel/internal/core"
	"workspacemodel/internal/importer"
	"workspacemodel/internal/jps"
	"workspacemodel/internal/journal"
)

// app carries the state shared by all subcommands once flags are parsed.
type app struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	journal *journal.Journal
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "wsmodel",
		Short:         "Workspace entity model tools",
		Long:          "wsmodel imports build-system project descriptors into a workspace entity model, applies dependency substitution and reports the resulting changes.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default .wsmodel.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("conflict-policy", "", "diff conflict policy (source_wins or target_wins)")
	flags.String("system", "", "external system recorded as the source of imported entities")
	flags.String("coordinates", "", "YAML file of artifact coordinates for dependency substitution")
	flags.String("store-driver", "", "blob store holding descriptors and reports (fs, s3, memory)")
	flags.String("store-root", "", "root directory of the fs blob store")
	flags.String("journal-driver", "", "database recording committed write actions (sqlite, postgres)")
	flags.String("journal-dsn", "", "journal database file or connection string")

	root.AddCommand(newImportCmd(a), newDiffCmd(a), newHistoryCmd(a))
	return root, a
}

var flagKeys = map[string]string{
	"log-level":       "log_level",
	"conflict-policy": "conflict_policy",
	"system":          "import.system",
	"coordinates":     "import.coordinates",
	"store-driver":    "store.driver",
	"store-root":      "store.root",
	"journal-driver":  "journal.driver",
	"journal-dsn":     "journal.dsn",
}

func (a *app) init(cmd *cobra.Command) error {
	v, err := config.New(a.cfgFile)
	if err != nil {
		return err
	}
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	if cfg.Journal.Driver != "" {
		j, err := journal.Open(cmd.Context(), cfg.Journal.Driver, cfg.Journal.DSN, journal.WithLogger(logger))
		if err != nil {
			return err
		}
		a.journal = j
	}
	return nil
}

// close releases what init acquired. It is safe to call when init failed.
func (a *app) close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// service builds an empty workspace service reporting to reg and, when
// configured, to the journal.
func (a *app) service(reg prometheus.Registerer) (*core.Service, error) {
	policy, err := a.cfg.Policy()
	if err != nil {
		return nil, err
	}
	rec, err := core.NewPrometheusRecorder(reg, a.cfg.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithConflictPolicy(policy),
		core.WithMetricsRecorder(rec),
	}
	if a.journal != nil {
		opts = append(opts, core.WithListener(a.journal.Listener()))
	}
	return core.NewService(jps.Schema(), opts...)
}

func (a *app) importer(svc *core.Service) (*importer.Importer, error) {
	opts := []importer.Option{importer.WithLogger(a.logger)}
	if path := a.cfg.Import.Coordinates; path != "" {
		c, err := importer.LoadCoordinates(path)
		if err != nil {
			return nil, fmt.Errorf("load coordinates: %w", err)
		}
		opts = append(opts, importer.WithCoordinates(c.Source()))
	}
	return importer.New(svc, a.cfg.Import.System, opts...), nil
}

func (a *app) store(cmd *cobra.Command) (blob.Store, error) {
	s, err := blob.Open(cmd.Context(), a.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return s, nil
}
