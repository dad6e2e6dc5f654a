package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"workspacemodel/internal/blob"
	"workspacemodel/internal/importer"
	"workspacemodel/internal/jps"
	"workspacemodel/pkg/domain"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		metrics bool
		prefix  string
		report  string
	)
	cmd := &cobra.Command{
		Use:   "import [descriptor...]",
		Short: "Import project descriptors and print a summary of each import",
		Long: "Import reads the descriptor files named on the command line, then every " +
			"descriptor stored under --prefix in the configured blob store, and imports " +
			"them in that order into one workspace.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !cmd.Flags().Changed("prefix") {
				return errors.New("requires at least one descriptor or --prefix")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			descriptors, err := parseAll(args)
			if err != nil {
				return err
			}
			var store blob.Store
			if cmd.Flags().Changed("prefix") || report != "" {
				if store, err = a.store(cmd); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("prefix") {
				stored, err := importer.LoadDescriptors(ctx, store, prefix)
				if err != nil {
					return err
				}
				descriptors = append(descriptors, stored...)
			}
			reg := prometheus.NewRegistry()
			svc, err := a.service(reg)
			if err != nil {
				return err
			}
			im, err := a.importer(svc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			reports := make([]importer.Report, 0, len(descriptors))
			for _, d := range descriptors {
				rep, err := im.Import(ctx, d)
				if err != nil {
					return err
				}
				printReport(out, rep)
				reports = append(reports, rep)
			}
			snap := svc.Snapshot()
			fmt.Fprintf(out, "workspace: %d entities, %d modules, %d libraries\n",
				snap.Len(), snap.Count(jps.ModuleType), snap.Count(jps.LibraryType))
			if report != "" {
				if err := importer.SaveReports(ctx, store, report, reports); err != nil {
					return fmt.Errorf("save report: %w", err)
				}
			}
			if metrics {
				return writeMetrics(out, reg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&metrics, "metrics", false, "print collected metrics in the Prometheus text format")
	cmd.Flags().StringVar(&prefix, "prefix", "", "also import every descriptor stored under this blob store prefix")
	cmd.Flags().StringVar(&report, "report", "", "blob store key receiving the YAML import reports")
	return cmd
}

// parseAll reads the descriptors concurrently and returns them in argument
// order.
func parseAll(paths []string) ([]importer.Descriptor, error) {
	out := make([]importer.Descriptor, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			d, err := importer.ParseFile(path)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func printReport(w io.Writer, rep importer.Report) {
	counts := rep.Counts()
	edited := len(rep.Changes) - counts[domain.ChangeAdd] - counts[domain.ChangeRemove]
	fmt.Fprintf(w, "%s: %d added, %d removed, %d changed, %d substituted, %d restored\n",
		rep.Project, counts[domain.ChangeAdd], counts[domain.ChangeRemove], edited,
		rep.Substitution.Substituted, rep.Substitution.Restored)
	printViolations(w, rep.Violations)
}

func printViolations(w io.Writer, violations []domain.Violation) {
	for _, v := range violations {
		fmt.Fprintf(w, "  %s [%s] %s: %s\n", v.Severity, v.Rule, v.EntityID, v.Message)
	}
}

func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
