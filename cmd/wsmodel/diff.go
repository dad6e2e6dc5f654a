package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"workspacemodel/internal/storage"
	"workspacemodel/pkg/domain"
)

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Show the entity changes a re-import of <new> over <old> would make",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors, err := parseAll(args)
			if err != nil {
				return err
			}
			svc, err := a.service(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			im, err := a.importer(svc)
			if err != nil {
				return err
			}
			if _, err := im.Import(cmd.Context(), descriptors[0]); err != nil {
				return err
			}
			before := svc.Snapshot()
			rep, err := im.Import(cmd.Context(), descriptors[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rep.Changes) == 0 {
				fmt.Fprintln(out, "no changes")
				return nil
			}
			after := svc.Snapshot()
			for _, c := range rep.Changes {
				printChange(out, c, before, after)
			}
			printViolations(out, rep.Violations)
			return nil
		},
	}
}

var changeMarks = map[domain.ChangeKind]string{
	domain.ChangeAdd:              "+",
	domain.ChangeRemove:           "-",
	domain.ChangeReplace:          "~",
	domain.ChangeSource:           "@",
	domain.ChangeReplaceAndSource: "~@",
}

func printChange(w io.Writer, c domain.Change, before, after *storage.Snapshot) {
	r := after
	if c.Kind == domain.ChangeRemove {
		r = before
	}
	line := fmt.Sprintf("%-2s %s %s", changeMarks[c.Kind], c.Type, label(r, c.ID))
	if len(c.Fields) > 0 {
		line += " [" + strings.Join(c.Fields, ",") + "]"
	}
	if c.Kind == domain.ChangeSource || c.Kind == domain.ChangeReplaceAndSource {
		line += fmt.Sprintf(" %s -> %s", c.OldSource, c.NewSource)
	}
	fmt.Fprintln(w, line)
}

// label renders the business key of id, falling back to the id itself.
func label(r storage.Reader, id domain.EntityID) string {
	e, ok := r.Resolve(id)
	if !ok {
		return id.String()
	}
	var parts []string
	for _, f := range r.Schema().KeyFields(id.Type) {
		v, err := e.Value(f)
		if err != nil || v == nil {
			continue
		}
		parts = append(parts, v.String())
	}
	if len(parts) == 0 {
		return id.String()
	}
	return strings.Join(parts, "/")
}
