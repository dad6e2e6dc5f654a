package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit   int
		changes bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the write actions recorded in the journal, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.journal == nil {
				return errors.New("no journal configured (set journal.driver and journal.dsn)")
			}
			ctx := cmd.Context()
			actions, err := a.journal.Actions(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, act := range actions {
				fmt.Fprintf(out, "%d\t%s\t%s\t%d entities\t%d violations\n",
					act.ID, act.CommittedAt.Format(time.RFC3339), act.Operation, act.Entities, act.Violations)
				if !changes {
					continue
				}
				entries, err := a.journal.Changes(ctx, act.ID)
				if err != nil {
					return err
				}
				for _, e := range entries {
					line := fmt.Sprintf("\t%-2s %s#%d", changeMarks[e.Kind], e.EntityType, e.EntitySeq)
					if len(e.Fields) > 0 {
						line += " [" + strings.Join(e.Fields, ",") + "]"
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of actions to list, 0 for all")
	cmd.Flags().BoolVar(&changes, "changes", false, "also list the changes of every action")
	return cmd
}
