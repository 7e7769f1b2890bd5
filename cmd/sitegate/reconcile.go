package main

import (
	"fmt"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-sitegate/ledger"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	var kind, id string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay the interaction log and repair drifted counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			app, err := NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			var results []ledger.ReconcileResult
			if id != "" {
				res, err := app.ledger.Reconcile(cmd.Context(), ledger.Subject{Kind: ledger.SubjectKind(kind), ID: id})
				if err != nil {
					return err
				}
				results = append(results, res)
			} else {
				results, err = app.ledger.ReconcileAll(cmd.Context())
				if err != nil {
					return err
				}
			}

			drifted := 0
			for _, r := range results {
				if r.Drift {
					drifted++
				}
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(results))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d subjects checked, %d repaired\n", len(results), drifted)
			return err
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(ledger.SubjectPost), "Subject kind (post or note)")
	cmd.Flags().StringVar(&id, "id", "", "Reconcile a single subject instead of all")
	return cmd
}
