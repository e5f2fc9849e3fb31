package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-forms/internal/observability"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		id     string
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "history [url]",
		Short: "Show recorded submissions from the database",
		Long: `Lists the newest recorded submissions, optionally only those for one URL.
With --id the full outcome of one submission is printed instead.
Requires database.url (or SCALPEL_FORMS_DATABASE_URL).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Database().URL == "" {
				return errors.New("history needs database.url to be configured")
			}
			ctx := cmd.Context()
			st, err := a.openStore(ctx, a.cfg.Database(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			if id != "" {
				out, err := st.GetOutcome(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), output, out)
			}

			pageURL := ""
			if len(args) == 1 {
				pageURL = args[0]
			}
			records, err := st.ListSubmissions(ctx, pageURL, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), output, records)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "print the full outcome of one submission")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of submissions to list")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write JSON to this file instead of stdout")
	return cmd
}
