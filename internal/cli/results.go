package cli

import (
	"github.com/spf13/cobra"

	"github.com/raysh454/fatt/internal/store"
)

func newResultsCommand(root *rootOptions) *cobra.Command {
	var (
		db     string
		filter store.Filter
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect and export stored findings",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&db, "db", "", "findings database (default from config)")
	pf.StringVar(&filter.Domain, "domain", "", "only domains containing this text")
	pf.StringVar(&filter.Rule, "rule", "", "only rules containing this text")
	pf.BoolVar(&filter.DetectedOnly, "detected", false, "only detected findings")

	open := func() (*store.SQLiteStore, error) {
		cfg := root.cfg.Store
		if db != "" {
			cfg.Path = db
		}
		return store.Open(cfg, root.logger)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print findings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			findings, err := st.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printFindings(cmd.OutOrStdout(), findings)
			return nil
		},
	}
	list.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows (0 = all)")

	var format string
	export := &cobra.Command{
		Use:   "export <path>",
		Short: "Export findings as csv, json or xlsx",
		Long:  "Export findings to a file. The format comes from --format or the file extension.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				f   store.Format
				err error
			)
			if format != "" {
				f, err = store.ParseFormat(format)
			} else {
				f, err = store.FormatFromPath(args[0])
			}
			if err != nil {
				return err
			}

			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Export(cmd.Context(), args[0], f, filter)
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "exported %d finding(s) to %s\n", n, args[0])
			return nil
		},
	}
	export.Flags().StringVarP(&format, "format", "f", "", "csv|json|xlsx")

	cmd.AddCommand(list, export)
	return cmd
}
