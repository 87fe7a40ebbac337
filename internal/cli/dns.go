package cli

import (
	"github.com/spf13/cobra"

	"github.com/raysh454/fatt/internal/resolver"
)

func newDNSCommand(root *rootOptions) *cobra.Command {
	var cachePath string
	cmd := &cobra.Command{
		Use:   "dns",
		Short: "Manage the DNS cache",
	}
	cmd.PersistentFlags().StringVar(&cachePath, "dns-cache", "", "DNS cache database (default from config)")

	open := func() (*resolver.Resolver, error) {
		cfg := root.cfg.Resolver
		if cachePath != "" {
			cfg.CachePath = cachePath
		}
		return resolver.Open(cfg, root.logger)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the number of cached entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := open()
				if err != nil {
					return err
				}
				defer r.Close()
				n, err := r.Entries()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				headerColor.Fprintln(out, "DNS cache")
				printf(out, "  path:     %s\n", r.Path())
				printf(out, "  entries:  %d\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "flush",
			Short: "Delete every cached entry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := open()
				if err != nil {
					return err
				}
				defer r.Close()
				n, _ := r.Entries()
				if err := r.Clear(); err != nil {
					return err
				}
				okColor.Fprintf(cmd.OutOrStdout(), "flushed %d cached entr%s\n", n, plural(n, "y", "ies"))
				return nil
			},
		},
	)
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
