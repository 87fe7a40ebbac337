package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raysh454/fatt/internal/rules"
)

func newRulesCommand(root *rootOptions) *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the rules file",
	}
	cmd.PersistentFlags().StringVarP(&rulesPath, "rules", "r", "", "rules file (default from config)")

	path := func() string {
		if rulesPath != "" {
			return rulesPath
		}
		return root.cfg.RulesPath
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List rules in severity order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rs, err := rules.Load(path())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if rs.Len() == 0 {
					printf(out, "no rules\n")
					return nil
				}
				tw := newTable(out)
				printf(tw, "NAME\tSEVERITY\tPATH\tSIGNATURE\tDESCRIPTION\n")
				for _, r := range rs.Rules {
					sev := r.Severity.String()
					if sev == "" {
						sev = "-"
					}
					printf(tw, "%s\t%s\t%s\t%q\t%s\n", r.Name, sev, r.Path, r.Signature, r.Description)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "add <file>",
			Short: "Merge rules from another file, skipping existing names",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				added, err := rules.AddFromFile(path(), args[0])
				if err != nil {
					return err
				}
				okColor.Fprintf(cmd.OutOrStdout(), "added %d rule(s) to %s\n", added, path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a rule by name",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				removed, err := rules.Remove(path(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("rule %q not found in %s", args[0], path())
				}
				okColor.Fprintf(cmd.OutOrStdout(), "removed rule %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
