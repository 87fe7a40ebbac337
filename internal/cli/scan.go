package cli

import (
	"github.com/spf13/cobra"
)

type scanOptions struct {
	input       string
	rules       string
	db          string
	dnsCache    string
	concurrency int
	batchSize   int
	dnsOnly     bool
	progress    bool
}

func newScanCommand(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a domain list locally",
		Example: `  fatt scan -i domains.txt -r rules.yaml
  fatt scan -i domains.txt -c 200 --db results.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("input") {
				cfg.InputPath = opts.input
			}
			if flags.Changed("rules") {
				cfg.RulesPath = opts.rules
			}
			if flags.Changed("db") {
				cfg.Store.Path = opts.db
			}
			if flags.Changed("dns-cache") {
				cfg.Resolver.CachePath = opts.dnsCache
			}
			if flags.Changed("concurrency") {
				cfg.Scanner.Concurrency = opts.concurrency
			}
			if flags.Changed("batch-size") {
				cfg.Scanner.BatchSize = opts.batchSize
			}
			if flags.Changed("dns-only") {
				cfg.Scanner.DNSOnly = opts.dnsOnly
			}

			a := root.application()
			if opts.progress {
				bar := newProgressBar(cmd.ErrOrStderr())
				a.Progress = progressUpdater(bar)
				defer func() {
					_ = bar.Finish()
					printf(cmd.ErrOrStderr(), "\n")
				}()
			}

			sum, err := a.RunScan(cmd.Context())
			if sum != nil {
				printScanSummary(cmd.OutOrStdout(), sum)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "domain list, one per line")
	f.StringVarP(&opts.rules, "rules", "r", "", "rules file")
	f.StringVar(&opts.db, "db", "", "findings database")
	f.StringVar(&opts.dnsCache, "dns-cache", "", "DNS cache database")
	f.IntVarP(&opts.concurrency, "concurrency", "c", 0, "domains scanned at once")
	f.IntVar(&opts.batchSize, "batch-size", 0, "domains per batch (0 = one batch)")
	f.BoolVar(&opts.dnsOnly, "dns-only", false, "resolve domains without probing")
	f.BoolVar(&opts.progress, "progress", true, "show a progress bar on stderr")
	return cmd
}
