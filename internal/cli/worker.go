package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raysh454/fatt/internal/distributed"
	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/server"
	"github.com/raysh454/fatt/internal/webclient"
)

func newWorkerCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run or control distributed scanning",
	}
	cmd.AddCommand(
		newWorkerStartCommand(root),
		newWorkerMasterCommand(root),
		newWorkerStopCommand(root),
		newWorkerStatusCommand(root),
	)
	return cmd
}

func newWorkerStartCommand(root *rootOptions) *cobra.Command {
	var (
		masterAddr  string
		id          string
		rulesPath   string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Connect to a master and scan the batches it sends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("master") {
				cfg.Worker.MasterAddr = masterAddr
			}
			if flags.Changed("id") {
				cfg.Worker.ID = id
			}
			if flags.Changed("rules") {
				cfg.RulesPath = rulesPath
			}
			if flags.Changed("max-concurrency") {
				cfg.Worker.MaxConcurrency = concurrency
			}
			return root.application().RunWorker(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&masterAddr, "master", "m", "", "master address host:port")
	f.StringVar(&id, "id", "", "worker id (default random)")
	f.StringVarP(&rulesPath, "rules", "r", "", "rules file")
	f.IntVar(&concurrency, "max-concurrency", 0, "domains scanned at once")
	return cmd
}

func newWorkerMasterCommand(root *rootOptions) *cobra.Command {
	var (
		listen     string
		admin      string
		input      string
		db         string
		minWorkers int
		batchSize  int
	)
	cmd := &cobra.Command{
		Use:   "master",
		Short: "Accept workers and distribute a scan across them",
		Long: `Start a master. With --input the domain list is split into batches,
spread across connected workers and the master exits when the scan is done.
Without --input the master only serves workers and the admin API until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Master.ListenAddr = listen
			}
			if flags.Changed("admin") {
				cfg.Admin.ListenAddr = admin
			}
			if flags.Changed("db") {
				cfg.Store.Path = db
			}
			if flags.Changed("min-workers") {
				cfg.Master.MinWorkers = minWorkers
			}
			if flags.Changed("batch-size") {
				cfg.Master.BatchSize = batchSize
			}

			ctx := cmd.Context()
			o, err := root.application().StartMaster(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printf(out, "master listening on %s, admin api on %s\n", o.Addr(), o.AdminAddr())

			if input == "" {
				err := o.Wait()
				if cerr := o.Close(); cerr != nil {
					root.logger.Warn("closing master", logging.Field{Key: "error", Value: cerr.Error()})
				}
				return err
			}

			sum, err := o.ScanFile(ctx, input)
			if sum != nil {
				printDistributedSummary(out, sum)
			}
			if cerr := o.Close(); cerr != nil {
				root.logger.Warn("closing master", logging.Field{Key: "error", Value: cerr.Error()})
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&listen, "listen", "l", "", "worker listen address")
	f.StringVar(&admin, "admin", "", "admin API listen address")
	f.StringVarP(&input, "input", "i", "", "domain list to distribute")
	f.StringVar(&db, "db", "", "findings database")
	f.IntVar(&minWorkers, "min-workers", 0, "workers to wait for before distributing")
	f.IntVar(&batchSize, "batch-size", 0, "domains per batch")
	return cmd
}

func adminClient(root *rootOptions, addr string) (*server.Client, error) {
	if addr == "" {
		addr = root.cfg.Admin.ListenAddr
	}
	web, err := webclient.NewNetHTTPClient(root.cfg.WebClient, root.logger, nil)
	if err != nil {
		return nil, err
	}
	return server.NewClient(addr, web), nil
}

func newWorkerStopCommand(root *rootOptions) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "stop <worker-id>",
		Short: "Ask a connected worker to finish its batches and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(root, admin)
			if err != nil {
				return err
			}
			if err := c.StopWorker(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, distributed.ErrWorkerNotFound) {
					return fmt.Errorf("worker %s is not connected", args[0])
				}
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "shutdown sent to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "master admin API address")
	return cmd
}

func newWorkerStatusCommand(root *rootOptions) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "status [worker-id]",
		Short: "Show workers connected to a master",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(root, admin)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				w, err := c.Worker(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, distributed.ErrWorkerNotFound) {
						return fmt.Errorf("worker %s is not connected", args[0])
					}
					return err
				}
				printWorkers(out, []distributed.ConnectedWorker{*w})
				return nil
			}
			snap, err := c.Workers(cmd.Context())
			if err != nil {
				return err
			}
			printWorkers(out, snap.Workers)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "master admin API address")
	return cmd
}
