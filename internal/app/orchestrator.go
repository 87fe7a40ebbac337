package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raysh454/fatt/internal/distributed"
	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/server"
	"github.com/raysh454/fatt/internal/store"
	"github.com/raysh454/fatt/internal/utils"
)

// Orchestrator runs a master: the worker listener, the admin API and the
// findings store workers report into.
type Orchestrator struct {
	cfg    *Config
	logger logging.Logger

	store  *store.SQLiteStore
	master *distributed.Master
	admin  *server.Server

	ln      net.Listener
	adminLn net.Listener

	cancel context.CancelFunc
	group  *errgroup.Group
}

// StartMaster opens the store, binds both listeners and starts serving.
// Close stops everything.
func (a *Application) StartMaster(ctx context.Context) (*Orchestrator, error) {
	if a == nil {
		return nil, errors.New("application is nil")
	}
	if err := a.Config.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(a.Config.Store, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("open findings store: %w", err)
	}

	o := &Orchestrator{cfg: a.Config, logger: a.Logger, store: st}
	o.master = distributed.NewMaster(a.Config.Master, nil, st, a.Logger)
	o.admin, err = server.NewServer(a.Config.Admin, o.master, a.Logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	o.ln, err = net.Listen("tcp", a.Config.Master.ListenAddr)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("listen on %s: %w", a.Config.Master.ListenAddr, err)
	}
	o.adminLn, err = net.Listen("tcp", a.Config.Admin.ListenAddr)
	if err != nil {
		_ = o.ln.Close()
		_ = st.Close()
		return nil, fmt.Errorf("admin api listen on %s: %w", a.Config.Admin.ListenAddr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	o.group = g
	g.Go(func() error { return o.master.Serve(gctx, o.ln) })
	g.Go(func() error { return o.admin.Serve(gctx, o.adminLn) })
	return o, nil
}

func (o *Orchestrator) Master() *distributed.Master { return o.master }

// Addr is the worker listener address.
func (o *Orchestrator) Addr() string { return o.ln.Addr().String() }

// AdminAddr is the admin API listener address.
func (o *Orchestrator) AdminAddr() string { return o.adminLn.Addr().String() }

func (o *Orchestrator) Store() *store.SQLiteStore { return o.store }

// Scan waits for MinWorkers workers (bounded by WorkerWaitTimeout) and
// distributes domains across them.
func (o *Orchestrator) Scan(ctx context.Context, domains []string) (*distributed.DistributedSummary, error) {
	domains = utils.Unique(domains)

	waitCtx := ctx
	if o.cfg.Master.WorkerWaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.cfg.Master.WorkerWaitTimeout)
		defer cancel()
	}
	minWorkers := o.cfg.Master.MinWorkers
	if minWorkers < 1 {
		minWorkers = 1
	}
	o.logger.Info("waiting for workers", logging.Field{Key: "min_workers", Value: minWorkers})
	if err := o.master.WaitForWorkers(waitCtx, minWorkers); err != nil {
		return nil, err
	}

	return o.master.DistributeScan(ctx, domains, o.cfg.Master.BatchSize)
}

// ScanFile reads a domain list and runs Scan over it.
func (o *Orchestrator) ScanFile(ctx context.Context, path string) (*distributed.DistributedSummary, error) {
	domains, err := utils.ReadDomains(path)
	if err != nil {
		return nil, fmt.Errorf("read domains: %w", err)
	}
	return o.Scan(ctx, domains)
}

// Wait blocks until the listeners stop.
func (o *Orchestrator) Wait() error {
	return o.group.Wait()
}

// Close asks connected workers to stop, shuts down both listeners and
// closes the store.
func (o *Orchestrator) Close() error {
	if n, err := o.master.StopAll(); err != nil {
		o.logger.Warn("stopping workers", logging.Field{Key: "error", Value: err.Error()})
	} else if n > 0 {
		o.logger.Info("stopping workers", logging.Field{Key: "count", Value: n})
		o.awaitWorkersGone(5 * time.Second)
	}
	o.cancel()
	err := o.group.Wait()
	return errors.Join(err, o.store.Close())
}

func (o *Orchestrator) awaitWorkersGone(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	reg := o.master.Registry()
	for {
		changed := reg.Changed()
		if reg.Len() == 0 {
			return
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}
