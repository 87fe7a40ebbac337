// Package scanner runs every rule against every domain with bounded concurrency.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/model"
	"github.com/raysh454/fatt/internal/probe"
	"github.com/raysh454/fatt/internal/rules"
	"github.com/raysh454/fatt/internal/utils"
	"github.com/raysh454/fatt/internal/webclient"
)

var ErrNoRules = errors.New("no rules loaded")

// Resolver maps a normalized domain to an IP. ok=false means the domain does
// not resolve; err is reserved for faults.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (ip string, ok bool, err error)
}

// FindingWriter persists findings.
type FindingWriter interface {
	Upsert(ctx context.Context, f model.Finding) error
}

// Engine scans domains against a rule set. A single Engine may run several
// scans; the domain gate is shared between them.
type Engine struct {
	cfg      Config
	resolver Resolver
	client   webclient.WebClient
	writer   FindingWriter
	rules    *rules.RuleSet
	logger   logging.Logger

	gate    *semaphore.Weighted
	current atomic.Pointer[counters]
}

// New builds an engine. writer may be nil when findings are only returned,
// as on distributed workers.
func New(cfg Config, resolver Resolver, client webclient.WebClient, writer FindingWriter, rs *rules.RuleSet, logger logging.Logger) (*Engine, error) {
	if resolver == nil {
		return nil, errors.New("scanner: resolver is nil")
	}
	if client == nil && !cfg.DNSOnly {
		return nil, errors.New("scanner: webclient is nil")
	}
	if rs.Len() == 0 {
		return nil, ErrNoRules
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("scanner: concurrency must be greater than 0, got %d", cfg.Concurrency)
	}
	if cfg.RuleConcurrency <= 0 {
		cfg.RuleConcurrency = 1
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Engine{
		cfg:      cfg,
		resolver: resolver,
		client:   client,
		writer:   writer,
		rules:    rs,
		logger:   logger.With(logging.Field{Key: "component", Value: "scanner"}),
		gate:     semaphore.NewWeighted(int64(cfg.Concurrency)),
	}, nil
}

type counters struct {
	domainsTotal int64
	tasksTotal   int64

	domainsProcessed atomic.Int64
	tasksCompleted   atomic.Int64
	matches          atomic.Int64
	errors           atomic.Int64
	resolved         atomic.Int64
	unresolved       atomic.Int64
}

func (c *counters) progress() model.Progress {
	return model.Progress{
		DomainsProcessed: c.domainsProcessed.Load(),
		DomainsTotal:     c.domainsTotal,
		TasksCompleted:   c.tasksCompleted.Load(),
		TasksTotal:       c.tasksTotal,
		Matches:          c.matches.Load(),
		Errors:           c.errors.Load(),
	}
}

// Progress returns a snapshot of the most recent scan's counters.
func (e *Engine) Progress() model.Progress {
	c := e.current.Load()
	if c == nil {
		return model.Progress{}
	}
	return c.progress()
}

// Run scans domains batch by batch. It returns early only if ctx ends;
// per-domain failures are counted in the summary.
func (e *Engine) Run(ctx context.Context, domains []string) (*model.ScanSummary, error) {
	start := time.Now()
	nrules := int64(e.rules.Len())
	c := &counters{
		domainsTotal: int64(len(domains)),
		tasksTotal:   int64(len(domains)) * nrules,
	}
	e.current.Store(c)

	batches := utils.Chunk(domains, e.cfg.BatchSize)
	e.logger.Info("starting scan",
		logging.Field{Key: "domains", Value: len(domains)},
		logging.Field{Key: "rules", Value: nrules},
		logging.Field{Key: "checks", Value: c.tasksTotal},
		logging.Field{Key: "batches", Value: len(batches)})

	tickCtx, stopTicker := context.WithCancel(ctx)
	tickerDone := make(chan struct{})
	go e.reportProgress(tickCtx, c, tickerDone)

	var runErr error
	for i, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		e.logger.Info("processing batch",
			logging.Field{Key: "batch", Value: i + 1},
			logging.Field{Key: "of", Value: len(batches)},
			logging.Field{Key: "domains", Value: len(batch)})

		if runErr = e.runBatch(ctx, batch, c); runErr != nil {
			break
		}
	}

	stopTicker()
	<-tickerDone

	p := c.progress()
	summary := &model.ScanSummary{
		Domains:    len(domains),
		Resolved:   int(c.resolved.Load()),
		Unresolved: int(c.unresolved.Load()),
		Checks:     p.TasksCompleted,
		Matches:    p.Matches,
		Errors:     p.Errors,
		Elapsed:    time.Since(start),
	}
	e.logger.Info("scan complete",
		logging.Field{Key: "domains", Value: summary.Domains},
		logging.Field{Key: "resolved", Value: summary.Resolved},
		logging.Field{Key: "unresolved", Value: summary.Unresolved},
		logging.Field{Key: "checks", Value: summary.Checks},
		logging.Field{Key: "matches", Value: summary.Matches},
		logging.Field{Key: "errors", Value: summary.Errors},
		logging.Field{Key: "elapsed", Value: utils.FormatDuration(summary.Elapsed)},
		logging.Field{Key: "checks_per_sec", Value: fmt.Sprintf("%.1f", summary.Throughput())})
	return summary, runErr
}

func (e *Engine) runBatch(ctx context.Context, batch []string, c *counters) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, domain := range batch {
		if err := e.gate.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			defer e.gate.Release(1)

			if _, err := e.scanDomain(ctx, domain, c); err != nil {
				e.logger.Warn("domain scan failed",
					logging.Field{Key: "domain", Value: domain},
					logging.Field{Key: "error", Value: err})
			}
		}(domain)
	}
	return nil
}

func (e *Engine) reportProgress(ctx context.Context, c *counters, done chan<- struct{}) {
	defer close(done)
	if e.cfg.ProgressInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(e.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := c.progress()
			e.logger.Info("scan progress",
				logging.Field{Key: "domains", Value: fmt.Sprintf("%d/%d", p.DomainsProcessed, p.DomainsTotal)},
				logging.Field{Key: "tasks", Value: fmt.Sprintf("%d/%d", p.TasksCompleted, p.TasksTotal)},
				logging.Field{Key: "percent", Value: fmt.Sprintf("%.1f", p.Percent())},
				logging.Field{Key: "matches", Value: p.Matches},
				logging.Field{Key: "errors", Value: p.Errors})
		}
	}
}

// ScanDomain resolves domain and evaluates every rule against it, returning
// one finding per rule. An unresolved domain yields no findings and no error.
func (e *Engine) ScanDomain(ctx context.Context, domain string) ([]model.Finding, error) {
	return e.scanDomain(ctx, domain, &counters{})
}

func (e *Engine) scanDomain(ctx context.Context, domain string, c *counters) ([]model.Finding, error) {
	defer c.domainsProcessed.Add(1)
	nrules := int64(e.rules.Len())

	host := utils.NormalizeDomain(domain)
	_, ok, err := e.resolver.Resolve(ctx, host)
	if err != nil {
		c.tasksCompleted.Add(nrules)
		c.errors.Add(1)
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if !ok {
		c.unresolved.Add(1)
		c.tasksCompleted.Add(nrules)
		c.errors.Add(1)
		e.logger.Debug("domain does not resolve", logging.Field{Key: "domain", Value: domain})
		return nil, nil
	}
	c.resolved.Add(1)

	if e.cfg.DNSOnly {
		c.tasksCompleted.Add(nrules)
		return nil, nil
	}

	findings := make([]model.Finding, len(e.rules.Rules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.RuleConcurrency)
	for i, rule := range e.rules.Rules {
		i, rule := i, rule
		g.Go(func() error {
			defer c.tasksCompleted.Add(1)
			f := e.checkRule(gctx, domain, rule)
			findings[i] = f
			if f.Detected {
				c.matches.Add(1)
			}
			if e.writer == nil {
				return nil
			}
			if err := e.writer.Upsert(gctx, f); err != nil {
				return fmt.Errorf("store finding %s/%s: %w", domain, rule.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.errors.Add(1)
		return nil, err
	}
	return findings, nil
}

func (e *Engine) checkRule(ctx context.Context, domain string, rule rules.Rule) model.Finding {
	out := probe.Probe(ctx, e.client, domain, rule)
	if out.RateLimited {
		wait := utils.RandomBackoff(ctx, e.cfg.BackoffMin, e.cfg.BackoffMax)
		e.logger.Debug("rate limited, backing off",
			logging.Field{Key: "domain", Value: domain},
			logging.Field{Key: "backoff", Value: wait})
	}

	f := model.Finding{
		Domain:      domain,
		RuleName:    rule.Name,
		MatchedPath: rule.Path,
		Detected:    out.Exists && out.Matched,
		ScannedAt:   time.Now(),
	}
	if f.Detected {
		e.logger.Info("finding detected",
			logging.Field{Key: "domain", Value: domain},
			logging.Field{Key: "rule", Value: rule.Name},
			logging.Field{Key: "url", Value: out.URL})
	}
	return f
}
