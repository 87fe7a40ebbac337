package distributed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/model"
)

// DomainScanner runs every rule against one domain.
type DomainScanner interface {
	ScanDomain(ctx context.Context, domain string) ([]model.Finding, error)
}

// WorkerState is the lifecycle stage of a worker connection.
type WorkerState int32

const (
	StateConnecting WorkerState = iota
	StateRegistering
	StateIdle
	StateScanning
	StateShuttingDown
	StateClosed
)

func (s WorkerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Worker connects to a master and runs the batches it is sent.
type Worker struct {
	cfg     WorkerConfig
	id      string
	scanner DomainScanner
	logger  logging.Logger
	started time.Time

	state     atomic.Int32
	active    atomic.Int64
	completed atomic.Int64
	findings  atomic.Int64
}

func NewWorker(cfg WorkerConfig, scanner DomainScanner, logger logging.Logger) (*Worker, error) {
	if scanner == nil {
		return nil, errors.New("worker: scanner is nil")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	id := cfg.ID
	if id == "" {
		id = "worker-" + uuid.NewString()
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Worker{
		cfg:     cfg,
		id:      id,
		scanner: scanner,
		logger:  logger.With(logging.Field{Key: "component", Value: "worker"}, logging.Field{Key: "worker", Value: id}),
		started: time.Now(),
	}, nil
}

func (w *Worker) ID() string { return w.id }

// State returns the current lifecycle stage.
func (w *Worker) State() WorkerState {
	s := WorkerState(w.state.Load())
	if s == StateIdle && w.active.Load() > 0 {
		return StateScanning
	}
	return s
}

func (w *Worker) setState(s WorkerState) { w.state.Store(int32(s)) }

// Status reports the worker's current load.
func (w *Worker) Status() Status {
	return Status{
		ActiveScans:    w.active.Load(),
		CompletedScans: w.completed.Load(),
		Findings:       w.findings.Load(),
		UptimeSeconds:  int64(time.Since(w.started) / time.Second),
	}
}

// Run dials the master and serves it until Shutdown, ctx cancellation or a
// connection error. There is no reconnect.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateConnecting)
	d := net.Dialer{Timeout: w.cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", w.cfg.MasterAddr)
	if err != nil {
		w.setState(StateClosed)
		return fmt.Errorf("connect to master %s: %w", w.cfg.MasterAddr, err)
	}
	w.logger.Info("connected to master", logging.Field{Key: "addr", Value: w.cfg.MasterAddr})
	return w.Serve(ctx, nc)
}

// Serve speaks the worker side of the protocol over an established stream.
func (w *Worker) Serve(ctx context.Context, nc net.Conn) error {
	conn := NewConn(nc)
	defer conn.Close()
	defer w.setState(StateClosed)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	w.setState(StateRegistering)
	reg := &Register{
		WorkerID:     w.id,
		Capabilities: Capabilities{MaxConcurrency: w.cfg.MaxConcurrency, Version: Version},
	}
	if err := conn.Send(reg); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if w.cfg.HeartbeatInterval > 0 {
		go w.heartbeat(runCtx, conn)
	}

	sem := semaphore.NewWeighted(int64(w.cfg.MaxConcurrency))
	var inflight sync.WaitGroup

	for {
		msg, err := conn.Receive()
		if err != nil {
			cancel()
			inflight.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection to master lost: %w", err)
		}

		switch msg := msg.(type) {
		case *Heartbeat:
			if WorkerState(w.state.Load()) == StateRegistering {
				w.setState(StateIdle)
				w.logger.Info("registered with master")
			}
			if err := conn.Send(&Heartbeat{WorkerID: w.id, Status: w.Status()}); err != nil {
				cancel()
				inflight.Wait()
				return err
			}
		case *ScanRequest:
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				w.runBatch(runCtx, conn, sem, msg)
			}()
		case *Shutdown:
			w.setState(StateShuttingDown)
			w.logger.Info("shutdown requested, waiting for in-flight batches")
			inflight.Wait()
			_ = conn.Send(&Shutdown{WorkerID: w.id})
			return nil
		default:
			cancel()
			inflight.Wait()
			return fmt.Errorf("%w: %s from master", ErrUnexpectedMessage, msg.Kind())
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context, conn *Conn) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Send(&Heartbeat{WorkerID: w.id, Status: w.Status()}); err != nil {
				w.logger.Warn("heartbeat failed", logging.Field{Key: "error", Value: err})
				return
			}
		}
	}
}

// runBatch scans every domain of req and always answers with a ScanResult.
func (w *Worker) runBatch(ctx context.Context, conn *Conn, sem *semaphore.Weighted, req *ScanRequest) {
	w.active.Add(1)
	defer w.active.Add(-1)

	log := w.logger.With(logging.Field{Key: "batch", Value: req.BatchID})
	log.Info("scan batch received", logging.Field{Key: "domains", Value: len(req.Domains)})

	var (
		mu       sync.Mutex
		findings = []model.Finding{}
		wg       sync.WaitGroup
	)
	for _, domain := range req.Domains {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			defer sem.Release(1)
			fs, err := w.scanner.ScanDomain(ctx, domain)
			if err != nil {
				log.Warn("domain scan failed",
					logging.Field{Key: "domain", Value: domain},
					logging.Field{Key: "error", Value: err})
			}
			mu.Lock()
			findings = append(findings, fs...)
			mu.Unlock()
		}(domain)
	}
	wg.Wait()

	var detected int64
	for _, f := range findings {
		if f.Detected {
			detected++
		}
	}
	w.findings.Add(detected)
	w.completed.Add(1)

	res := &ScanResult{WorkerID: w.id, BatchID: req.BatchID, Findings: findings}
	if err := conn.Send(res); err != nil {
		log.Warn("failed to send scan result", logging.Field{Key: "error", Value: err})
		return
	}
	log.Info("scan batch complete",
		logging.Field{Key: "findings", Value: len(findings)},
		logging.Field{Key: "detected", Value: detected})
}
