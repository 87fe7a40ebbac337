// Package distributed spreads scan batches from a master to remote workers
// over a length-prefixed TCP protocol.
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

	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/model"
	"github.com/raysh454/fatt/internal/utils"
)

var (
	ErrUnexpectedMessage  = errors.New("unexpected message")
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrWorkerDisconnected = errors.New("worker disconnected")
	ErrNoWorkers          = errors.New("no workers connected")
)

// FindingWriter persists findings reported by workers.
type FindingWriter interface {
	Upsert(ctx context.Context, f model.Finding) error
}

// DistributedSummary reports a DistributeScan run.
type DistributedSummary struct {
	Workers          int           `json:"workers"`
	Batches          int           `json:"batches"`
	CompletedBatches int           `json:"completed_batches"`
	FailedBatches    int           `json:"failed_batches"`
	Domains          int           `json:"domains"`
	Findings         int64         `json:"findings"`
	Matches          int64         `json:"matches"`
	StoreErrors      int64         `json:"store_errors"`
	Elapsed          time.Duration `json:"elapsed"`
}

type dispatchResult struct {
	res *ScanResult
	err error
}

type pendingBatch struct {
	worker *ConnectedWorker
	done   chan dispatchResult
}

// Master accepts worker connections and hands them scan batches.
type Master struct {
	cfg      MasterConfig
	registry *Registry
	writer   FindingWriter
	logger   logging.Logger

	mu      sync.Mutex
	pending map[string]*pendingBatch

	conns sync.WaitGroup
}

// NewMaster builds a master that records worker results through writer.
// writer may be nil when results are only consumed through Dispatch.
func NewMaster(cfg MasterConfig, registry *Registry, writer FindingWriter, logger logging.Logger) *Master {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Master{
		cfg:      cfg,
		registry: registry,
		writer:   writer,
		logger:   logger.With(logging.Field{Key: "component", Value: "master"}),
		pending:  make(map[string]*pendingBatch),
	}
}

func (m *Master) Registry() *Registry { return m.registry }

// Workers returns a snapshot of registered workers ordered by id.
func (m *Master) Workers() []ConnectedWorker { return m.registry.List() }

// Worker returns a snapshot of one registered worker.
func (m *Master) Worker(id string) (ConnectedWorker, bool) { return m.registry.Get(id) }

// ListenAndServe listens on cfg.ListenAddr and serves until ctx is done.
func (m *Master) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.cfg.ListenAddr, err)
	}
	return m.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, handling each in its own
// goroutine. A failing connection never stops the accept loop. Serve closes ln
// and waits for connection handlers before returning.
func (m *Master) Serve(ctx context.Context, ln net.Listener) error {
	m.logger.Info("master listening", logging.Field{Key: "addr", Value: ln.Addr().String()})
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer m.conns.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			m.logger.Warn("accept failed", logging.Field{Key: "error", Value: err})
			time.Sleep(50 * time.Millisecond)
			continue
		}

		m.conns.Add(1)
		go func() {
			defer m.conns.Done()
			conn := NewConn(nc)
			if err := m.handleConn(ctx, conn); err != nil {
				m.logger.Warn("worker connection closed with error",
					logging.Field{Key: "remote", Value: conn.RemoteAddr()},
					logging.Field{Key: "error", Value: err})
			}
		}()
	}
}

func (m *Master) handleConn(ctx context.Context, conn *Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if m.cfg.RegisterTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.RegisterTimeout))
	}
	msg, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("await register: %w", err)
	}
	reg, ok := msg.(*Register)
	if !ok {
		return fmt.Errorf("%w: expected register, got %s", ErrUnexpectedMessage, msg.Kind())
	}
	if reg.WorkerID == "" {
		return fmt.Errorf("%w: register without worker id", ErrUnexpectedMessage)
	}
	_ = conn.SetReadDeadline(time.Time{})

	now := time.Now()
	w := &ConnectedWorker{
		ID:           reg.WorkerID,
		Capabilities: reg.Capabilities,
		RemoteAddr:   conn.RemoteAddr(),
		ConnectedAt:  now,
		LastSeen:     now,
		conn:         conn,
	}
	log := m.logger.With(logging.Field{Key: "worker", Value: w.ID})
	if old := m.registry.Register(w); old != nil {
		log.Warn("worker re-registered, closing previous connection",
			logging.Field{Key: "previous_remote", Value: old.RemoteAddr})
		_ = old.conn.Close()
	}
	log.Info("worker registered",
		logging.Field{Key: "remote", Value: w.RemoteAddr},
		logging.Field{Key: "max_concurrency", Value: reg.Capabilities.MaxConcurrency},
		logging.Field{Key: "version", Value: reg.Capabilities.Version})

	defer func() {
		if m.registry.Remove(w.ID, w) {
			log.Info("worker disconnected")
		}
		m.failPending(w)
	}()

	if err := conn.Send(&Heartbeat{WorkerID: w.ID}); err != nil {
		return err
	}

	if m.cfg.HeartbeatInterval > 0 {
		pollCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go m.poll(pollCtx, w)
	}

	for {
		msg, err := conn.Receive()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("read from worker %s: %w", w.ID, err)
		}

		switch msg := msg.(type) {
		case *Heartbeat:
			m.registry.UpdateStatus(w, msg.Status, time.Now())
		case *ScanResult:
			m.deliver(w, msg)
		case *Shutdown:
			log.Info("worker shutting down")
			return nil
		default:
			return fmt.Errorf("%w: %s from registered worker %s", ErrUnexpectedMessage, msg.Kind(), w.ID)
		}
	}
}

func (m *Master) poll(ctx context.Context, w *ConnectedWorker) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.conn.Send(&Heartbeat{WorkerID: w.ID}); err != nil {
				_ = w.conn.Close()
				return
			}
		}
	}
}

func (m *Master) deliver(w *ConnectedWorker, res *ScanResult) {
	m.mu.Lock()
	p, ok := m.pending[res.BatchID]
	if ok && p.worker == w {
		delete(m.pending, res.BatchID)
	}
	m.mu.Unlock()

	if !ok || p.worker != w {
		m.logger.Warn("dropping result for unknown batch",
			logging.Field{Key: "worker", Value: w.ID},
			logging.Field{Key: "batch", Value: res.BatchID})
		return
	}
	p.done <- dispatchResult{res: res}
}

func (m *Master) failPending(w *ConnectedWorker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pending {
		if p.worker == w {
			delete(m.pending, id)
			p.done <- dispatchResult{err: fmt.Errorf("%w: %s", ErrWorkerDisconnected, w.ID)}
		}
	}
}

// Dispatch sends domains to the worker as one batch and waits for its result.
func (m *Master) Dispatch(ctx context.Context, workerID string, domains []string) (*ScanResult, error) {
	w, ok := m.registry.lookup(workerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}

	batchID := uuid.NewString()
	p := &pendingBatch{worker: w, done: make(chan dispatchResult, 1)}
	m.mu.Lock()
	m.pending[batchID] = p
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, batchID)
		m.mu.Unlock()
	}()
	if cur, ok := m.registry.lookup(workerID); !ok || cur != w {
		return nil, fmt.Errorf("%w: %s", ErrWorkerDisconnected, workerID)
	}

	if err := w.conn.Send(&ScanRequest{BatchID: batchID, Domains: domains}); err != nil {
		return nil, fmt.Errorf("dispatch to %s: %w", workerID, err)
	}

	select {
	case r := <-p.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForWorkers blocks until at least n workers are registered.
func (m *Master) WaitForWorkers(ctx context.Context, n int) error {
	for {
		changed := m.registry.Changed()
		if m.registry.Len() >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d workers (have %d): %w", n, m.registry.Len(), ctx.Err())
		}
	}
}

// DistributeScan splits domains into batches and feeds them to every
// registered worker, one batch in flight per worker. Findings are upserted
// through the master's writer. A batch lost to a disconnect is counted as
// failed and not retried.
func (m *Master) DistributeScan(ctx context.Context, domains []string, batchSize int) (*DistributedSummary, error) {
	start := time.Now()
	workers := m.registry.List()
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}

	batches := utils.Chunk(domains, batchSize)
	queue := make(chan []string, len(batches))
	for _, b := range batches {
		if len(b) > 0 {
			queue <- b
		}
	}
	total := len(queue)
	close(queue)

	m.logger.Info("distributing scan",
		logging.Field{Key: "domains", Value: len(domains)},
		logging.Field{Key: "batches", Value: total},
		logging.Field{Key: "workers", Value: len(workers)})

	var (
		completed, failed         atomic.Int64
		found, matches, storeErrs atomic.Int64
		wg                        sync.WaitGroup
	)
	for _, w := range workers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for batch := range queue {
				res, err := m.Dispatch(ctx, id, batch)
				if err != nil {
					failed.Add(1)
					m.logger.Warn("batch failed",
						logging.Field{Key: "worker", Value: id},
						logging.Field{Key: "domains", Value: len(batch)},
						logging.Field{Key: "error", Value: err})
					if errors.Is(err, ErrWorkerDisconnected) || errors.Is(err, ErrWorkerNotFound) || ctx.Err() != nil {
						return
					}
					continue
				}
				completed.Add(1)
				for _, f := range res.Findings {
					found.Add(1)
					if f.Detected {
						matches.Add(1)
					}
					if m.writer == nil {
						continue
					}
					if err := m.writer.Upsert(ctx, f); err != nil {
						storeErrs.Add(1)
						m.logger.Error("failed to store finding",
							logging.Field{Key: "domain", Value: f.Domain},
							logging.Field{Key: "rule", Value: f.RuleName},
							logging.Field{Key: "error", Value: err})
					}
				}
			}
		}(w.ID)
	}
	wg.Wait()

	// Batches left when every pump has exited were never sent.
	left := int64(len(queue))

	summary := &DistributedSummary{
		Workers:          len(workers),
		Batches:          total,
		CompletedBatches: int(completed.Load()),
		FailedBatches:    int(failed.Load() + left),
		Domains:          len(domains),
		Findings:         found.Load(),
		Matches:          matches.Load(),
		StoreErrors:      storeErrs.Load(),
		Elapsed:          time.Since(start),
	}
	m.logger.Info("distributed scan complete",
		logging.Field{Key: "batches", Value: summary.Batches},
		logging.Field{Key: "completed", Value: summary.CompletedBatches},
		logging.Field{Key: "failed", Value: summary.FailedBatches},
		logging.Field{Key: "matches", Value: summary.Matches},
		logging.Field{Key: "elapsed", Value: utils.FormatDuration(summary.Elapsed)})
	return summary, ctx.Err()
}

// StopWorker asks the worker to finish in-flight batches and disconnect.
func (m *Master) StopWorker(id string) error {
	w, ok := m.registry.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	if err := w.conn.Send(&Shutdown{WorkerID: id}); err != nil {
		return fmt.Errorf("stop worker %s: %w", id, err)
	}
	m.logger.Info("shutdown sent", logging.Field{Key: "worker", Value: id})
	return nil
}

// StopAll sends Shutdown to every registered worker and returns how many
// were signalled.
func (m *Master) StopAll() (int, error) {
	var (
		errs []error
		n    int
	)
	for _, w := range m.registry.List() {
		if err := m.StopWorker(w.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
