package distributed_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raysh454/fatt/internal/distributed"
	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/model"
	"github.com/raysh454/fatt/internal/testutil"
)

// fakeScanner reports one finding per domain; domains starting with "hit" are detected.
type fakeScanner struct {
	mu      sync.Mutex
	scanned []string
}

func (s *fakeScanner) ScanDomain(_ context.Context, domain string) ([]model.Finding, error) {
	s.mu.Lock()
	s.scanned = append(s.scanned, domain)
	s.mu.Unlock()
	return []model.Finding{{
		Domain:      domain,
		RuleName:    "env-file",
		MatchedPath: "/.env",
		Detected:    strings.HasPrefix(domain, "hit"),
		ScannedAt:   time.Unix(1_700_000_000, 0).UTC(),
	}}, nil
}

func (s *fakeScanner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scanned)
}

func startMaster(t *testing.T, cfg distributed.MasterConfig, writer distributed.FindingWriter) (*distributed.Master, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := distributed.NewMaster(cfg, nil, writer, logging.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, ln.Addr().String()
}

func testMasterConfig() distributed.MasterConfig {
	cfg := distributed.DefaultMasterConfig()
	cfg.RegisterTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 0
	return cfg
}

func startWorker(t *testing.T, addr, id string, scanner distributed.DomainScanner) (*distributed.Worker, <-chan error) {
	t.Helper()
	cfg := distributed.DefaultWorkerConfig()
	cfg.MasterAddr = addr
	cfg.ID = id
	cfg.MaxConcurrency = 2
	cfg.HeartbeatInterval = 20 * time.Millisecond
	w, err := distributed.NewWorker(cfg, scanner, logging.NopLogger{})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		errc <- w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, errc
}

func dialRaw(t *testing.T, addr string) *distributed.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := distributed.NewConn(nc)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// receiveUntilClosed drains c and reports whether it was closed by the peer.
func receiveUntilClosed(c *distributed.Conn) bool {
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, err := c.Receive(); err != nil {
			var ne net.Error
			return !(errors.As(err, &ne) && ne.Timeout())
		}
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ─── Registration ──────────────────────────────────────────────────────

func TestMaster_RegisterAndPrimingHeartbeat(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)
	c := dialRaw(t, addr)

	if err := c.Send(&distributed.Register{WorkerID: "raw-1", Capabilities: distributed.Capabilities{MaxConcurrency: 4, Version: distributed.Version}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if hb, ok := msg.(*distributed.Heartbeat); !ok || hb.WorkerID != "raw-1" {
		t.Fatalf("expected priming heartbeat, got %#v", msg)
	}

	got, ok := m.Registry().Get("raw-1")
	if !ok {
		t.Fatal("worker not registered")
	}
	if got.Capabilities.MaxConcurrency != 4 || got.Capabilities.Version != distributed.Version {
		t.Errorf("unexpected capabilities %+v", got.Capabilities)
	}

	if err := c.Send(&distributed.Heartbeat{WorkerID: "raw-1", Status: distributed.Status{ActiveScans: 3}}); err != nil {
		t.Fatalf("Send heartbeat: %v", err)
	}
	waitFor(t, func() bool {
		w, ok := m.Registry().Get("raw-1")
		return ok && w.Status.ActiveScans == 3
	})
}

func TestMaster_ReRegistrationReplacesConnection(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)

	first := dialRaw(t, addr)
	if err := first.Send(&distributed.Register{WorkerID: "dup"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool { return m.Registry().Len() == 1 })
	before, _ := m.Registry().Get("dup")

	second := dialRaw(t, addr)
	if err := second.Send(&distributed.Register{WorkerID: "dup"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if !receiveUntilClosed(first) {
		t.Fatal("previous connection was not closed")
	}
	after, ok := m.Registry().Get("dup")
	if !ok || m.Registry().Len() != 1 {
		t.Fatalf("expected exactly one entry, have %d", m.Registry().Len())
	}
	if after.RemoteAddr == before.RemoteAddr {
		t.Errorf("entry still points at the first connection %s", after.RemoteAddr)
	}
}

func TestMaster_RejectsNonRegisterFirstMessage(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)

	bad := dialRaw(t, addr)
	if err := bad.Send(&distributed.Heartbeat{WorkerID: "sneaky"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !receiveUntilClosed(bad) {
		t.Fatal("expected connection closed")
	}
	if m.Registry().Len() != 0 {
		t.Fatal("unregistered worker must not appear in registry")
	}

	good := dialRaw(t, addr)
	if err := good.Send(&distributed.Register{WorkerID: "good"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := m.WaitForWorkers(waitCtx(t), 1); err != nil {
		t.Fatalf("accept loop stopped after a bad connection: %v", err)
	}
}

func TestMaster_RegisterTimeout(t *testing.T) {
	t.Parallel()
	cfg := testMasterConfig()
	cfg.RegisterTimeout = 50 * time.Millisecond
	m, addr := startMaster(t, cfg, nil)

	silent := dialRaw(t, addr)
	if !receiveUntilClosed(silent) {
		t.Fatal("silent connection was not closed")
	}
	if m.Registry().Len() != 0 {
		t.Fatal("registry should be empty")
	}
}

func TestMaster_RemovesWorkerOnDisconnect(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)
	c := dialRaw(t, addr)
	_ = c.Send(&distributed.Register{WorkerID: "gone"})
	if err := m.WaitForWorkers(waitCtx(t), 1); err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}
	_ = c.Close()
	waitFor(t, func() bool { return m.Registry().Len() == 0 })
}

// ─── Dispatch ──────────────────────────────────────────────────────────

func TestDispatch_WorkerScansBatch(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)
	scanner := &fakeScanner{}
	startWorker(t, addr, "w1", scanner)
	if err := m.WaitForWorkers(waitCtx(t), 1); err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}

	res, err := m.Dispatch(waitCtx(t), "w1", []string{"hit.example.com", "miss.example.com"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.WorkerID != "w1" || len(res.Findings) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	detected := 0
	for _, f := range res.Findings {
		if f.Detected {
			detected++
			if f.Domain != "hit.example.com" {
				t.Errorf("unexpected detection %+v", f)
			}
		}
	}
	if detected != 1 {
		t.Errorf("expected 1 detection, got %d", detected)
	}

	waitFor(t, func() bool {
		w, ok := m.Registry().Get("w1")
		return ok && w.Status.CompletedScans >= 1 && w.Status.Findings >= 1
	})
}

func TestDispatch_EmptyBatchReturnsEmptyResult(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)
	scanner := &fakeScanner{}
	startWorker(t, addr, "w-empty", scanner)
	if err := m.WaitForWorkers(waitCtx(t), 1); err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}

	res, err := m.Dispatch(waitCtx(t), "w-empty", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(res.Findings) != 0 {
		t.Fatalf("expected no findings, got %+v", res.Findings)
	}
	if scanner.count() != 0 {
		t.Fatalf("scanner should not run, ran %d times", scanner.count())
	}
}

func TestDispatch_UnknownWorker(t *testing.T) {
	t.Parallel()
	m, _ := startMaster(t, testMasterConfig(), nil)
	if _, err := m.Dispatch(waitCtx(t), "nobody", []string{"a.com"}); !errors.Is(err, distributed.ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestDispatch_FailsWhenWorkerDrops(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)
	c := dialRaw(t, addr)
	_ = c.Send(&distributed.Register{WorkerID: "flaky"})
	if err := m.WaitForWorkers(waitCtx(t), 1); err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}

	go func() {
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			msg, err := c.Receive()
			if err != nil {
				return
			}
			if _, ok := msg.(*distributed.ScanRequest); ok {
				_ = c.Close()
				return
			}
		}
	}()

	_, err := m.Dispatch(waitCtx(t), "flaky", []string{"a.com"})
	if !errors.Is(err, distributed.ErrWorkerDisconnected) {
		t.Fatalf("expected ErrWorkerDisconnected, got %v", err)
	}
}

// ─── DistributeScan ────────────────────────────────────────────────────

func TestDistributeScan_StoresFindingsFromAllWorkers(t *testing.T) {
	t.Parallel()
	writer := &testutil.DummyFindingWriter{}
	m, addr := startMaster(t, testMasterConfig(), writer)
	s1, s2 := &fakeScanner{}, &fakeScanner{}
	startWorker(t, addr, "w1", s1)
	startWorker(t, addr, "w2", s2)
	if err := m.WaitForWorkers(waitCtx(t), 2); err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}

	domains := []string{
		"hit1.com", "a.com", "b.com", "c.com", "hit2.com",
		"d.com", "e.com", "f.com", "g.com", "hit3.com",
	}
	sum, err := m.DistributeScan(waitCtx(t), domains, 3)
	if err != nil {
		t.Fatalf("DistributeScan: %v", err)
	}
	if sum.Batches != 4 || sum.CompletedBatches != 4 || sum.FailedBatches != 0 {
		t.Fatalf("unexpected batch counts %+v", sum)
	}
	if sum.Findings != 10 || sum.Matches != 3 {
		t.Fatalf("unexpected finding counts %+v", sum)
	}
	if s1.count()+s2.count() != len(domains) {
		t.Fatalf("expected every domain scanned once, got %d", s1.count()+s2.count())
	}
	if got := len(writer.Findings()); got != 10 {
		t.Fatalf("expected 10 stored findings, got %d", got)
	}
	if f, ok := writer.Get("hit2.com", "env-file"); !ok || !f.Detected {
		t.Errorf("expected stored detection for hit2.com, got %+v", f)
	}
}

func TestDistributeScan_NoWorkers(t *testing.T) {
	t.Parallel()
	m, _ := startMaster(t, testMasterConfig(), nil)
	if _, err := m.DistributeScan(waitCtx(t), []string{"a.com"}, 10); !errors.Is(err, distributed.ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
}

func TestWaitForWorkers_Timeout(t *testing.T) {
	t.Parallel()
	m, _ := startMaster(t, testMasterConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.WaitForWorkers(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// ─── Shutdown ──────────────────────────────────────────────────────────

func TestStopWorker_WorkerExitsCleanly(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)
	w, errc := startWorker(t, addr, "stoppable", &fakeScanner{})
	if err := m.WaitForWorkers(waitCtx(t), 1); err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}

	if err := m.StopWorker("stoppable"); err != nil {
		t.Fatalf("StopWorker: %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("worker returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not exit")
	}
	if w.State() != distributed.StateClosed {
		t.Errorf("expected closed state, got %s", w.State())
	}
	waitFor(t, func() bool { return m.Registry().Len() == 0 })

	if err := m.StopWorker("stoppable"); !errors.Is(err, distributed.ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestStopAll(t *testing.T) {
	t.Parallel()
	m, addr := startMaster(t, testMasterConfig(), nil)
	_, e1 := startWorker(t, addr, "a", &fakeScanner{})
	_, e2 := startWorker(t, addr, "b", &fakeScanner{})
	if err := m.WaitForWorkers(waitCtx(t), 2); err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}
	n, err := m.StopAll()
	if err != nil || n != 2 {
		t.Fatalf("StopAll = %d, %v", n, err)
	}
	for _, errc := range []<-chan error{e1, e2} {
		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("worker returned %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("worker did not exit")
		}
	}
}

func TestNewWorker_GeneratesID(t *testing.T) {
	t.Parallel()
	w, err := distributed.NewWorker(distributed.DefaultWorkerConfig(), &fakeScanner{}, nil)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	if !strings.HasPrefix(w.ID(), "worker-") {
		t.Errorf("unexpected id %q", w.ID())
	}
	if _, err := distributed.NewWorker(distributed.DefaultWorkerConfig(), nil, nil); err == nil {
		t.Error("expected error for nil scanner")
	}
}
