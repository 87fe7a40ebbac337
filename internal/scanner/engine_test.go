package scanner_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/rules"
	"github.com/raysh454/fatt/internal/scanner"
	"github.com/raysh454/fatt/internal/testutil"
	"github.com/raysh454/fatt/internal/utils"
	"github.com/raysh454/fatt/internal/webclient"
)

func ruleSet(rs ...rules.Rule) *rules.RuleSet {
	set := &rules.RuleSet{Rules: rs}
	set.SortBySeverity()
	return set
}

func testConfig() scanner.Config {
	cfg := scanner.DefaultConfig()
	cfg.Concurrency = 4
	cfg.ProgressInterval = 0
	cfg.BackoffMin = 5 * time.Millisecond
	cfg.BackoffMax = 10 * time.Millisecond
	return cfg
}

func newEngine(t *testing.T, cfg scanner.Config, res scanner.Resolver, wc webclient.WebClient, w scanner.FindingWriter, rs *rules.RuleSet) *scanner.Engine {
	t.Helper()
	e, err := scanner.New(cfg, res, wc, w, rs, logging.NopLogger{})
	if err != nil {
		t.Fatalf("scanner.New: %v", err)
	}
	return e
}

// ─── New ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	rs := ruleSet(rules.Rule{Name: "x", Path: "/x", Signature: "x"})
	res := &testutil.DummyResolver{}
	wc := &testutil.DummyWebClient{}

	if _, err := scanner.New(testConfig(), res, wc, nil, &rules.RuleSet{}, nil); !errors.Is(err, scanner.ErrNoRules) {
		t.Errorf("expected ErrNoRules, got %v", err)
	}
	cfg := testConfig()
	cfg.Concurrency = 0
	if _, err := scanner.New(cfg, res, wc, nil, rs, nil); err == nil {
		t.Error("expected error for zero concurrency")
	}
	if _, err := scanner.New(testConfig(), nil, wc, nil, rs, nil); err == nil {
		t.Error("expected error for nil resolver")
	}
	cfg = testConfig()
	cfg.DNSOnly = true
	if _, err := scanner.New(cfg, res, nil, nil, rs, nil); err != nil {
		t.Errorf("dns-only engine should not need a webclient: %v", err)
	}
}

// ─── Run ───────────────────────────────────────────────────────────────

func TestRun_DedupedDomainListScansUniqueDomains(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "domains.txt")
	if err := os.WriteFile(path, []byte("a.com\na.com\n# comment\n\nb.com\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	domains, err := utils.ReadDomains(path)
	if err != nil {
		t.Fatalf("ReadDomains: %v", err)
	}

	res := &testutil.DummyResolver{Default: "192.0.2.1"}
	wc := &testutil.DummyWebClient{}
	w := &testutil.DummyFindingWriter{}
	rs := ruleSet(
		rules.Rule{Name: "env", Path: "/.env", Signature: "ok:"},
		rules.Rule{Name: "git", Path: "/.git/config", Signature: "[core]"},
	)
	e := newEngine(t, testConfig(), res, wc, w, rs)

	summary, err := e.Run(context.Background(), domains)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Domains != 2 || summary.Resolved != 2 || summary.Checks != 4 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if res.CallCount() != 2 {
		t.Errorf("expected 2 resolutions, got %d", res.CallCount())
	}
	if got := len(w.Findings()); got != 4 {
		t.Fatalf("expected one finding per (domain, rule), got %d", got)
	}
	if f, ok := w.Get("a.com", "env"); !ok || !f.Detected {
		t.Errorf("expected a.com/env detected, got %+v", f)
	}
	if f, ok := w.Get("b.com", "git"); !ok || f.Detected {
		t.Errorf("expected b.com/git stored as not detected, got %+v", f)
	}
	if summary.Matches != 2 {
		t.Errorf("expected 2 matches, got %d", summary.Matches)
	}
}

func TestRun_DetectsSignatureAndSkipsBodyOnMissingPath(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/admin" {
			_, _ = io.WriteString(w, "<h1>Admin Panel</h1>")
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()

	client, err := webclient.NewNetHTTPClient(webclient.Config{}, logging.NopLogger{}, ts.Client())
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	defer client.Close()

	w := &testutil.DummyFindingWriter{}
	rs := ruleSet(
		rules.Rule{Name: "admin", Path: "/admin", Signature: "Admin Panel", Severity: rules.SeverityHigh},
		rules.Rule{Name: "missing", Path: "/missing", Signature: "Admin Panel"},
	)
	e := newEngine(t, testConfig(), &testutil.DummyResolver{Default: "127.0.0.1"}, client, w, rs)

	summary, err := e.Run(context.Background(), []string{ts.URL})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Matches != 1 {
		t.Errorf("expected 1 match, got %d", summary.Matches)
	}

	admin, ok := w.Get(ts.URL, "admin")
	if !ok || !admin.Detected || admin.MatchedPath != "/admin" {
		t.Errorf("unexpected admin finding %+v", admin)
	}
	missing, ok := w.Get(ts.URL, "missing")
	if !ok || missing.Detected {
		t.Errorf("unexpected missing finding %+v", missing)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		if s == "GET /missing" {
			t.Errorf("signature check must not run for a missing path: %v", seen)
		}
	}
}

func TestRun_UnresolvedDomainsAreCountedNotProbed(t *testing.T) {
	t.Parallel()
	res := &testutil.DummyResolver{IPs: map[string]string{"good.com": "192.0.2.1"}}
	wc := &testutil.DummyWebClient{}
	w := &testutil.DummyFindingWriter{}
	rs := ruleSet(
		rules.Rule{Name: "a", Path: "/a", Signature: "x"},
		rules.Rule{Name: "b", Path: "/b", Signature: "x"},
		rules.Rule{Name: "c", Path: "/c", Signature: "x"},
	)
	e := newEngine(t, testConfig(), res, wc, w, rs)

	summary, err := e.Run(context.Background(), []string{"good.com", "bad1.com", "bad2.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Unresolved != 2 || summary.Resolved != 1 || summary.Errors != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Checks != 9 {
		t.Errorf("all tasks should be accounted for, got %d", summary.Checks)
	}
	for _, req := range wc.Requests {
		if req.URL != "https://good.com/a" && req.URL != "https://good.com/b" && req.URL != "https://good.com/c" {
			t.Errorf("unexpected request to %s", req.URL)
		}
	}
	if got := len(w.Findings()); got != 3 {
		t.Errorf("expected 3 findings, got %d", got)
	}

	p := e.Progress()
	if p.DomainsProcessed != 3 || p.TasksCompleted != p.TasksTotal || p.Percent() != 100 {
		t.Errorf("unexpected final progress %+v", p)
	}
}

func TestRun_StoreErrorIsIsolatedToDomain(t *testing.T) {
	t.Parallel()
	w := &testutil.DummyFindingWriter{FailDomains: map[string]bool{"broken.com": true}}
	rs := ruleSet(rules.Rule{Name: "a", Path: "/a", Signature: "ok:"})
	e := newEngine(t, testConfig(), &testutil.DummyResolver{Default: "192.0.2.1"}, &testutil.DummyWebClient{}, w, rs)

	summary, err := e.Run(context.Background(), []string{"one.com", "broken.com", "two.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Errors != 1 {
		t.Errorf("expected 1 error, got %d", summary.Errors)
	}
	if _, ok := w.Get("one.com", "a"); !ok {
		t.Error("one.com finding missing")
	}
	if _, ok := w.Get("two.com", "a"); !ok {
		t.Error("two.com finding missing")
	}
}

func TestRun_ResolverFaultCountsAsError(t *testing.T) {
	t.Parallel()
	res := &testutil.DummyResolver{Err: errors.New("cache unavailable")}
	wc := &testutil.DummyWebClient{}
	rs := ruleSet(rules.Rule{Name: "a", Path: "/a", Signature: "x"})
	e := newEngine(t, testConfig(), res, wc, nil, rs)

	summary, err := e.Run(context.Background(), []string{"a.com", "b.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Errors != 2 || summary.Checks != 2 || wc.RequestCount() != 0 {
		t.Errorf("unexpected summary %+v, requests %d", summary, wc.RequestCount())
	}
}

// concurrencyResolver tracks the peak number of concurrent Resolve calls.
type concurrencyResolver struct {
	active atomic.Int64
	peak   atomic.Int64
}

func (c *concurrencyResolver) Resolve(_ context.Context, _ string) (string, bool, error) {
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	c.active.Add(-1)
	return "", false, nil
}

func TestRun_BoundsDomainConcurrencyAcrossBatches(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Concurrency = 3
	cfg.BatchSize = 5
	res := &concurrencyResolver{}
	rs := ruleSet(rules.Rule{Name: "a", Path: "/a", Signature: "x"})
	e := newEngine(t, cfg, res, &testutil.DummyWebClient{}, nil, rs)

	domains := make([]string, 20)
	for i := range domains {
		domains[i] = string(rune('a'+i)) + ".com"
	}
	summary, err := e.Run(context.Background(), domains)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Domains != 20 || summary.Unresolved != 20 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if peak := res.peak.Load(); peak > 3 {
		t.Errorf("expected at most 3 concurrent domains, saw %d", peak)
	}
}

func TestRun_RateLimitedBacksOffOnce(t *testing.T) {
	t.Parallel()
	wc := &testutil.DummyWebClient{Handler: func(req *webclient.Request) (*webclient.Response, error) {
		return &webclient.Response{Request: req, StatusCode: http.StatusTooManyRequests}, nil
	}}
	w := &testutil.DummyFindingWriter{}
	rs := ruleSet(rules.Rule{Name: "a", Path: "/a", Signature: "x"})
	e := newEngine(t, testConfig(), &testutil.DummyResolver{Default: "192.0.2.1"}, wc, w, rs)

	start := time.Now()
	if _, err := e.Run(context.Background(), []string{"slow.com"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("expected a backoff pause after 429")
	}
	if wc.RequestCount() != 1 {
		t.Errorf("probe must not retry after 429, saw %d requests", wc.RequestCount())
	}
	if f, ok := w.Get("slow.com", "a"); !ok || f.Detected {
		t.Errorf("expected not-detected finding, got %+v", f)
	}
}

func TestRun_DNSOnlySkipsProbes(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DNSOnly = true
	wc := &testutil.DummyWebClient{}
	w := &testutil.DummyFindingWriter{}
	rs := ruleSet(rules.Rule{Name: "a", Path: "/a", Signature: "x"})
	e := newEngine(t, cfg, &testutil.DummyResolver{IPs: map[string]string{"a.com": "192.0.2.1"}}, wc, w, rs)

	summary, err := e.Run(context.Background(), []string{"a.com", "b.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Resolved != 1 || summary.Unresolved != 1 || summary.Checks != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if wc.RequestCount() != 0 || w.Writes != 0 {
		t.Errorf("dns-only must not probe or store: requests=%d writes=%d", wc.RequestCount(), w.Writes)
	}
}

func TestRun_LogsProgressAndSummary(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.ProgressInterval = 5 * time.Millisecond
	logger := &testutil.DummyLogger{}
	rs := ruleSet(rules.Rule{Name: "a", Path: "/a", Signature: "x"})
	wc := &testutil.DummyWebClient{ResponseDelay: 10 * time.Millisecond}
	e, err := scanner.New(cfg, &testutil.DummyResolver{Default: "192.0.2.1"}, wc, nil, rs, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Run(context.Background(), []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if logger.Count("scan progress") == 0 {
		t.Error("expected at least one progress line")
	}
	if logger.Count("scan complete") != 1 {
		t.Error("expected one summary line")
	}
	after := logger.Count("scan progress")
	time.Sleep(20 * time.Millisecond)
	if logger.Count("scan progress") != after {
		t.Error("progress ticker kept running after the scan finished")
	}
}

func TestRun_EmptyDomainList(t *testing.T) {
	t.Parallel()
	rs := ruleSet(rules.Rule{Name: "a", Path: "/a", Signature: "x"})
	e := newEngine(t, testConfig(), &testutil.DummyResolver{}, &testutil.DummyWebClient{}, nil, rs)
	summary, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Domains != 0 || summary.Checks != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

// ─── ScanDomain ────────────────────────────────────────────────────────

func TestScanDomain_ReturnsOneFindingPerRule(t *testing.T) {
	t.Parallel()
	rs := ruleSet(
		rules.Rule{Name: "low", Path: "/low", Signature: "ok:", Severity: rules.SeverityLow},
		rules.Rule{Name: "crit", Path: "crit", Signature: "nope", Severity: rules.SeverityCritical},
	)
	e := newEngine(t, testConfig(), &testutil.DummyResolver{Default: "192.0.2.1"}, &testutil.DummyWebClient{}, nil, rs)

	findings, err := e.ScanDomain(context.Background(), "Example.com")
	if err != nil {
		t.Fatalf("ScanDomain: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	if findings[0].RuleName != "crit" || findings[0].Detected {
		t.Errorf("unexpected first finding %+v", findings[0])
	}
	if findings[1].RuleName != "low" || !findings[1].Detected || findings[1].Domain != "Example.com" {
		t.Errorf("unexpected second finding %+v", findings[1])
	}
}

func TestScanDomain_UnresolvedHasNoFindings(t *testing.T) {
	t.Parallel()
	rs := ruleSet(rules.Rule{Name: "a", Path: "/a", Signature: "x"})
	e := newEngine(t, testConfig(), &testutil.DummyResolver{}, &testutil.DummyWebClient{}, nil, rs)
	findings, err := e.ScanDomain(context.Background(), "nowhere.invalid")
	if err != nil || len(findings) != 0 {
		t.Fatalf("expected no findings and no error, got %v %v", findings, err)
	}
}
