// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/model"
	"github.com/raysh454/fatt/internal/webclient"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// Count returns how many messages at any level equal msg.
func (l *DummyLogger) Count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, list := range [][]string{l.Debugs, l.Infos, l.Warns, l.Errors} {
		for _, m := range list {
			if m == msg {
				n++
			}
		}
	}
	return n
}

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyWebClient implements webclient.WebClient.
// By default it returns body "ok:<url>" with status 200.
// Set FailURLs[url] = true to force an error for a specific URL, or Handler
// to control responses entirely.
type DummyWebClient struct {
	ResponseDelay time.Duration
	FailURLs      map[string]bool
	Handler       func(req *webclient.Request) (*webclient.Response, error)
	mu            sync.Mutex
	Requests      []*webclient.Request
}

func (d *DummyWebClient) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	d.mu.Unlock()

	if d.FailURLs != nil && d.FailURLs[req.URL] {
		return nil, &errString{"dummy fetch fail for " + req.URL}
	}
	if d.Handler != nil {
		return d.Handler(req)
	}

	return &webclient.Response{
		Request:    req,
		Body:       []byte("ok:" + req.URL),
		StatusCode: 200,
		FetchedAt:  time.Now(),
	}, nil
}

func (d *DummyWebClient) Close() error { return nil }

// RequestCount returns the number of requests seen so far.
func (d *DummyWebClient) RequestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Requests)
}

// ─── Resolver ──────────────────────────────────────────────────────────

// DummyResolver implements scanner.Resolver from a fixed table. Domains not
// in IPs resolve to Default when it is set, and fail otherwise.
type DummyResolver struct {
	IPs     map[string]string
	Default string
	Err     error
	Delay   time.Duration

	mu    sync.Mutex
	Calls []string
}

func (d *DummyResolver) Resolve(ctx context.Context, domain string) (string, bool, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, domain)
	d.mu.Unlock()

	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	if d.Err != nil {
		return "", false, d.Err
	}
	if ip, ok := d.IPs[strings.ToLower(domain)]; ok {
		return ip, ip != "", nil
	}
	if d.Default != "" {
		return d.Default, true, nil
	}
	return "", false, nil
}

// CallCount returns how many times Resolve was called.
func (d *DummyResolver) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// ─── Findings ──────────────────────────────────────────────────────────

// DummyFindingWriter implements scanner.FindingWriter with in-memory upserts.
// Writes for a domain in FailDomains return an error.
type DummyFindingWriter struct {
	FailDomains map[string]bool

	mu       sync.Mutex
	findings map[string]model.Finding
	Writes   int
}

func (w *DummyFindingWriter) Upsert(_ context.Context, f model.Finding) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Writes++
	if w.FailDomains[f.Domain] {
		return &errString{"dummy write fail for " + f.Domain}
	}
	if w.findings == nil {
		w.findings = map[string]model.Finding{}
	}
	w.findings[f.Key()] = f
	return nil
}

// Findings returns the stored findings in no particular order.
func (w *DummyFindingWriter) Findings() []model.Finding {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Finding, 0, len(w.findings))
	for _, f := range w.findings {
		out = append(out, f)
	}
	return out
}

// Get returns the finding stored for domain and rule.
func (w *DummyFindingWriter) Get(domain, rule string) (model.Finding, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.findings[model.Finding{Domain: domain, RuleName: rule}.Key()]
	return f, ok
}

// ─── helpers ───────────────────────────────────────────────────────────

type errString struct{ s string }

func (e *errString) Error() string { return e.s }
