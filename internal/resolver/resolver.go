// Package resolver resolves domains to IP addresses through a persistent
// TTL cache backed by bbolt.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/semaphore"

	"github.com/raysh454/fatt/internal/logging"
)

var bucketName = []byte("dns_cache")

var ErrNoAddresses = errors.New("no addresses found")

// Result is a cache entry. An empty IP records a failed resolution.
type Result struct {
	Domain    string `json:"domain"`
	IP        string `json:"ip,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
	TTL       int64  `json:"ttl"`
}

// Valid reports whether the entry is still fresh at now.
func (r Result) Valid(now time.Time) bool {
	return now.Unix()-r.Timestamp < r.TTL
}

// Stats is a snapshot of the resolver counters.
type Stats struct {
	Resolved int64 `json:"resolved"`
	Failed   int64 `json:"failed"`
	Cached   int64 `json:"cached"`
	Total    int64 `json:"total"`
}

// HitRate returns the share of resolutions served from cache.
func (s Stats) HitRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Cached) / float64(s.Total)
}

// Lookuper performs uncached name resolution.
type Lookuper interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolver is safe for concurrent use.
type Resolver struct {
	cfg    Config
	db     *bolt.DB
	lookup Lookuper
	gate   *semaphore.Weighted
	logger logging.Logger
	now    func() time.Time

	// clearMu is held shared by resolutions and exclusively by Clear.
	clearMu sync.RWMutex

	resolved atomic.Int64
	failed   atomic.Int64
	cached   atomic.Int64
	total    atomic.Int64
}

// Open opens the cache at cfg.CachePath and resolves with the default
// lookuper for cfg.Nameservers.
func Open(cfg Config, logger logging.Logger) (*Resolver, error) {
	return New(cfg, DefaultLookuper(cfg, logger), logger)
}

// New opens the cache at cfg.CachePath and resolves misses through lookup.
func New(cfg Config, lookup Lookuper, logger logging.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if lookup == nil {
		return nil, fmt.Errorf("resolver: lookuper is nil")
	}
	if cfg.CachePath == "" {
		return nil, fmt.Errorf("resolver: cache path is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if dir := filepath.Dir(cfg.CachePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dns cache dir %s: %w", dir, err)
		}
	}

	db, err := bolt.Open(cfg.CachePath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open dns cache %s: %w", cfg.CachePath, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create dns cache bucket: %w", err)
	}

	return &Resolver{
		cfg:    cfg,
		db:     db,
		lookup: lookup,
		gate:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logger.With(logging.Field{Key: "component", Value: "resolver"}),
		now:    time.Now,
	}, nil
}

// Resolve returns the IP for domain. A failed resolution is not an error: it
// is cached as a negative entry and reported with ok=false. Errors are cache
// faults or cancellation of ctx.
func (r *Resolver) Resolve(ctx context.Context, domain string) (ip string, ok bool, err error) {
	key := strings.ToLower(strings.TrimSpace(domain))

	if err := r.gate.Acquire(ctx, 1); err != nil {
		return "", false, err
	}
	defer r.gate.Release(1)

	r.clearMu.RLock()
	defer r.clearMu.RUnlock()

	now := r.now()
	entry, err := r.get(key)
	if err != nil {
		return "", false, err
	}
	if entry != nil && entry.Valid(now) {
		r.cached.Add(1)
		r.total.Add(1)
		r.logger.Debug("dns cache hit", logging.Field{Key: "domain", Value: key})
		return entry.IP, entry.IP != "", nil
	}

	lookupCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	addrs, lerr := r.lookup.LookupHost(lookupCtx, key)
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	if lerr == nil && len(addrs) == 0 {
		lerr = ErrNoAddresses
	}

	res := Result{Domain: key, Timestamp: now.Unix()}
	var ttl time.Duration
	if lerr != nil {
		res.Error = lerr.Error()
		ttl = r.cfg.NegativeTTL
		r.failed.Add(1)
		r.logger.Debug("dns resolution failed",
			logging.Field{Key: "domain", Value: key},
			logging.Field{Key: "error", Value: lerr})
	} else {
		res.IP = addrs[0]
		ttl = r.cfg.PositiveTTL
		r.resolved.Add(1)
	}
	r.total.Add(1)

	if ttl > 0 {
		res.TTL = int64(ttl / time.Second)
		if err := r.put(key, res); err != nil {
			return "", false, err
		}
	}
	return res.IP, res.IP != "", nil
}

func (r *Resolver) get(key string) (*Result, error) {
	var entry *Result
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var res Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Errorf("decode dns cache entry %q: %w", key, err)
		}
		entry = &res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read dns cache: %w", err)
	}
	return entry, nil
}

func (r *Resolver) put(key string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode dns cache entry %q: %w", key, err)
	}
	if err := r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("write dns cache: %w", err)
	}
	return nil
}

// Lookup returns the raw cache entry for domain, fresh or not.
func (r *Resolver) Lookup(domain string) (*Result, error) {
	r.clearMu.RLock()
	defer r.clearMu.RUnlock()
	return r.get(strings.ToLower(strings.TrimSpace(domain)))
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Resolved: r.resolved.Load(),
		Failed:   r.failed.Load(),
		Cached:   r.cached.Load(),
		Total:    r.total.Load(),
	}
}

// Entries returns the number of cached entries, expired ones included.
func (r *Resolver) Entries() (int, error) {
	n := 0
	err := r.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketName); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count dns cache: %w", err)
	}
	return n, nil
}

// Clear drops every entry and resets the counters. It waits for in-flight
// resolutions to finish.
func (r *Resolver) Clear() error {
	r.clearMu.Lock()
	defer r.clearMu.Unlock()

	if err := r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	}); err != nil {
		return fmt.Errorf("clear dns cache: %w", err)
	}

	r.resolved.Store(0)
	r.failed.Store(0)
	r.cached.Store(0)
	r.total.Store(0)
	r.logger.Info("dns cache flushed")
	return nil
}

func (r *Resolver) Close() error {
	return r.db.Close()
}

// Path returns the cache database file.
func (r *Resolver) Path() string { return r.cfg.CachePath }
