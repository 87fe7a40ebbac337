package utils

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// CommentPrefix marks lines that ReadLines skips.
const CommentPrefix = "#"

// ReadLines returns the trimmed, non-blank, non-comment lines of a file.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, CommentPrefix) {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// ReadDomains reads a domain list file and deduplicates it by exact match,
// keeping the first occurrence of each entry.
func ReadDomains(path string) ([]string, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	return Unique(lines), nil
}

// Unique returns s without duplicates, preserving first-seen order.
func Unique(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NormalizeDomain reduces a domain-ish string to a lookup key: trimmed,
// lowercased, with scheme, userinfo, path, query, fragment and port removed.
// Internationalized names are converted to their ASCII form when possible.
//
//	"HTTPS://Example.com:8443/admin?x=1" -> "example.com"
//	"[::1]:8080"                         -> "::1"
//	"bücher.de"                          -> "xn--bcher-kva.de"
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	d = strings.TrimSuffix(strings.Trim(d, "[]"), ".")
	if d == "" || net.ParseIP(d) != nil {
		return d
	}
	if ascii, err := idna.Lookup.ToASCII(d); err == nil {
		d = ascii
	}
	return d
}

// BuildURL joins a domain and a rule path with exactly one slash.
//
// A domain that already carries a scheme keeps its scheme and host:port (its
// own path, query and fragment are dropped). A bare domain is normalized with
// NormalizeDomain and gets the https scheme.
//
//	BuildURL("example.com", "admin")              -> "https://example.com/admin"
//	BuildURL("http://127.0.0.1:8080/x", "/.git/") -> "http://127.0.0.1:8080/.git/"
func BuildURL(domain, path string) string {
	d := strings.TrimSpace(domain)
	var base string
	if i := strings.Index(d, "://"); i > 0 {
		scheme := strings.ToLower(d[:i])
		host := d[i+3:]
		if j := strings.IndexAny(host, "/?#"); j >= 0 {
			host = host[:j]
		}
		base = scheme + "://" + strings.ToLower(host)
	} else {
		host := NormalizeDomain(d)
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		base = "https://" + host
	}
	return base + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}

// Chunk splits s into consecutive slices of at most size elements. The last
// chunk may be shorter. A size of zero or less yields s as a single chunk.
func Chunk[T any](s []T, size int) [][]T {
	if size <= 0 {
		return [][]T{s}
	}
	out := make([][]T, 0, (len(s)+size-1)/size)
	for start := 0; start < len(s); start += size {
		end := min(start+size, len(s))
		out = append(out, s[start:end:end])
	}
	return out
}

// FormatDuration renders d as "1h 2m 3.0s", "2m 3.0s" or "3.0s".
func FormatDuration(d time.Duration) string {
	seconds := d.Seconds()
	hours := int(seconds / 3600)
	minutes := int((seconds - float64(hours)*3600) / 60)
	rest := seconds - float64(hours)*3600 - float64(minutes)*60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %.1fs", hours, minutes, rest)
	case minutes > 0:
		return fmt.Sprintf("%dm %.1fs", minutes, rest)
	default:
		return fmt.Sprintf("%.1fs", rest)
	}
}

// BackoffDuration draws a duration uniformly from [lo, hi].
func BackoffDuration(lo, hi time.Duration) time.Duration {
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}

// RandomBackoff sleeps for BackoffDuration(lo, hi) or until ctx is done, and
// returns the duration that was drawn.
func RandomBackoff(ctx context.Context, lo, hi time.Duration) time.Duration {
	d := BackoffDuration(lo, hi)
	if d <= 0 {
		return 0
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	return d
}
