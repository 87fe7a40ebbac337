// Package probe checks a single rule against a single domain over HTTP.
package probe

import (
	"context"
	"net/http"
	"strings"

	"github.com/raysh454/fatt/internal/rules"
	"github.com/raysh454/fatt/internal/utils"
	"github.com/raysh454/fatt/internal/webclient"
)

// PathResult is the outcome of the existence check.
type PathResult struct {
	Exists      bool
	StatusCode  int
	RateLimited bool
	URL         string
}

// Outcome is the combined result of the existence and signature checks.
type Outcome struct {
	Exists      bool
	Matched     bool
	RateLimited bool
	URL         string
}

// CheckPath requests the rule path with HEAD, retrying once with GET when the
// server rejects HEAD. Any 2xx or 3xx status means the path exists. Transport
// errors are reported as a missing path.
func CheckPath(ctx context.Context, client webclient.WebClient, domain string, rule rules.Rule) PathResult {
	url := utils.BuildURL(domain, rule.Path)
	res := PathResult{URL: url}

	resp, err := client.Do(ctx, &webclient.Request{Method: http.MethodHead, URL: url})
	if err != nil {
		return res
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = client.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: url})
		if err != nil {
			return res
		}
	}

	res.StatusCode = resp.StatusCode
	res.RateLimited = resp.StatusCode == http.StatusTooManyRequests
	res.Exists = resp.IsSuccessOrRedirect()
	return res
}

// CheckSignature fetches url and reports whether the body contains signature.
// Request and body read failures report false.
func CheckSignature(ctx context.Context, client webclient.WebClient, url, signature string) bool {
	resp, err := client.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: url})
	if err != nil || resp == nil {
		return false
	}
	return strings.Contains(string(resp.Body), signature)
}

// Probe runs the existence check and, when the path exists, the signature check.
func Probe(ctx context.Context, client webclient.WebClient, domain string, rule rules.Rule) Outcome {
	pr := CheckPath(ctx, client, domain, rule)
	out := Outcome{Exists: pr.Exists, RateLimited: pr.RateLimited, URL: pr.URL}
	if !pr.Exists {
		return out
	}
	out.Matched = CheckSignature(ctx, client, pr.URL, rule.Signature)
	return out
}
