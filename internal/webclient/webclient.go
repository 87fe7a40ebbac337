// Package webclient issues the HTTP requests behind every rule check.
package webclient

import (
	"context"
	"net/http"
	"time"
)

// WebClient executes HTTP requests. Implementations must be safe for
// concurrent use.
type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)

	Close() error
}

// Request is one outgoing check. An empty Method means GET.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response carries what a rule check needs: status, headers and a body that
// may have been capped at Config.MaxBodyBytes.
type Response struct {
	Request    *Request
	Headers    http.Header
	Body       []byte
	StatusCode int
	FetchedAt  time.Time

	// Truncated is set when the body was cut at the configured size limit.
	Truncated bool
}

// IsSuccessOrRedirect reports a 2xx or 3xx status.
func (r *Response) IsSuccessOrRedirect() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 400
}
