// Package transport glues the rate limiter into an HTTP client: a
// RoundTripper that acquires admission before every outbound request,
// commits the burst slot when the request reaches the provider, and
// feeds provider 429 responses back into the limiter. The transport
// carries no protocol knowledge of its own; endpoint-to-group mapping
// comes from the injected resolver.
package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pacegate/pacegate/pkg/pacegate"
)

// PacedTransport is an http.RoundTripper that paces requests through a
// Limiter. Wrap a client's transport once at startup:
//
//	client := &http.Client{
//	    Transport: transport.NewPacedTransport(limiter, resolver),
//	}
type PacedTransport struct {
	limiter  *pacegate.Limiter
	resolver GroupResolver
	base     http.RoundTripper
	log      *zap.Logger
}

// TransportOption configures a PacedTransport.
type TransportOption func(*PacedTransport)

// WithBase sets the underlying RoundTripper. Defaults to
// http.DefaultTransport.
func WithBase(base http.RoundTripper) TransportOption {
	return func(t *PacedTransport) { t.base = base }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *zap.Logger) TransportOption {
	return func(t *PacedTransport) { t.log = log }
}

// NewPacedTransport creates a paced RoundTripper.
func NewPacedTransport(limiter *pacegate.Limiter, resolver GroupResolver, opts ...TransportOption) *PacedTransport {
	t := &PacedTransport{
		limiter:  limiter,
		resolver: resolver,
		base:     http.DefaultTransport,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *PacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	group, err := t.resolver.Resolve(req.Method, req.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve rate limit group: %w", err)
	}

	endpoint := req.Method + " " + req.URL.Path
	permit, err := t.limiter.AcquireEndpoint(req.Context(), group, endpoint)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		// The request never completed; the burst slot stays free.
		permit.Abandon()
		return nil, err
	}
	permit.Commit()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		t.limiter.Notify429(group,
			pacegate.WithEndpoint(endpoint),
			pacegate.WithRetryAfter(retryAfter),
		)
		t.log.Warn("provider reported rate limit violation",
			zap.String("group", string(group)),
			zap.String("endpoint", endpoint),
			zap.Duration("retry_after", retryAfter),
		)
	}

	return resp, nil
}

// parseRetryAfter handles the delta-seconds form of Retry-After. The
// HTTP-date form is rare on exchange APIs and is ignored.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
