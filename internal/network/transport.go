package network

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id the node echoes in error bodies.
const RequestIDHeader = "X-Request-Id"

// RetryConfig specifies how idempotent requests are retried
type RetryConfig struct {
	Attempts int           `json:"attempts" toml:"attempts"`
	MinDelay time.Duration `json:"min_delay" toml:"min_delay"` // e.g., 100ms
	MaxDelay time.Duration `json:"max_delay" toml:"max_delay"` // e.g., 1s
}

// RetryRoundTripper wraps http.RoundTripper, stamping a request id on every
// request and retrying GET and HEAD on transport errors and 5xx responses.
// Transactions are never retried.
type RetryRoundTripper struct {
	base   http.RoundTripper
	config RetryConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryRoundTripper creates a new RetryRoundTripper.
// If base is nil, http.DefaultTransport is used.
func NewRetryRoundTripper(base http.RoundTripper, config RetryConfig) *RetryRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	return &RetryRoundTripper{
		base:   base,
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RoundTrip implements http.RoundTripper
func (t *RetryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, uuid.New().String())
	}

	attempts := 1
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		attempts = t.config.Attempts
	}

	var resp *http.Response
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(t.delay()):
			}
		}
		resp, err = t.base.RoundTrip(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		if err == nil && i < attempts-1 {
			resp.Body.Close()
		}
	}
	return resp, err
}

// delay returns a random delay within the configured range
func (t *RetryRoundTripper) delay() time.Duration {
	min, max := t.config.MinDelay, t.config.MaxDelay
	if max > min {
		t.mu.Lock()
		defer t.mu.Unlock()
		return min + time.Duration(t.rng.Int63n(int64(max-min)))
	}
	return min
}
