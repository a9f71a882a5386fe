package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable is returned when a country cannot be resolved. Callers are
// expected to fail open on it.
var ErrUnavailable = errors.New("geoip lookup unavailable")

// Resolver maps an IP address to an ISO 3166-1 alpha-2 country code.
// Lookups are best-effort and must never block beyond their timeout.
type Resolver interface {
	CountryOf(ctx context.Context, ip string) (string, error)
}

// HTTPResolver resolves countries against an HTTP endpoint. The endpoint is
// a format string with a single %s for the IP, and is expected to respond
// with the bare country code.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPResolver builds a resolver with a short timeout so lookups cannot
// stall the hot path.
func NewHTTPResolver(endpoint string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// CountryOf performs the lookup. Any failure is reported as ErrUnavailable.
func (r *HTTPResolver) CountryOf(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.endpoint, ip), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code := strings.ToUpper(strings.TrimSpace(string(body)))
	if len(code) != 2 {
		return "", fmt.Errorf("%w: malformed code %q", ErrUnavailable, code)
	}
	return code, nil
}

// StaticResolver resolves from a fixed map. Used in tests and air-gapped
// deployments.
type StaticResolver struct {
	Countries map[string]string
}

func (r *StaticResolver) CountryOf(_ context.Context, ip string) (string, error) {
	code, ok := r.Countries[ip]
	if !ok {
		return "", ErrUnavailable
	}
	return code, nil
}
