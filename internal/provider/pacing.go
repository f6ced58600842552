package provider

import (
	"net/http"

	"golang.org/x/time/rate"
)

// defaultRPS/defaultBurst mirror config.Default's Retry tuning (5 req/s,
// burst 10) — drivers are constructed once at init() time, before any
// config file is loaded, so pacing starts from the same baseline the
// reactive tracker (C3) would fall back to on a fresh install.
const (
	defaultRPS   = 5
	defaultBurst = 10
)

// RateLimited wraps transport with a proactive token-bucket limiter, pacing
// outbound calls before they ever trip C3's reactive rate-limit tracker.
// Passing rps or burst <= 0 disables pacing and returns transport unchanged.
func RateLimited(transport http.RoundTripper, rps float64, burst int) http.RoundTripper {
	if rps <= 0 || burst <= 0 {
		return transport
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &pacedTransport{next: transport, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// DefaultPacing applies the baseline pacing every driver starts with.
func DefaultPacing(transport http.RoundTripper) http.RoundTripper {
	return RateLimited(transport, defaultRPS, defaultBurst)
}

type pacedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (p *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := p.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return p.next.RoundTrip(req)
}
