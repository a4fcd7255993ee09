// Package transport builds the *http.Client shared by the update checker.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
)

// Options configures the client returned by New.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Token     string

	// RateLimit caps outbound requests per second. Zero disables throttling.
	RateLimit int
	Burst     int

	// Base is the innermost round tripper. Defaults to http.DefaultTransport.
	Base   http.RoundTripper
	Logger zerolog.Logger
}

// New returns an *http.Client with the configured timeout and a round tripper
// chain that sets User-Agent and Authorization headers and optionally throttles.
func New(opts Options) (*http.Client, error) {
	rt := WithHeaders(opts.Base, opts.UserAgent, opts.Token)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		throttled, err := NewThrottle(opts.RateLimit, burst, opts.Logger, rt)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		rt = throttled
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: rt,
	}, nil
}

// WithHeaders wraps base so that every request carries the given User-Agent
// and bearer token. Empty values are skipped.
func WithHeaders(base http.RoundTripper, ua, token string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	if token != "" {
		rt = bearer{token: token, base: rt}
	}
	if ua != "" {
		rt = userAgent{value: ua, base: rt}
	}
	return rt
}

type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}

type bearer struct {
	token string
	base  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(cpy)
}

// throttle is an http.RoundTripper using a token bucket limiter to restrict
// outbound calls.
type throttle struct {
	limiter *rate.Limiter
	rps     int
	burst   int
	next    http.RoundTripper
	logger  zerolog.Logger
}

// NewThrottle returns a round tripper allowing rps requests per second with
// the given burst.
func NewThrottle(rps, burst int, logger zerolog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
	}

	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
		next:    next,
		logger:  logger,
	}, nil
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if !t.limiter.Allow() {
		start := time.Now()
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
		}
		t.logger.Debug().
			Dur("waited", time.Since(start)).
			Int("rate", t.rps).
			Int("burst", t.burst).
			Str("path", r.URL.Path).
			Msg("Request throttled")
	}

	return t.next.RoundTrip(r)
}
