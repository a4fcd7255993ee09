// Package update checks a distribution service for newer releases of a
// program, downloads them with retries, and verifies their SHA-256 digest.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatekit/updatekit/internal/retry"
	"github.com/updatekit/updatekit/internal/transport"
)

const (
	// DefaultBackoffUnit is multiplied by the attempt index between download retries.
	DefaultBackoffUnit = 2 * time.Second

	maxErrBodySize = 4 * 1024
)

// StatusError is returned when the server answers with an unexpected status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

// Checker queries the distribution service for new releases and downloads them.
// A Checker is not safe for concurrent use; callers serialize their calls.
type Checker struct {
	config      *Config
	httpClient  *http.Client
	logger      zerolog.Logger
	backoffUnit time.Duration
	sleep       retry.SleepFunc
	now         func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		c.httpClient = client
	}
}

// WithLogger sets the logger used for attempt and progress diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger.With().Str("component", "update").Logger()
	}
}

// WithBackoffUnit overrides the linear backoff unit between download attempts.
func WithBackoffUnit(unit time.Duration) Option {
	return func(c *Checker) {
		c.backoffUnit = unit
	}
}

// WithSleep overrides how the checker waits between download attempts.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(c *Checker) {
		c.sleep = sleep
	}
}

// WithClock overrides the clock used for download speed.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// NewChecker creates a checker for cfg. The config is borrowed, not copied,
// and must not be changed while the checker is in use.
func NewChecker(cfg *Config, opts ...Option) *Checker {
	c := &Checker{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport.WithHeaders(nil, cfg.UserAgent, cfg.Token),
		},
		logger:      zerolog.Nop(),
		backoffUnit: DefaultBackoffUnit,
		sleep:       retry.Sleep,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckUpdate fetches the latest release on the configured channel and returns
// it only if it is strictly newer than currentVersion. When it is not, CheckUpdate
// returns (nil, nil).
//
// A missing release yields an UpdateError with CodeNoVersion; any other
// failure yields CodeNetworkError.
func (c *Checker) CheckUpdate(ctx context.Context, currentVersion string) (*UpdateInfo, error) {
	info, err := c.FetchLatest(ctx)
	if err != nil {
		return nil, err
	}

	if !IsNewer(info.Version, currentVersion) {
		c.logger.Debug().
			Str("latest", info.Version).
			Str("current", currentVersion).
			Msg("Already up to date")
		return nil, nil
	}

	c.logger.Info().
		Str("latest", info.Version).
		Str("current", currentVersion).
		Bool("mandatory", info.Mandatory).
		Msg("Update available")
	return info, nil
}

// FetchLatest returns the latest release metadata without comparing versions.
func (c *Checker) FetchLatest(ctx context.Context) (*UpdateInfo, error) {
	endpoint := c.latestURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, &UpdateError{Code: CodeNetworkError, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpdateError{Code: CodeNetworkError, Message: "failed to connect to server", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &UpdateError{Code: CodeNoVersion, Message: "no version found for this program"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpdateError{Code: CodeNetworkError, Message: "unexpected response", Err: statusError(resp)}
	}

	var info UpdateInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &UpdateError{Code: CodeNetworkError, Message: "failed to parse response", Err: err}
	}

	return &info, nil
}

// VerifyFile checks the file's SHA-256 digest against expectedHash.
func (c *Checker) VerifyFile(path, expectedHash string) (bool, error) {
	ok, err := VerifyFile(path, expectedHash)
	if err != nil {
		return false, err
	}
	if !ok {
		c.logger.Warn().Str("path", path).Str("expected", expectedHash).Msg("Checksum mismatch")
	}
	return ok, nil
}

func (c *Checker) latestURL() string {
	query := url.Values{}
	query.Set("channel", c.config.Channel)

	return fmt.Sprintf("%s/api/programs/%s/versions/latest?%s",
		c.baseURL(), url.PathEscape(c.config.ProgramID), query.Encode())
}

func (c *Checker) downloadURL(version string) string {
	return fmt.Sprintf("%s/api/download/%s/%s/%s",
		c.baseURL(),
		url.PathEscape(c.config.ProgramID),
		url.PathEscape(c.config.Channel),
		url.PathEscape(version))
}

func (c *Checker) baseURL() string {
	return strings.TrimRight(c.config.ServerURL, "/")
}

func statusError(resp *http.Response) *StatusError {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
	if err != nil {
		b = nil
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
