package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the settings the checker needs to talk to the distribution service.
// It is built once by the caller and never mutated by this package.
type Config struct {
	ServerURL  string
	ProgramID  string
	Channel    string
	Timeout    time.Duration
	MaxRetries int
	SavePath   string

	// Token is sent as a bearer token on every request when set.
	Token     string
	UserAgent string
}

// DefaultConfig returns a Config with the stock defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:  "http://localhost:8080",
		Channel:    "stable",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		SavePath:   "./updates",
	}
}

// UpdateInfo describes a published release as reported by the server.
type UpdateInfo struct {
	Version       string      `json:"version"`
	Channel       string      `json:"channel"`
	FileName      string      `json:"fileName"`
	FileSize      int64       `json:"fileSize"`
	FileHash      string      `json:"fileHash"`
	ReleaseNotes  string      `json:"releaseNotes"`
	PublishDate   PublishTime `json:"publishDate"`
	Mandatory     bool        `json:"mandatory"`
	DownloadCount int         `json:"downloadCount"`
}

// DownloadProgress is reported once per chunk written during a download attempt.
type DownloadProgress struct {
	Version    string  `json:"version"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
	Speed      float64 `json:"speed"` // bytes/second
}

// ProgressFunc observes download progress. It runs on the download goroutine
// and must return promptly.
type ProgressFunc func(DownloadProgress)

// PublishTime parses the server's ISO-8601 timestamps, with or without a zone.
type PublishTime struct {
	time.Time
}

var publishLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (p *PublishTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("publish date must be a string: %w", err)
	}
	if s == "" {
		p.Time = time.Time{}
		return nil
	}

	t, err := ParsePublishTime(s)
	if err != nil {
		return err
	}
	p.Time = t
	return nil
}

func (p PublishTime) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(p.UTC().Format(time.RFC3339))
}

// ParsePublishTime parses an ISO-8601 timestamp. Values without a zone are UTC.
func ParsePublishTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range publishLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid publish date: %q", s)
}

// ErrorCode classifies an UpdateError.
type ErrorCode string

const (
	CodeNoVersion    ErrorCode = "NO_VERSION"
	CodeNetworkError ErrorCode = "NETWORK_ERROR"
)

var (
	ErrNoVersion = &UpdateError{Code: CodeNoVersion, Message: "no version found for this program"}
	ErrNetwork   = &UpdateError{Code: CodeNetworkError, Message: "network error"}
)

// UpdateError is returned by CheckUpdate. Code is machine readable, Err carries
// the underlying cause when there is one.
type UpdateError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *UpdateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Is matches any UpdateError with the same code, so errors.Is(err, ErrNoVersion) works.
func (e *UpdateError) Is(target error) bool {
	var t *UpdateError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Code extracts the ErrorCode from err, or "" when err is not an UpdateError.
func Code(err error) ErrorCode {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}
