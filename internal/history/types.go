package history

import "time"

// Kind distinguishes the two record types in a merged listing.
type Kind string

const (
	KindCheck    Kind = "check"
	KindDownload Kind = "download"
)

// DownloadStatus is the outcome of a download run.
type DownloadStatus string

const (
	StatusCompleted    DownloadStatus = "completed"
	StatusFailed       DownloadStatus = "failed"
	StatusHashMismatch DownloadStatus = "hash_mismatch"
)

// Check records one update check.
type Check struct {
	ID             string    `json:"id"`
	ProgramID      string    `json:"programId"`
	Channel        string    `json:"channel"`
	CurrentVersion string    `json:"currentVersion"`
	LatestVersion  string    `json:"latestVersion,omitempty"`
	HasUpdate      bool      `json:"hasUpdate"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checkedAt"`
}

// Download records one download run, including all of its retries.
type Download struct {
	ID         string         `json:"id"`
	ProgramID  string         `json:"programId"`
	Version    string         `json:"version"`
	Path       string         `json:"path"`
	Size       int64          `json:"size"`
	SHA256     string         `json:"sha256,omitempty"`
	Verified   bool           `json:"verified"`
	Status     DownloadStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// Entry is one row of the merged history, newest first.
type Entry struct {
	Kind     Kind      `json:"kind"`
	Time     time.Time `json:"time"`
	Check    *Check    `json:"check,omitempty"`
	Download *Download `json:"download,omitempty"`
}

// CheckInput contains fields for recording a check.
type CheckInput struct {
	ProgramID      string
	Channel        string
	CurrentVersion string
	LatestVersion  string
	HasUpdate      bool
	ErrorCode      string
	Err            error
}

// DownloadInput contains fields for recording a download.
type DownloadInput struct {
	ProgramID  string
	Version    string
	Path       string
	Size       int64
	SHA256     string
	Verified   bool
	Status     DownloadStatus
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}
