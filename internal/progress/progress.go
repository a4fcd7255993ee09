// Package progress tracks the state of a single download run and publishes
// every change to connected clients.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatekit/updatekit/internal/update"
)

// State is the phase of the download run.
type State string

const (
	StateIdle        State = "idle"
	StateDownloading State = "downloading"
	StateVerifying   State = "verifying"
	StateDecrypting  State = "decrypting"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// Event types published by the tracker.
const (
	EventProgress = "download:progress"
	EventState    = "download:state"
)

// DefaultInterval limits how often progress events are published.
const DefaultInterval = 250 * time.Millisecond

// Publisher receives tracker events.
type Publisher interface {
	Broadcast(msgType string, payload any)
}

// Info is the byte-level progress of the current attempt.
type Info struct {
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
	Speed      int64   `json:"speed"` // bytes/second
}

// Status is the JSON body served at /status.
type Status struct {
	State    State  `json:"state"`
	Version  string `json:"version"`
	File     string `json:"file,omitempty"`
	Progress *Info  `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Tracker is safe for concurrent use: the download goroutine writes while
// HTTP handlers read.
type Tracker struct {
	mu          sync.RWMutex
	status      Status
	publisher   Publisher
	interval    time.Duration
	lastPublish time.Time
	now         func() time.Time
	logger      zerolog.Logger
}

// NewTracker creates an idle tracker for version. publisher may be nil.
func NewTracker(version string, publisher Publisher, logger zerolog.Logger) *Tracker {
	return &Tracker{
		status:    Status{State: StateIdle, Version: version},
		publisher: publisher,
		interval:  DefaultInterval,
		now:       time.Now,
		logger:    logger.With().Str("component", "progress").Logger(),
	}
}

// SetInterval changes the minimum gap between progress events.
func (t *Tracker) SetInterval(d time.Duration) {
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.copyLocked()
}

func (t *Tracker) copyLocked() Status {
	s := t.status
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	return s
}

// SetState moves the tracker to state and clears any previous error.
func (t *Tracker) SetState(state State) {
	t.mu.Lock()
	t.status.State = state
	t.status.Error = ""
	snap := t.copyLocked()
	t.mu.Unlock()

	t.logger.Debug().Str("state", string(state)).Msg("Download state changed")
	t.publish(EventState, snap)
}

// Observe records a progress report. It is an update.ProgressFunc.
// Events are rate limited, except that the first report and the report that
// reaches the declared total are always published.
func (t *Tracker) Observe(p update.DownloadProgress) {
	t.mu.Lock()
	if t.status.State != StateDownloading {
		t.status.State = StateDownloading
	}
	t.status.Progress = &Info{
		Downloaded: p.Downloaded,
		Total:      p.Total,
		Percentage: p.Percentage,
		Speed:      int64(p.Speed),
	}

	now := t.now()
	due := t.lastPublish.IsZero() ||
		now.Sub(t.lastPublish) >= t.interval ||
		(p.Total > 0 && p.Downloaded >= p.Total)
	if due {
		t.lastPublish = now
	}
	info := *t.status.Progress
	t.mu.Unlock()

	if due {
		t.publish(EventProgress, info)
	}
}

// Complete marks the run finished and records where the file was saved.
func (t *Tracker) Complete(file string) {
	t.mu.Lock()
	t.status.State = StateCompleted
	t.status.File = file
	t.status.Error = ""
	snap := t.copyLocked()
	t.mu.Unlock()

	t.publish(EventState, snap)
}

// Fail marks the run failed. A nil err is ignored.
func (t *Tracker) Fail(err error) {
	if err == nil {
		return
	}

	t.mu.Lock()
	t.status.State = StateError
	t.status.Error = err.Error()
	snap := t.copyLocked()
	t.mu.Unlock()

	t.logger.Debug().Err(err).Msg("Download failed")
	t.publish(EventState, snap)
}

func (t *Tracker) publish(msgType string, payload any) {
	if t.publisher != nil {
		t.publisher.Broadcast(msgType, payload)
	}
}
