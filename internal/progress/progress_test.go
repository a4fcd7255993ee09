package progress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updatekit/updatekit/internal/update"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Broadcast(msgType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msgType)
}

func (r *recorder) count(msgType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == msgType {
			n++
		}
	}
	return n
}

func TestTracker_Lifecycle(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker("1.2.0", rec, zerolog.Nop())

	s := tr.Snapshot()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, "1.2.0", s.Version)
	assert.Nil(t, s.Progress)

	tr.Observe(update.DownloadProgress{Version: "1.2.0", Downloaded: 50, Total: 100, Percentage: 50, Speed: 1000.7})
	s = tr.Snapshot()
	assert.Equal(t, StateDownloading, s.State)
	require.NotNil(t, s.Progress)
	assert.Equal(t, int64(50), s.Progress.Downloaded)
	assert.Equal(t, int64(1000), s.Progress.Speed)

	tr.SetState(StateVerifying)
	assert.Equal(t, StateVerifying, tr.Snapshot().State)

	tr.Complete("updates/app.zip")
	s = tr.Snapshot()
	assert.Equal(t, StateCompleted, s.State)
	assert.Equal(t, "updates/app.zip", s.File)
	assert.Empty(t, s.Error)

	assert.Equal(t, 1, rec.count(EventProgress))
	assert.Equal(t, 2, rec.count(EventState))
}

func TestTracker_Fail(t *testing.T) {
	tr := NewTracker("1.2.0", nil, zerolog.Nop())

	tr.Fail(nil)
	assert.Equal(t, StateIdle, tr.Snapshot().State)

	tr.Fail(errors.New("download read error"))
	s := tr.Snapshot()
	assert.Equal(t, StateError, s.State)
	assert.Equal(t, "download read error", s.Error)

	tr.SetState(StateDownloading)
	assert.Empty(t, tr.Snapshot().Error)
}

func TestTracker_ThrottlesProgress(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker("1.2.0", rec, zerolog.Nop())

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Observe(update.DownloadProgress{Downloaded: 10, Total: 100})
	tr.Observe(update.DownloadProgress{Downloaded: 20, Total: 100})
	tr.Observe(update.DownloadProgress{Downloaded: 30, Total: 100})
	assert.Equal(t, 1, rec.count(EventProgress), "only the first report inside the interval")

	now = now.Add(DefaultInterval)
	tr.Observe(update.DownloadProgress{Downloaded: 40, Total: 100})
	assert.Equal(t, 2, rec.count(EventProgress))

	tr.Observe(update.DownloadProgress{Downloaded: 100, Total: 100})
	assert.Equal(t, 3, rec.count(EventProgress), "final report always published")

	assert.Equal(t, int64(100), tr.Snapshot().Progress.Downloaded)
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr := NewTracker("1.2.0", nil, zerolog.Nop())
	tr.Observe(update.DownloadProgress{Downloaded: 1, Total: 2})

	s := tr.Snapshot()
	s.Progress.Downloaded = 999
	assert.Equal(t, int64(1), tr.Snapshot().Progress.Downloaded)
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker("1.2.0", &recorder{}, zerolog.Nop())
	tr.SetInterval(0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 1000; i++ {
			tr.Observe(update.DownloadProgress{Downloaded: i, Total: 1000})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = tr.Snapshot()
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(1000), tr.Snapshot().Progress.Downloaded)
}
