package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updatekit/updatekit/internal/testutil"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestService(t *testing.T) (*Service, *stepClock) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	svc := NewService(tdb.Conn, tdb.Logger)
	clock := &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.now
	return svc, clock
}

func TestRecordCheck(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.RecordCheck(ctx, CheckInput{
		ProgramID:      "docufiller",
		Channel:        "stable",
		CurrentVersion: "1.0.0",
		LatestVersion:  "1.1.0",
		HasUpdate:      true,
	})
	require.NoError(t, err)
	assert.Len(t, c.ID, 36)

	failed, err := svc.RecordCheck(ctx, CheckInput{
		ProgramID:      "docufiller",
		Channel:        "stable",
		CurrentVersion: "1.0.0",
		ErrorCode:      "NETWORK_ERROR",
		Err:            errors.New("connection refused"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, failed.ID)

	checks, err := svc.ListChecks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, checks, 2)

	assert.Equal(t, failed.ID, checks[0].ID, "newest first")
	assert.Equal(t, "NETWORK_ERROR", checks[0].ErrorCode)
	assert.Equal(t, "connection refused", checks[0].Error)
	assert.False(t, checks[0].HasUpdate)

	assert.Equal(t, c.ID, checks[1].ID)
	assert.True(t, checks[1].HasUpdate)
	assert.Equal(t, "1.1.0", checks[1].LatestVersion)
	assert.True(t, checks[1].CheckedAt.Equal(c.CheckedAt))
}

func TestRecordDownload(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	d, err := svc.RecordDownload(ctx, DownloadInput{
		ProgramID:  "docufiller",
		Version:    "1.1.0",
		Path:       "updates/docufiller.zip",
		Size:       2048,
		SHA256:     "abc",
		Verified:   true,
		Status:     StatusCompleted,
		StartedAt:  started,
		FinishedAt: started.Add(5 * time.Second),
	})
	require.NoError(t, err)

	downloads, err := svc.ListDownloads(ctx, 0)
	require.NoError(t, err)
	require.Len(t, downloads, 1)

	got := downloads[0]
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, int64(2048), got.Size)
	assert.True(t, got.Verified)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.FinishedAt.Equal(started.Add(5*time.Second)))
}

func TestList_MergedNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordCheck(ctx, CheckInput{ProgramID: "p", Channel: "stable", CurrentVersion: "1.0"})
	require.NoError(t, err)
	_, err = svc.RecordDownload(ctx, DownloadInput{ProgramID: "p", Version: "1.1", Path: "x", Status: StatusFailed})
	require.NoError(t, err)
	_, err = svc.RecordCheck(ctx, CheckInput{ProgramID: "p", Channel: "stable", CurrentVersion: "1.1"})
	require.NoError(t, err)

	entries, err := svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, KindCheck, entries[0].Kind)
	assert.Equal(t, "1.1", entries[0].Check.CurrentVersion)
	assert.Equal(t, KindDownload, entries[1].Kind)
	assert.Equal(t, KindCheck, entries[2].Kind)

	limited, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCleanup(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordCheck(ctx, CheckInput{ProgramID: "p", Channel: "stable", CurrentVersion: "1.0"})
	require.NoError(t, err)
	_, err = svc.RecordDownload(ctx, DownloadInput{ProgramID: "p", Version: "1.1", Path: "x", Status: StatusCompleted})
	require.NoError(t, err)

	removed, err := svc.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	clock.t = clock.t.AddDate(0, 0, 31)
	_, err = svc.RecordCheck(ctx, CheckInput{ProgramID: "p", Channel: "stable", CurrentVersion: "1.1"})
	require.NoError(t, err)

	removed, err = svc.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	entries, err := svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.1", entries[0].Check.CurrentVersion)
}

func TestHandlers_List(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.RecordCheck(ctx, CheckInput{ProgramID: "p", Channel: "stable", CurrentVersion: "1.0"})
		require.NoError(t, err)
	}

	e := echo.New()
	NewHandlers(svc).RegisterRoutes(e.Group("/history"))

	req := httptest.NewRequest(http.MethodGet, "/history?limit=2", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []Entry `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Items, 2)
}
