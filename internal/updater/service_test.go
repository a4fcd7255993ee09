package updater

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updatekit/updatekit/internal/history"
	"github.com/updatekit/updatekit/internal/progress"
	"github.com/updatekit/updatekit/internal/testutil"
	"github.com/updatekit/updatekit/internal/update"
)

type fakeServer struct {
	latest string
	hash   string
	body   []byte
}

func (f *fakeServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/programs/docufiller/versions/latest", func(w http.ResponseWriter, r *http.Request) {
		if f.latest == "" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"version":  f.latest,
			"channel":  "stable",
			"fileSize": len(f.body),
			"fileHash": f.hash,
		})
	})
	mux.HandleFunc("/api/download/docufiller/stable/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(f.body)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newService(t *testing.T, serverURL string, opts Options) (*Service, *history.Service) {
	t.Helper()
	cfg := update.DefaultConfig()
	cfg.ServerURL = serverURL
	cfg.ProgramID = "docufiller"
	cfg.MaxRetries = 0

	tdb := testutil.NewTestDB(t)
	hist := history.NewService(tdb.Conn, tdb.Logger)

	opts.ProgramID = "docufiller"
	opts.Channel = "stable"
	if opts.SavePath == "" {
		opts.SavePath = t.TempDir()
	}
	return NewService(update.NewChecker(cfg), hist, opts, tdb.Logger), hist
}

func TestCheck_RecordsHistory(t *testing.T) {
	fake := &fakeServer{latest: "1.3.0"}
	svc, hist := newService(t, fake.start(t).URL, Options{})
	ctx := context.Background()

	info, err := svc.Check(ctx, "1.2.0")
	require.NoError(t, err)
	require.NotNil(t, info)

	info, err = svc.Check(ctx, "1.3.0")
	require.NoError(t, err)
	assert.Nil(t, info)

	fake.latest = ""
	_, err = svc.Check(ctx, "1.3.0")
	assert.ErrorIs(t, err, update.ErrNoVersion)

	checks, err := hist.ListChecks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, checks, 3)
	assert.Equal(t, "NO_VERSION", checks[0].ErrorCode)
	assert.False(t, checks[1].HasUpdate)
	assert.True(t, checks[2].HasUpdate)
	assert.Equal(t, "1.3.0", checks[2].LatestVersion)
}

func TestDownload_VerifiesAndRecords(t *testing.T) {
	body := bytes.Repeat([]byte("release"), 1000)
	fake := &fakeServer{latest: "1.3.0", hash: hashOf(body), body: body}
	svc, hist := newService(t, fake.start(t).URL, Options{Naming: update.NamingVersion})
	tracker := progress.NewTracker("1.3.0", nil, zerolog.Nop())

	var chunks int
	res, err := svc.Download(context.Background(), Request{
		Version:  "1.3.0",
		Tracker:  tracker,
		Progress: func(update.DownloadProgress) { chunks++ },
	})
	require.NoError(t, err)

	assert.Equal(t, "docufiller-v1.3.0.zip", filepath.Base(res.Path))
	assert.True(t, res.Verified)
	assert.False(t, res.Decrypted)
	assert.Equal(t, int64(len(body)), res.Size)
	assert.Equal(t, hashOf(body), res.SHA256)
	assert.Positive(t, chunks)

	status := tracker.Snapshot()
	assert.Equal(t, progress.StateCompleted, status.State)
	assert.Equal(t, res.Path, status.File)

	downloads, err := hist.ListDownloads(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, history.StatusCompleted, downloads[0].Status)
	assert.True(t, downloads[0].Verified)
}

func TestDownload_HashMismatch(t *testing.T) {
	fake := &fakeServer{latest: "1.3.0", hash: hashOf([]byte("other")), body: []byte("release")}
	svc, hist := newService(t, fake.start(t).URL, Options{})
	tracker := progress.NewTracker("1.3.0", nil, zerolog.Nop())

	out := filepath.Join(t.TempDir(), "app.zip")
	_, err := svc.Download(context.Background(), Request{Version: "1.3.0", Output: out, Tracker: tracker})
	require.ErrorIs(t, err, ErrHashMismatch)

	assert.Equal(t, progress.StateError, tracker.Snapshot().State)

	downloads, err := hist.ListDownloads(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, history.StatusHashMismatch, downloads[0].Status)
	assert.Equal(t, out, downloads[0].Path)
}

func TestDownload_OlderVersionSkipsVerification(t *testing.T) {
	fake := &fakeServer{latest: "1.3.0", hash: hashOf([]byte("latest")), body: []byte("older")}
	svc, _ := newService(t, fake.start(t).URL, Options{})

	res, err := svc.Download(context.Background(), Request{Version: "1.2.0"})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, "docufiller.zip", filepath.Base(res.Path))
}

func TestDownload_DownloadFailure(t *testing.T) {
	fake := &fakeServer{latest: "1.3.0"}
	server := fake.start(t)
	svc, hist := newService(t, server.URL, Options{})
	server.Close()

	_, err := svc.Download(context.Background(), Request{Version: "1.3.0"})
	require.Error(t, err)

	downloads, err := hist.ListDownloads(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, history.StatusFailed, downloads[0].Status)
	assert.NotEmpty(t, downloads[0].Error)
}

func TestDownload_Decrypts(t *testing.T) {
	key := bytes.Repeat([]byte{9}, 32)
	iv := bytes.Repeat([]byte{3}, aes.BlockSize)
	plain := []byte("the actual release archive")

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	sealed := make([]byte, len(plain))
	cipher.NewCTR(block, iv).XORKeyStream(sealed, plain)
	body := append(append([]byte{}, iv...), sealed...)

	fake := &fakeServer{latest: "1.3.0", hash: hashOf(body), body: body}
	svc, _ := newService(t, fake.start(t).URL, Options{EncryptionKey: base64.StdEncoding.EncodeToString(key)})

	res, err := svc.Download(context.Background(), Request{Version: "1.3.0"})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.True(t, res.Decrypted)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestCheckAndDownload(t *testing.T) {
	body := []byte("payload")
	fake := &fakeServer{latest: "2.0.0", hash: hashOf(body), body: body}
	svc, _ := newService(t, fake.start(t).URL, Options{Naming: update.NamingDate})
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	info, res, err := svc.CheckAndDownload(ctx, "1.0.0", false)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", info.Version)
	assert.Nil(t, res)

	info, res, err = svc.CheckAndDownload(ctx, "1.0.0", true)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "docufiller-2024-06-01.zip", filepath.Base(res.Path))
	assert.True(t, res.Verified)

	info, res, err = svc.CheckAndDownload(ctx, "2.0.0", true)
	require.NoError(t, err)
	assert.Nil(t, info)
	assert.Nil(t, res)
}
