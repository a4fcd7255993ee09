// Package updater runs the full update flow on top of the checker: check,
// download, verify, decrypt, and record the outcome in history.
package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatekit/updatekit/internal/history"
	"github.com/updatekit/updatekit/internal/progress"
	"github.com/updatekit/updatekit/internal/update"
)

var ErrHashMismatch = errors.New("verification failed: checksum mismatch")

// Options configures the service.
type Options struct {
	ProgramID     string
	Channel       string
	SavePath      string
	Naming        string
	EncryptionKey string
}

// Request describes one download run.
type Request struct {
	Version string
	// Output overrides the path chosen by the naming mode.
	Output string
	// Progress, if set, is called for every chunk.
	Progress update.ProgressFunc
	// Tracker, if set, follows the run's state.
	Tracker *progress.Tracker
}

// Result describes a finished download.
type Result struct {
	Version   string `json:"version"`
	Path      string `json:"file"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
	Verified  bool   `json:"verified"`
	Decrypted bool   `json:"decrypted"`
}

// Service serializes update runs. A nil history disables recording.
type Service struct {
	checker *update.Checker
	history *history.Service
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewService creates a new updater service.
func NewService(checker *update.Checker, hist *history.Service, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		checker: checker,
		history: hist,
		opts:    opts,
		logger:  logger.With().Str("component", "updater").Logger(),
		now:     time.Now,
	}
}

// Check asks the server for a newer version and records the outcome.
// It returns (nil, nil) when currentVersion is up to date.
func (s *Service) Check(ctx context.Context, currentVersion string) (*update.UpdateInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.checker.CheckUpdate(ctx, currentVersion)

	in := history.CheckInput{
		ProgramID:      s.opts.ProgramID,
		Channel:        s.opts.Channel,
		CurrentVersion: currentVersion,
		HasUpdate:      info != nil,
		ErrorCode:      string(update.Code(err)),
		Err:            err,
	}
	if info != nil {
		in.LatestVersion = info.Version
	}
	s.recordCheck(ctx, in)

	return info, err
}

// Download fetches req.Version, verifies it against the hash the server
// declares for that version, and decrypts it in place when a key is set.
func (s *Service) Download(ctx context.Context, req Request) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := req.Output
	if path == "" {
		path = update.OutputPath(s.opts.SavePath, s.opts.ProgramID, req.Version, s.opts.Naming, s.now())
	}
	logger := s.logger.With().Str("version", req.Version).Str("path", path).Logger()
	started := s.now()

	run := &run{svc: s, req: req, path: path, started: started}

	meta, err := s.checker.FetchLatest(ctx)
	if err != nil {
		return nil, run.fail(ctx, history.StatusFailed, err)
	}
	expectedHash := meta.FileHash
	if update.CompareVersions(meta.Version, req.Version) != 0 {
		logger.Warn().Str("latest", meta.Version).Msg("Requested version is not the latest; skipping checksum verification")
		expectedHash = ""
	}

	run.setState(progress.StateDownloading)
	observe := func(p update.DownloadProgress) {
		if req.Tracker != nil {
			req.Tracker.Observe(p)
		}
		if req.Progress != nil {
			req.Progress(p)
		}
	}
	if err := s.checker.DownloadUpdate(ctx, req.Version, path, observe); err != nil {
		return nil, run.fail(ctx, history.StatusFailed, err)
	}

	res := &Result{Version: req.Version, Path: path}

	if expectedHash != "" {
		run.setState(progress.StateVerifying)
		ok, err := s.checker.VerifyFile(path, expectedHash)
		if err != nil {
			return nil, run.fail(ctx, history.StatusFailed, err)
		}
		if !ok {
			return nil, run.fail(ctx, history.StatusHashMismatch, ErrHashMismatch)
		}
		res.Verified = true
	}

	if res.SHA256, err = update.HashFile(path); err != nil {
		return nil, run.fail(ctx, history.StatusFailed, err)
	}
	if fi, err := os.Stat(path); err == nil {
		res.Size = fi.Size()
	}

	if s.opts.EncryptionKey != "" {
		run.setState(progress.StateDecrypting)
		res.Decrypted = s.decrypt(path, logger)
	}

	if req.Tracker != nil {
		req.Tracker.Complete(path)
	}
	s.recordDownload(ctx, history.DownloadInput{
		ProgramID:  s.opts.ProgramID,
		Version:    req.Version,
		Path:       path,
		Size:       res.Size,
		SHA256:     res.SHA256,
		Verified:   res.Verified,
		Status:     history.StatusCompleted,
		StartedAt:  started,
		FinishedAt: s.now(),
	})

	logger.Info().Bool("verified", res.Verified).Bool("decrypted", res.Decrypted).Msg("Update ready")
	return res, nil
}

// decrypt reports whether the file was decrypted. A failure leaves the
// downloaded file untouched.
func (s *Service) decrypt(path string, logger zerolog.Logger) bool {
	d, err := update.NewDecryptor(s.opts.EncryptionKey)
	if err != nil {
		logger.Warn().Err(err).Msg("Skipping decryption")
		return false
	}
	if err := d.DecryptFile(path, path); err != nil {
		logger.Warn().Err(err).Msg("Decryption failed")
		return false
	}
	return true
}

// CheckAndDownload checks for an update and, when download is set and one is
// available, downloads it. The result is nil when no update was found.
func (s *Service) CheckAndDownload(ctx context.Context, currentVersion string, download bool) (*update.UpdateInfo, *Result, error) {
	info, err := s.Check(ctx, currentVersion)
	if err != nil || info == nil {
		return info, nil, err
	}
	if !download {
		return info, nil, nil
	}

	res, err := s.Download(ctx, Request{Version: info.Version})
	if err != nil {
		return info, nil, fmt.Errorf("downloading %s: %w", info.Version, err)
	}
	return info, res, nil
}

type run struct {
	svc     *Service
	req     Request
	path    string
	started time.Time
}

func (r *run) setState(state progress.State) {
	if r.req.Tracker != nil {
		r.req.Tracker.SetState(state)
	}
}

func (r *run) fail(ctx context.Context, status history.DownloadStatus, err error) error {
	if r.req.Tracker != nil {
		r.req.Tracker.Fail(err)
	}
	r.svc.recordDownload(ctx, history.DownloadInput{
		ProgramID:  r.svc.opts.ProgramID,
		Version:    r.req.Version,
		Path:       r.path,
		Status:     status,
		Err:        err,
		StartedAt:  r.started,
		FinishedAt: r.svc.now(),
	})
	return err
}

func (s *Service) recordCheck(ctx context.Context, in history.CheckInput) {
	if s.history == nil {
		return
	}
	if _, err := s.history.RecordCheck(context.WithoutCancel(ctx), in); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record check")
	}
}

func (s *Service) recordDownload(ctx context.Context, in history.DownloadInput) {
	if s.history == nil {
		return
	}
	if _, err := s.history.RecordDownload(context.WithoutCancel(ctx), in); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record download")
	}
}
