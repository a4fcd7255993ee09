// Package history persists update checks and downloads in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// Service records and lists history entries.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new history service on a migrated database.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

// RecordCheck stores the outcome of an update check.
func (s *Service) RecordCheck(ctx context.Context, in CheckInput) (*Check, error) {
	c := &Check{
		ID:             uuid.NewString(),
		ProgramID:      in.ProgramID,
		Channel:        in.Channel,
		CurrentVersion: in.CurrentVersion,
		LatestVersion:  in.LatestVersion,
		HasUpdate:      in.HasUpdate,
		ErrorCode:      in.ErrorCode,
		Error:          errString(in.Err),
		CheckedAt:      s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO update_checks
			(id, program_id, channel, current_version, latest_version, has_update, error_code, error, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProgramID, c.Channel, c.CurrentVersion, c.LatestVersion,
		c.HasUpdate, c.ErrorCode, c.Error, c.CheckedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to record check: %w", err)
	}

	s.logger.Debug().Str("id", c.ID).Bool("hasUpdate", c.HasUpdate).Msg("Recorded update check")
	return c, nil
}

// RecordDownload stores the outcome of a download run.
func (s *Service) RecordDownload(ctx context.Context, in DownloadInput) (*Download, error) {
	finished := in.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	started := in.StartedAt
	if started.IsZero() {
		started = finished
	}

	d := &Download{
		ID:         uuid.NewString(),
		ProgramID:  in.ProgramID,
		Version:    in.Version,
		Path:       in.Path,
		Size:       in.Size,
		SHA256:     in.SHA256,
		Verified:   in.Verified,
		Status:     in.Status,
		Error:      errString(in.Err),
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads
			(id, program_id, version, path, size, sha256, verified, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProgramID, d.Version, d.Path, d.Size, d.SHA256, d.Verified,
		string(d.Status), d.Error, d.StartedAt.UnixMilli(), d.FinishedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to record download: %w", err)
	}

	s.logger.Debug().Str("id", d.ID).Str("status", string(d.Status)).Msg("Recorded download")
	return d, nil
}

// ListChecks returns up to limit checks, newest first.
func (s *Service) ListChecks(ctx context.Context, limit int) ([]*Check, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_id, channel, current_version, latest_version, has_update, error_code, error, checked_at
		FROM update_checks
		ORDER BY checked_at DESC, rowid DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer rows.Close()

	var out []*Check
	for rows.Next() {
		var c Check
		var checkedAt int64
		if err := rows.Scan(&c.ID, &c.ProgramID, &c.Channel, &c.CurrentVersion, &c.LatestVersion,
			&c.HasUpdate, &c.ErrorCode, &c.Error, &checkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		c.CheckedAt = time.UnixMilli(checkedAt).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListDownloads returns up to limit downloads, newest first.
func (s *Service) ListDownloads(ctx context.Context, limit int) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_id, version, path, size, sha256, verified, status, error, started_at, finished_at
		FROM downloads
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	var out []*Download
	for rows.Next() {
		var d Download
		var status string
		var started, finished int64
		if err := rows.Scan(&d.ID, &d.ProgramID, &d.Version, &d.Path, &d.Size, &d.SHA256,
			&d.Verified, &status, &d.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		d.Status = DownloadStatus(status)
		d.StartedAt = time.UnixMilli(started).UTC()
		d.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, &d)
	}
	return out, rows.Err()
}

// List merges checks and downloads into one list of at most limit entries,
// newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Entry, error) {
	limit = clampLimit(limit)

	checks, err := s.ListChecks(ctx, limit)
	if err != nil {
		return nil, err
	}
	downloads, err := s.ListDownloads(ctx, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(checks)+len(downloads))
	for _, c := range checks {
		entries = append(entries, Entry{Kind: KindCheck, Time: c.CheckedAt, Check: c})
	}
	for _, d := range downloads {
		entries = append(entries, Entry{Kind: KindDownload, Time: d.StartedAt, Download: d})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.After(entries[j].Time)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CleanupOlderThan deletes records older than cutoff and returns how many
// were removed.
func (s *Service) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ms := cutoff.UnixMilli()

	res, err := s.db.ExecContext(ctx, `DELETE FROM update_checks WHERE checked_at < ?`, ms)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up checks: %w", err)
	}
	checks, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM downloads WHERE started_at < ?`, ms)
	if err != nil {
		return checks, fmt.Errorf("failed to clean up downloads: %w", err)
	}
	downloads, _ := res.RowsAffected()

	if removed := checks + downloads; removed > 0 {
		s.logger.Info().Int64("checks", checks).Int64("downloads", downloads).Msg("Cleaned up old history")
	}
	return checks + downloads, nil
}

// Cleanup deletes records older than retentionDays. Zero or less keeps everything.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	return s.CleanupOlderThan(ctx, s.now().AddDate(0, 0, -retentionDays))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
