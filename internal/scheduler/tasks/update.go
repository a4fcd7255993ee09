// Package tasks registers the periodic jobs run by the watch command.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatekit/updatekit/internal/retry"
	"github.com/updatekit/updatekit/internal/scheduler"
	"github.com/updatekit/updatekit/internal/update"
	"github.com/updatekit/updatekit/internal/updater"
)

const UpdateCheckTaskID = "update-check"

// Checker is the part of the updater the check task needs.
type Checker interface {
	Check(ctx context.Context, currentVersion string) (*update.UpdateInfo, error)
	Download(ctx context.Context, req updater.Request) (*updater.Result, error)
}

// UpdateCheckConfig configures the update check task.
type UpdateCheckConfig struct {
	Cron           string
	CurrentVersion string
	AutoDownload   bool

	// Network failures are retried with exponential backoff.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Sleep        retry.SleepFunc
}

// DefaultUpdateCheckConfig returns the retry defaults for the check task.
func DefaultUpdateCheckConfig() UpdateCheckConfig {
	return UpdateCheckConfig{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     time.Minute,
	}
}

// UpdateCheckTask checks for a newer version and optionally downloads it.
type UpdateCheckTask struct {
	checker Checker
	cfg     UpdateCheckConfig
	logger  zerolog.Logger

	// Runs never overlap, the scheduler skips a tick while one is active.
	lastDownloaded string

	// Found is called with each newer version found. It is not called again
	// for a version that was already downloaded. May be nil.
	Found func(*update.UpdateInfo, *updater.Result)
}

func NewUpdateCheckTask(checker Checker, cfg UpdateCheckConfig, logger zerolog.Logger) *UpdateCheckTask {
	return &UpdateCheckTask{
		checker: checker,
		cfg:     cfg,
		logger:  logger.With().Str("task", UpdateCheckTaskID).Logger(),
	}
}

func (t *UpdateCheckTask) Run(ctx context.Context) error {
	t.logger.Info().Str("current", t.cfg.CurrentVersion).Msg("Starting scheduled update check")

	var (
		info    *update.UpdateInfo
		res     *updater.Result
		already bool
	)
	retryCfg := retry.Config{
		MaxAttempts: t.cfg.MaxAttempts,
		Backoff:     retry.Exponential(t.cfg.InitialDelay, t.cfg.MaxDelay, 2),
		Sleep:       t.cfg.Sleep,
		Retryable: func(err error) bool {
			return errors.Is(err, update.ErrNetwork)
		},
	}
	err := retry.Do(ctx, "update check", retryCfg, func(ctx context.Context, _ int) error {
		var err error
		info, err = t.checker.Check(ctx, t.cfg.CurrentVersion)
		if err != nil || info == nil || !t.cfg.AutoDownload {
			return err
		}

		already = t.lastDownloaded != "" && update.CompareVersions(info.Version, t.lastDownloaded) == 0
		if already {
			return nil
		}

		res, err = t.checker.Download(ctx, updater.Request{Version: info.Version})
		if err != nil {
			return fmt.Errorf("downloading %s: %w", info.Version, err)
		}
		return nil
	}, t.logger)

	switch {
	case errors.Is(err, update.ErrNoVersion):
		t.logger.Info().Msg("No version published yet")
		return nil
	case err != nil:
		return err
	case info == nil:
		t.logger.Info().Msg("Already up to date")
		return nil
	case already:
		t.logger.Info().Str("latest", info.Version).Msg("Latest version already downloaded")
		return nil
	}

	event := t.logger.Info().Str("latest", info.Version).Bool("mandatory", info.Mandatory)
	if res != nil {
		t.lastDownloaded = info.Version
		event = event.Str("file", res.Path).Bool("verified", res.Verified)
	}
	event.Msg("Update available")

	if t.Found != nil {
		t.Found(info, res)
	}
	return nil
}

// RegisterUpdateCheckTask registers the update check with the scheduler.
// It also runs once at startup.
func RegisterUpdateCheckTask(sched *scheduler.Scheduler, task *UpdateCheckTask) error {
	return sched.RegisterTask(&scheduler.TaskConfig{
		ID:          UpdateCheckTaskID,
		Name:        "Update Check",
		Description: "Checks the distribution server for a newer version and optionally downloads it",
		Cron:        task.cfg.Cron,
		RunOnStart:  true,
		Func:        task.Run,
	})
}
