package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/updatekit/updatekit/internal/scheduler"
	"github.com/updatekit/updatekit/internal/scheduler/tasks"
	"github.com/updatekit/updatekit/internal/update"
	"github.com/updatekit/updatekit/internal/updater"
)

func (a *app) newWatchCmd() *cobra.Command {
	var (
		current string
		once    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Periodically check for updates on watch.cron",
		Long: `Watch checks for updates on the watch.cron schedule and once at startup. With
watch.auto_download set, each new version is downloaded and verified. Old
history records are removed daily after history.retention_days.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			version, err := a.currentVersion(current)
			if err != nil {
				return err
			}
			svc, _, err := a.newUpdater(cmd.Context())
			if err != nil {
				return err
			}
			hist, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}

			checkCfg := tasks.DefaultUpdateCheckConfig()
			checkCfg.Cron = a.cfg.Watch.Cron
			checkCfg.CurrentVersion = version
			checkCfg.AutoDownload = a.cfg.Watch.AutoDownload

			task := tasks.NewUpdateCheckTask(svc, checkCfg, a.log.Logger)
			task.Found = func(info *update.UpdateInfo, res *updater.Result) {
				a.reportFound(version, info, res)
			}

			if once {
				return task.Run(cmd.Context())
			}

			sched, err := scheduler.New(a.log.Logger)
			if err != nil {
				return err
			}
			if err := tasks.RegisterUpdateCheckTask(sched, task); err != nil {
				return err
			}
			if a.cfg.History.RetentionDays > 0 {
				if err := tasks.RegisterHistoryCleanupTask(sched, hist, a.cfg.History.RetentionDays); err != nil {
					return err
				}
			}

			if err := sched.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			return sched.Stop()
		},
	}

	cmd.Flags().StringVar(&current, "current-version", "", "Installed version (default: program.current_version)")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single check and exit")
	return cmd
}

func (a *app) reportFound(current string, info *update.UpdateInfo, res *updater.Result) {
	if a.jsonOutput {
		out := struct {
			checkResponse
			Download *updater.Result `json:"download,omitempty"`
		}{
			checkResponse: checkResponse{
				HasUpdate:      true,
				CurrentVersion: current,
				LatestVersion:  info.Version,
				FileSize:       info.FileSize,
				ReleaseNotes:   info.ReleaseNotes,
				Mandatory:      info.Mandatory,
			},
			Download: res,
		}
		if err := a.printJSON(out); err != nil {
			a.log.Warn().Err(err).Msg("Failed to print result")
		}
		return
	}

	fmt.Fprintf(a.stdout, "Update available: %s (current %s)\n", info.Version, current)
	if res != nil {
		fmt.Fprintf(a.stdout, "  Saved to %s (verified: %t)\n", res.Path, res.Verified)
	}
}
