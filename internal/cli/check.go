package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/updatekit/updatekit/internal/update"
)

// checkResponse is the --json output of check.
type checkResponse struct {
	HasUpdate      bool       `json:"hasUpdate"`
	CurrentVersion string     `json:"currentVersion"`
	LatestVersion  string     `json:"latestVersion,omitempty"`
	FileSize       int64      `json:"fileSize,omitempty"`
	ReleaseNotes   string     `json:"releaseNotes,omitempty"`
	PublishDate    *time.Time `json:"publishDate,omitempty"`
	Mandatory      bool       `json:"mandatory"`
}

func (a *app) newCheckCmd() *cobra.Command {
	var current string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer version is published",
		Args:  cobra.NoArgs,
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

			info, err := svc.Check(cmd.Context(), version)
			if err != nil {
				return err
			}
			return a.printCheck(version, info)
		},
	}

	cmd.Flags().StringVar(&current, "current-version", "", "Installed version (default: program.current_version)")
	return cmd
}

func (a *app) printCheck(current string, info *update.UpdateInfo) error {
	if a.jsonOutput {
		resp := checkResponse{CurrentVersion: current}
		if info != nil {
			resp.HasUpdate = true
			resp.LatestVersion = info.Version
			resp.FileSize = info.FileSize
			resp.ReleaseNotes = info.ReleaseNotes
			resp.Mandatory = info.Mandatory
			if !info.PublishDate.IsZero() {
				published := info.PublishDate.Time
				resp.PublishDate = &published
			}
		}
		return a.printJSON(resp)
	}

	if info == nil {
		fmt.Fprintf(a.stdout, "Already up to date (%s)\n", current)
		return nil
	}

	fmt.Fprintf(a.stdout, "Update available: %s (current %s)\n", info.Version, current)
	if info.FileSize > 0 {
		fmt.Fprintf(a.stdout, "  Size:      %s\n", humanize.Bytes(uint64(info.FileSize)))
	}
	if !info.PublishDate.IsZero() {
		fmt.Fprintf(a.stdout, "  Published: %s (%s)\n", info.PublishDate.Format("2006-01-02"), humanize.Time(info.PublishDate.Time))
	}
	if info.Mandatory {
		fmt.Fprintln(a.stdout, "  Mandatory: yes")
	}
	if info.ReleaseNotes != "" {
		fmt.Fprintf(a.stdout, "\n%s\n", info.ReleaseNotes)
	}
	return nil
}
