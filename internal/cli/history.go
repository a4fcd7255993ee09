package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/updatekit/updatekit/internal/history"
)

func (a *app) newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded update checks and downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			hist, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}

			entries, err := hist.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return a.printJSON(map[string]any{"items": entries})
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "No history recorded")
				return nil
			}

			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tVERSION\tRESULT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Time.Local().Format("2006-01-02 15:04:05"), e.Kind, entryVersion(e), entryResult(e))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	return cmd
}

func entryVersion(e history.Entry) string {
	switch {
	case e.Check != nil && e.Check.LatestVersion != "":
		return e.Check.CurrentVersion + " -> " + e.Check.LatestVersion
	case e.Check != nil:
		return e.Check.CurrentVersion
	case e.Download != nil:
		return e.Download.Version
	}
	return ""
}

func entryResult(e history.Entry) string {
	switch {
	case e.Check != nil && e.Check.Error != "":
		return "error: " + e.Check.Error
	case e.Check != nil && e.Check.HasUpdate:
		return "update available"
	case e.Check != nil:
		return "up to date"
	case e.Download != nil && e.Download.Status == history.StatusCompleted:
		return fmt.Sprintf("%s, %s", e.Download.Status, humanize.Bytes(uint64(e.Download.Size)))
	case e.Download != nil && e.Download.Error != "":
		return fmt.Sprintf("%s: %s", e.Download.Status, e.Download.Error)
	case e.Download != nil:
		return string(e.Download.Status)
	}
	return ""
}
