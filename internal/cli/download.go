package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/updatekit/updatekit/internal/daemon"
	"github.com/updatekit/updatekit/internal/progress"
	"github.com/updatekit/updatekit/internal/update"
	"github.com/updatekit/updatekit/internal/updater"
	"github.com/updatekit/updatekit/internal/websocket"
)

const (
	parentPollInterval = time.Second
	shutdownTimeout    = 5 * time.Second
)

type downloadOptions struct {
	version string
	output  string
	daemon  bool
	host    string
	port    int
}

// downloadResponse is the --json output of download.
type downloadResponse struct {
	Success bool `json:"success"`
	*updater.Result
}

func (a *app) newDownloadCmd() *cobra.Command {
	opts := downloadOptions{}

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a version and verify its checksum",
		Long: `Download fetches a version from the server (the latest one when --version is
omitted), verifies its SHA-256 checksum against the server's metadata, and
decrypts it when auth.encryption_key is set.

With --daemon, a status server runs on --port for the whole download and the
command keeps running until POST /shutdown is received or the parent process
exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			if opts.daemon {
				return a.runDaemon(cmd.Context(), opts)
			}
			return a.runDownload(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.version, "version", "", "Version to download (default: latest)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file (default: download.save_path and download.naming)")
	cmd.Flags().BoolVar(&opts.daemon, "daemon", false, "Serve /status, /shutdown and /ws while downloading")
	cmd.Flags().StringVar(&opts.host, "host", daemon.DefaultHost, "Daemon listen address")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Daemon listen port (0 picks a free port)")
	return cmd
}

// resolveVersion returns the requested version, or the latest one.
func resolveVersion(ctx context.Context, checker *update.Checker, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	info, err := checker.FetchLatest(ctx)
	if err != nil {
		return "", err
	}
	return info.Version, nil
}

func (a *app) runDownload(ctx context.Context, opts downloadOptions) error {
	svc, checker, err := a.newUpdater(ctx)
	if err != nil {
		return err
	}
	version, err := resolveVersion(ctx, checker, opts.version)
	if err != nil {
		return err
	}

	req := updater.Request{Version: version, Output: opts.output}
	var bar *progressBar
	if !a.jsonOutput {
		bar = newProgressBar(a.stderr)
		req.Progress = bar.update
	}

	res, err := svc.Download(ctx, req)
	if bar != nil {
		bar.finish()
	}
	if err != nil {
		return err
	}
	return a.printDownload(res)
}

func (a *app) printDownload(res *updater.Result) error {
	if a.jsonOutput {
		return a.printJSON(downloadResponse{Success: true, Result: res})
	}

	fmt.Fprintf(a.stdout, "Downloaded %s to %s (%s)\n", res.Version, res.Path, humanize.Bytes(uint64(res.Size)))
	fmt.Fprintf(a.stdout, "  SHA-256:   %s\n", res.SHA256)
	if res.Verified {
		fmt.Fprintln(a.stdout, "  Checksum:  verified")
	} else {
		fmt.Fprintln(a.stdout, "  Checksum:  not verified (no checksum published for this version)")
	}
	if res.Decrypted {
		fmt.Fprintln(a.stdout, "  Decrypted: yes")
	}
	return nil
}

// runDaemon downloads while serving the status endpoints, then waits for a
// shutdown request. A shutdown requested mid-download cancels the download.
func (a *app) runDaemon(ctx context.Context, opts downloadOptions) error {
	svc, checker, err := a.newUpdater(ctx)
	if err != nil {
		return err
	}
	hist, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	version, err := resolveVersion(ctx, checker, opts.version)
	if err != nil {
		return err
	}

	var tracker *progress.Tracker
	hub := websocket.NewHub(func() any { return tracker.Snapshot() }, a.log.Logger)
	tracker = progress.NewTracker(version, hub, a.log.Logger)
	a.logs.Attach(hub)

	srv := daemon.New(daemon.Options{
		Host:    opts.host,
		Port:    opts.port,
		Tracker: tracker,
		Hub:     hub,
		History: hist,
		Logs:    a.logs,
		Logger:  a.log.Logger,
	})
	addr, err := srv.Listen()
	if err != nil {
		return err
	}
	a.log.Info().Str("address", addr.String()).Str("version", version).Msg("Daemon listening")
	fmt.Fprintf(a.stderr, "Status server listening on http://%s\n", addr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		srv.WatchParent(gctx, parentPollInterval, daemon.ParentAlive())
		return nil
	})

	dlCtx, stopDownload := context.WithCancel(gctx)
	defer stopDownload()
	go func() {
		select {
		case <-srv.Done():
			stopDownload()
		case <-dlCtx.Done():
		}
	}()

	res, dlErr := svc.Download(dlCtx, updater.Request{Version: version, Output: opts.output, Tracker: tracker})
	if dlErr == nil {
		if err := a.printDownload(res); err != nil {
			a.log.Warn().Err(err).Msg("Failed to print result")
		}
	}

	// Keep serving /status until the controller asks us to stop.
	select {
	case <-srv.Done():
	case <-gctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("Daemon shutdown failed")
	}
	cancel()

	if err := g.Wait(); err != nil {
		return err
	}
	return dlErr
}
