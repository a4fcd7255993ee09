// Package cli implements the updatekit command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/updatekit/updatekit/internal/config"
	"github.com/updatekit/updatekit/internal/database"
	"github.com/updatekit/updatekit/internal/history"
	"github.com/updatekit/updatekit/internal/logger"
	"github.com/updatekit/updatekit/internal/transport"
	"github.com/updatekit/updatekit/internal/update"
	"github.com/updatekit/updatekit/internal/updater"
)

// app holds the global flags and everything built from them. Commands that
// need configuration call load; the rest run without a config file.
type app struct {
	configPath string
	jsonOutput bool
	logLevel   string

	stdout io.Writer
	stderr io.Writer

	cfg  *config.Config
	log  *logger.Logger
	logs *logger.Stream
	db   *database.DB
}

// errorResponse is printed on stdout when a command fails in --json mode.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// reportedError marks a failure whose JSON result was already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var reported *reportedError
	switch {
	case a.jsonOutput && errors.As(err, &reported):
	case a.jsonOutput:
		_ = a.printJSON(errorResponse{Error: err.Error(), Code: string(update.Code(err))})
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

func (a *app) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "updatekit",
		Short: "Check for, download, and verify program updates",
		Long: `updatekit talks to an update distribution server: it checks whether a newer
version of a program is published, downloads it with retries, and verifies
its SHA-256 checksum.`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to config file (default: "+config.FileName+")")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Print machine-readable JSON on stdout")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging.level (trace, debug, info, warn, error, off)")

	rootCmd.AddCommand(a.newCheckCmd())
	rootCmd.AddCommand(a.newDownloadCmd())
	rootCmd.AddCommand(a.newVerifyCmd())
	rootCmd.AddCommand(a.newWatchCmd())
	rootCmd.AddCommand(a.newHistoryCmd())
	rootCmd.AddCommand(a.newConfigCmd())
	rootCmd.AddCommand(a.newVersionCmd())

	return rootCmd
}

// load reads the configuration and builds the logger.
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	a.cfg = cfg
	a.logs = logger.NewStream(0)
	a.log = logger.New(cfg.Logger(), a.logs)
	a.log.Debug().Str("version", config.Version).Str("server", cfg.Server.URL).Msg("Configuration loaded")
	return nil
}

// openHistory opens and migrates the history database.
func (a *app) openHistory(ctx context.Context) (*history.Service, error) {
	if a.db == nil {
		db, err := database.Open(ctx, a.cfg.Database.Path, a.log.Logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
	}
	return history.NewService(a.db.Conn(), a.log.Logger), nil
}

func (a *app) newChecker() (*update.Checker, error) {
	ucfg := a.cfg.Update()
	client, err := transport.New(transport.Options{
		Timeout:   ucfg.Timeout,
		UserAgent: ucfg.UserAgent,
		Token:     ucfg.Token,
		RateLimit: a.cfg.Server.RateLimit,
		Burst:     a.cfg.Server.Burst,
		Logger:    a.log.Logger,
	})
	if err != nil {
		return nil, err
	}
	return update.NewChecker(ucfg, update.WithHTTPClient(client), update.WithLogger(a.log.Logger)), nil
}

// newUpdater builds the checker and the history-backed updater service.
func (a *app) newUpdater(ctx context.Context) (*updater.Service, *update.Checker, error) {
	checker, err := a.newChecker()
	if err != nil {
		return nil, nil, err
	}
	hist, err := a.openHistory(ctx)
	if err != nil {
		return nil, nil, err
	}

	svc := updater.NewService(checker, hist, updater.Options{
		ProgramID:     a.cfg.Program.ID,
		Channel:       a.cfg.Program.Channel,
		SavePath:      a.cfg.Download.SavePath,
		Naming:        a.cfg.Download.Naming,
		EncryptionKey: a.cfg.Auth.EncryptionKey,
	}, a.log.Logger)
	return svc, checker, nil
}

func (a *app) currentVersion(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if a.cfg.Program.CurrentVersion != "" {
		return a.cfg.Program.CurrentVersion, nil
	}
	return "", errors.New("current version is required: pass --current-version or set program.current_version")
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}
