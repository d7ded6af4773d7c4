package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/modoterra/daylog/internal/buildinfo"
	"github.com/modoterra/daylog/pkg/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// exitCodeError ends the process with code. err, when set, is printed as is.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

// reportError prints err and returns the exit code for it.
func reportError(w io.Writer, err error) int {
	var exit *exitCodeError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(w, exit.err)
		}
		return exit.code
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}

type rootOptions struct {
	logLevel string
	// newInstaller builds the systemd installer; replaced in tests.
	newInstaller func(out io.Writer, logger *slog.Logger) *service.Installer
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootOptions{newInstaller: service.NewInstaller})
}

func buildRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daylog",
		Short: "Run a command and write its output to daily log files",
		Long: "daylog supervises a command, merges its stdout and stderr and appends every line to\n" +
			"<prefix>-YYYY-MM-DD<ext>, switching files at local midnight. It can also install\n" +
			"the wrapped command as a systemd service.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "diagnostic log level (debug|info|warn|error)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newTailCmd(opts))
	cmd.AddCommand(newInstallCmd(opts))
	cmd.AddCommand(newUninstallCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newExampleCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// logger returns a text logger on w at the configured level.
func (o *rootOptions) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// --- Version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "daylog %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		},
	}
}

// --- Example ---

const exampleManifest = `# daylog.yaml: install with "daylog install --config daylog.yaml"
version: 1
service:
  name: recorder
  description: Stream recorder
  working_directory: .
  user_service: true
  restart_sec: 5
  enable_now: true
  env:
    PYTHONUNBUFFERED: "1"
log:
  # Daily files become logs/recorder-YYYY-MM-DD.log
  file: ${workdir}/logs/${name}.log
  echo: false
command:
  - ./venv/bin/python
  - record.py
  - --no-update-check
`

func newExampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example",
		Short: "Print an example service manifest",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), exampleManifest)
		},
	}
}
