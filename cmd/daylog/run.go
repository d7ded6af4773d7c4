package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/daylog/pkg/follow"
	"github.com/modoterra/daylog/pkg/manifest"
	"github.com/modoterra/daylog/pkg/rotate"
	"github.com/modoterra/daylog/pkg/runner"
	"github.com/modoterra/daylog/pkg/service"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM. Every
// further signal calls onRepeat, if set.
func signalContext(parent context.Context, logger *slog.Logger, onRepeat func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stopped := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			return
		case <-stopped:
			return
		}
		for {
			select {
			case sig := <-sigCh:
				if onRepeat != nil {
					logger.Warn("signal received again, not waiting any longer", "signal", sig.String())
					onRepeat()
				}
			case <-stopped:
				return
			}
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stopped)
			cancel()
		})
	}
}

// --- Run ---

type runOptions struct {
	logDir       string
	logPrefix    string
	logExtension string
	echo         bool
	fsync        bool
	killTimeout  time.Duration
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run --log-dir DIR --log-prefix PREFIX [flags] -- COMMAND [ARGS...]",
		Short: "Run a command, writing its output to daily log files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, root, opts, args)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&opts.logDir, "log-dir", "", "directory for daily log files")
	cmd.Flags().StringVar(&opts.logPrefix, "log-prefix", "", "file name prefix, e.g. app for app-2024-01-01.log")
	cmd.Flags().StringVar(&opts.logExtension, "log-extension", rotate.DefaultExtension, "file extension")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "also copy output to stdout")
	cmd.Flags().BoolVar(&opts.fsync, "fsync", false, "fsync the log file after every line")
	cmd.Flags().DurationVar(&opts.killTimeout, "kill-timeout", runner.DefaultKillTimeout, "time between SIGTERM and SIGKILL on shutdown")
	_ = cmd.MarkFlagRequired("log-dir")
	_ = cmd.MarkFlagRequired("log-prefix")
	return cmd
}

func runCommand(cmd *cobra.Command, root *rootOptions, opts *runOptions, args []string) error {
	logger, err := root.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cfg := runner.Config{
		Command:      args,
		LogDir:       opts.logDir,
		LogPrefix:    opts.logPrefix,
		LogExtension: opts.logExtension,
		Stdin:        childStdin(cmd.InOrStdin()),
		KillTimeout:  opts.killTimeout,
		Sync:         opts.fsync,
		Logger:       logger,
	}
	if opts.echo {
		cfg.Echo = cmd.OutOrStdout()
	}

	sup, err := runner.New(cfg)
	if err != nil {
		return &exitCodeError{code: runner.ExitFailure, err: fmt.Errorf("error: %w", err)}
	}

	// A second Ctrl-C kills the child without waiting for --kill-timeout.
	ctx, cancel := signalContext(cmd.Context(), logger, sup.Kill)
	defer cancel()

	code, err := sup.Run(ctx)
	if err != nil {
		var launch *runner.LaunchError
		if errors.As(err, &launch) {
			return &exitCodeError{code: code, err: launch}
		}
		return &exitCodeError{code: code, err: fmt.Errorf("error: %w", err)}
	}
	if code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

// childStdin passes stdin through unless it is a terminal. The child runs in
// its own process group and would be stopped reading from the tty.
func childStdin(in io.Reader) io.Reader {
	f, ok := in.(*os.File)
	if !ok {
		return in
	}
	info, err := f.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	return f
}

// --- Tail ---

type tailOptions struct {
	config       string
	logDir       string
	logPrefix    string
	logExtension string
	fromEnd      bool
	poll         time.Duration
}

func newTailCmd(root *rootOptions) *cobra.Command {
	opts := &tailOptions{}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print and follow today's log file",
		Long:  "Print today's log file and keep following it, moving to the next day's file after midnight.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			dir, prefix, ext, err := opts.location()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context(), logger, nil)
			defer cancel()

			return follow.Follow(ctx, dir, prefix, ext, cmd.OutOrStdout(), follow.Options{
				FromEnd: opts.fromEnd,
				Poll:    opts.poll,
				Logger:  logger,
			})
		},
	}
	cmd.Flags().StringVar(&opts.config, "config", "", "service manifest to take the log location from")
	cmd.Flags().StringVar(&opts.logDir, "log-dir", "", "directory of the daily log files")
	cmd.Flags().StringVar(&opts.logPrefix, "log-prefix", "", "file name prefix")
	cmd.Flags().StringVar(&opts.logExtension, "log-extension", rotate.DefaultExtension, "file extension")
	cmd.Flags().BoolVarP(&opts.fromEnd, "from-end", "f", false, "skip what today's file already holds")
	cmd.Flags().DurationVar(&opts.poll, "poll", follow.DefaultPoll, "poll interval")
	return cmd
}

// location resolves the daily file set to follow.
func (o *tailOptions) location() (dir, prefix, ext string, err error) {
	if o.config == "" {
		if o.logDir == "" || o.logPrefix == "" {
			return "", "", "", errors.New("either --config or both --log-dir and --log-prefix are required")
		}
		return o.logDir, o.logPrefix, o.logExtension, nil
	}

	m, err := manifest.Load(o.config)
	if err != nil {
		return "", "", "", err
	}
	cfg, err := service.FromManifest(m, "")
	if err != nil {
		return "", "", "", err
	}
	dir, prefix, ext = service.SplitLogFile(cfg.LogFile)
	return dir, prefix, ext, nil
}
