package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/modoterra/daylog/pkg/manifest"
	"github.com/modoterra/daylog/pkg/service"
)

// --- Install ---

type installOptions struct {
	config           string
	name             string
	description      string
	workingDirectory string
	userService      bool
	user             string
	group            string
	logFile          string
	restartSec       int
	enableNow        bool
	echo             bool
	fsync            bool
	dryRun           bool
	save             string
}

func newInstallCmd(root *rootOptions) *cobra.Command {
	opts := &installOptions{}

	cmd := &cobra.Command{
		Use:   "install [--config FILE] [flags] [-- COMMAND [ARGS...]]",
		Short: "Install a command as a systemd service logging to daily files",
		Long: "Install writes a systemd unit that runs the command under \"daylog run\", reloads\n" +
			"systemd and enables the unit. Settings come from --config and are overridden by flags;\n" +
			"arguments after -- replace the manifest command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			m, err := opts.manifest(cmd, args)
			if err != nil {
				return err
			}
			if errs := manifest.Validate(m); len(errs) > 0 {
				source := m.FilePath
				if source == "" {
					source = "flags"
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d error(s)\n", source, len(errs))
				for _, e := range errs {
					fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
				}
				return errors.New("invalid service configuration")
			}
			if opts.save != "" {
				if err := manifest.Save(m, opts.save); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved manifest: %s\n", opts.save)
			}

			runnerPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot locate daylog binary: %w", err)
			}
			cfg, err := service.FromManifest(m, runnerPath)
			if err != nil {
				return err
			}

			in := root.newInstaller(cmd.OutOrStdout(), logger)
			if opts.dryRun {
				return in.DryRun(cfg)
			}
			return in.Install(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.config, "config", "", "service manifest (see \"daylog example\")")
	f.StringVar(&opts.name, "service-name", "", "unit name; .service is appended when missing")
	f.StringVar(&opts.description, "description", "", "unit description (default: the service name)")
	f.StringVar(&opts.workingDirectory, "working-directory", "", "working directory (default: current directory)")
	f.BoolVar(&opts.userService, "user-service", false, "install as a systemd --user service")
	f.StringVar(&opts.user, "run-as-user", "", "User= for system services")
	f.StringVar(&opts.group, "run-as-group", "", "Group= for system services")
	f.StringVar(&opts.logFile, "log-file", "", "base log path; daily files become <stem>-YYYY-MM-DD<ext> (default: <workdir>/logs/<name>.log)")
	f.IntVar(&opts.restartSec, "restart-sec", service.DefaultRestartSec, "RestartSec= value")
	f.BoolVar(&opts.enableNow, "enable-now", false, "start the service after enabling it")
	f.BoolVar(&opts.echo, "echo", false, "also copy output to the journal")
	f.BoolVar(&opts.fsync, "fsync", false, "fsync the log file after every line")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the unit and commands without installing")
	f.StringVar(&opts.save, "save", "", "also write the effective manifest (config plus flags) to this file")
	return cmd
}

// manifest loads --config, if any, and applies explicitly set flags on top.
func (o *installOptions) manifest(cmd *cobra.Command, args []string) (*manifest.Manifest, error) {
	m := &manifest.Manifest{Version: 1}
	if o.config != "" {
		var err error
		if m, err = manifest.Load(o.config); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("service-name") {
		m.Service.Name = o.name
	}
	if f.Changed("description") {
		m.Service.Description = o.description
	}
	if f.Changed("working-directory") {
		m.Service.WorkingDirectory = o.workingDirectory
	}
	if f.Changed("user-service") {
		m.Service.UserService = o.userService
	}
	if f.Changed("run-as-user") {
		m.Service.User = o.user
	}
	if f.Changed("run-as-group") {
		m.Service.Group = o.group
	}
	if f.Changed("log-file") {
		m.Log.File = o.logFile
	}
	if f.Changed("restart-sec") {
		sec := o.restartSec
		m.Service.RestartSec = &sec
	}
	if f.Changed("enable-now") {
		m.Service.EnableNow = o.enableNow
	}
	if f.Changed("echo") {
		m.Log.Echo = o.echo
	}
	if f.Changed("fsync") {
		m.Log.Fsync = o.fsync
	}
	if len(args) > 0 {
		m.Command = args
	}
	return m, nil
}

// --- Uninstall ---

func newUninstallCmd(root *rootOptions) *cobra.Command {
	var userService bool

	cmd := &cobra.Command{
		Use:   "uninstall NAME",
		Short: "Stop, disable and remove an installed service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return root.newInstaller(cmd.OutOrStdout(), logger).Uninstall(cmd.Context(), args[0], userService)
		},
	}
	cmd.Flags().BoolVar(&userService, "user-service", false, "the service is a systemd --user service")
	return cmd
}

// --- Status ---

var (
	labelStyle  = lipgloss.NewStyle().Bold(true)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var userService bool

	cmd := &cobra.Command{
		Use:   "status NAME",
		Short: "Show the state of an installed service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			st, err := root.newInstaller(cmd.OutOrStdout(), logger).Status(cmd.Context(), args[0], userService)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&userService, "user-service", false, "the service is a systemd --user service")
	return cmd
}

func printStatus(w io.Writer, st service.UnitStatus) {
	file := st.Path
	if !st.Installed {
		file += " " + idleStyle.Render("(not installed)")
	}

	state := st.ActiveState + " (" + st.SubState + ")"
	switch st.ActiveState {
	case "active":
		state = activeStyle.Render(state)
	case "failed":
		state = failedStyle.Render(state)
	default:
		state = idleStyle.Render(state)
	}

	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Unit: "), st.Unit)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("File: "), file)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Load: "), st.LoadState)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("State:"), state)
	if st.MainPID > 0 {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("PID:  "), strconv.Itoa(st.MainPID))
	}
	if p := st.Process; p != nil {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Cmd:  "), p.Cmdline)
		if p.RSSKiB > 0 {
			fmt.Fprintf(w, "%s %.1f MiB\n", labelStyle.Render("RSS:  "), float64(p.RSSKiB)/1024)
		}
	}
}
