package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Bus is the part of the systemd D-Bus API the installer needs.
// *dbus.Conn satisfies it.
type Bus interface {
	ReloadContext(ctx context.Context) error
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []dbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]dbus.DisableUnitFileChange, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	GetUnitTypePropertiesContext(ctx context.Context, unit string, unitType string) (map[string]interface{}, error)
	Close()
}

// Connect opens a connection to the user or system service manager.
func Connect(ctx context.Context, user bool) (Bus, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	return conn, nil
}

// Installer writes unit files and registers them with systemd.
type Installer struct {
	// Connect opens the manager connection; defaults to the package Connect.
	Connect func(ctx context.Context, user bool) (Bus, error)
	// UnitDir overrides the directory unit files are written to.
	UnitDir string
	// ProcRoot is where process details are read from; defaults to /proc.
	ProcRoot string
	Out      io.Writer
	Logger   *slog.Logger
}

// NewInstaller returns an Installer that talks to the real service manager.
func NewInstaller(out io.Writer, logger *slog.Logger) *Installer {
	return &Installer{Connect: Connect, Out: out, Logger: logger}
}

// UnitStatus is the state of an installed unit.
type UnitStatus struct {
	Unit        string
	Path        string
	Installed   bool
	LoadState   string
	ActiveState string
	SubState    string
	MainPID     int
	// Process is filled from /proc while MainPID is running.
	Process *Process
}

// Install writes the unit file, reloads systemd, enables the unit and,
// with EnableNow, starts it.
func (in *Installer) Install(ctx context.Context, cfg Config) error {
	name := NormalizeName(cfg.Name)
	unitPath, err := in.unitPath(name, cfg.UserService)
	if err != nil {
		return err
	}
	contents, err := UnitContents(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	logDir, _, _ := SplitLogFile(cfg.LogFile)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("cannot create log directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}
	in.logger().Info("unit file written", "path", unitPath)

	bus, err := in.Connect(ctx, cfg.UserService)
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := bus.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, _, err := bus.EnableUnitFilesContext(ctx, []string{name}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}
	if cfg.EnableNow {
		if err := runJob(ctx, "start", name, bus.StartUnitContext); err != nil {
			return err
		}
	}

	fmt.Fprintf(in.Out, "Installed service: %s\n", unitPath)
	fmt.Fprintln(in.Out, "Done.")
	fmt.Fprintf(in.Out, "Manage with: %s status %s\n", systemctlCommand(cfg.UserService), name)
	fmt.Fprintf(in.Out, "Daily logs: %s\n", DailyPattern(cfg.LogFile))
	return nil
}

// DryRun prints what Install would do without touching the system.
func (in *Installer) DryRun(cfg Config) error {
	name := NormalizeName(cfg.Name)
	unitPath, err := in.unitPath(name, cfg.UserService)
	if err != nil {
		return err
	}
	contents, err := UnitContents(cfg)
	if err != nil {
		return err
	}

	systemctl := systemctlCommand(cfg.UserService)
	fmt.Fprintf(in.Out, "[dry-run] Service file path: %s\n", unitPath)
	fmt.Fprintf(in.Out, "[dry-run] Log file base path: %s\n", cfg.LogFile)
	fmt.Fprintf(in.Out, "[dry-run] Daily logs path: %s\n", DailyPattern(cfg.LogFile))
	fmt.Fprintln(in.Out, contents)
	fmt.Fprintln(in.Out, "[dry-run] Commands:")
	fmt.Fprintf(in.Out, "  %s daemon-reload\n", systemctl)
	if cfg.EnableNow {
		fmt.Fprintf(in.Out, "  %s enable --now %s\n", systemctl, name)
	} else {
		fmt.Fprintf(in.Out, "  %s enable %s\n", systemctl, name)
	}
	return nil
}

// Uninstall stops and disables the unit, removes its file and reloads systemd.
func (in *Installer) Uninstall(ctx context.Context, name string, user bool) error {
	name = NormalizeName(name)
	unitPath, err := in.unitPath(name, user)
	if err != nil {
		return err
	}

	bus, err := in.Connect(ctx, user)
	if err != nil {
		return err
	}
	defer bus.Close()

	// Best-effort stop and disable; the unit may not be running or enabled.
	if err := runJob(ctx, "stop", name, bus.StopUnitContext); err != nil {
		in.logger().Warn("stop unit", "unit", name, "err", err)
	}
	if _, err := bus.DisableUnitFilesContext(ctx, []string{name}, false); err != nil {
		in.logger().Warn("disable unit", "unit", name, "err", err)
	}

	if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}
	if err := bus.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	fmt.Fprintf(in.Out, "Removed service: %s\n", unitPath)
	return nil
}

// Status reports the unit's file and runtime state.
func (in *Installer) Status(ctx context.Context, name string, user bool) (UnitStatus, error) {
	name = NormalizeName(name)
	unitPath, err := in.unitPath(name, user)
	if err != nil {
		return UnitStatus{}, err
	}
	st := UnitStatus{Unit: name, Path: unitPath, LoadState: "not-found", ActiveState: "inactive", SubState: "dead"}
	if _, err := os.Stat(unitPath); err == nil {
		st.Installed = true
	}

	bus, err := in.Connect(ctx, user)
	if err != nil {
		return st, err
	}
	defer bus.Close()

	units, err := bus.ListUnitsByNamesContext(ctx, []string{name})
	if err != nil {
		return st, fmt.Errorf("list units: %w", err)
	}
	if len(units) == 0 {
		return st, nil
	}
	u := units[0]
	st.LoadState = u.LoadState
	st.ActiveState = u.ActiveState
	st.SubState = u.SubState

	if u.ActiveState == "active" {
		props, err := bus.GetUnitTypePropertiesContext(ctx, name, "Service")
		if err == nil {
			if pid, ok := props["MainPID"].(uint32); ok && pid > 0 {
				st.MainPID = int(pid)
			}
		}
	}
	if st.MainPID > 0 {
		root := in.ProcRoot
		if root == "" {
			root = defaultProcRoot
		}
		if p, err := readProcess(root, st.MainPID); err == nil {
			st.Process = &p
		} else {
			in.logger().Debug("read process", "pid", st.MainPID, "err", err)
		}
	}
	return st, nil
}

func (in *Installer) unitPath(name string, user bool) (string, error) {
	if in.UnitDir != "" {
		return filepath.Join(in.UnitDir, NormalizeName(name)), nil
	}
	return UnitPath(name, user)
}

func (in *Installer) logger() *slog.Logger {
	if in.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return in.Logger
}

type jobFunc func(ctx context.Context, name string, mode string, ch chan<- string) (int, error)

// runJob queues a unit job and waits for its result.
func runJob(ctx context.Context, action, name string, job jobFunc) error {
	ch := make(chan string, 1)
	if _, err := job(ctx, name, "replace", ch); err != nil {
		return fmt.Errorf("systemd %s %s: %w", action, name, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd %s %s: job result %q", action, name, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func systemctlCommand(user bool) string {
	if user {
		return "systemctl --user"
	}
	return "systemctl"
}
