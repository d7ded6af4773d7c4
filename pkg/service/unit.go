// Package service installs daylog-wrapped commands as systemd units.
package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/modoterra/daylog/pkg/manifest"
	"github.com/modoterra/daylog/pkg/rotate"
)

// DefaultRestartSec is the RestartSec= used when none is configured.
const DefaultRestartSec = 5

const systemUnitDir = "/etc/systemd/system"

// Config describes one service unit.
type Config struct {
	Name             string
	Description      string
	WorkingDirectory string
	// Runner is the absolute path of the daylog binary.
	Runner  string
	Command []string
	// LogFile is the base log path; see SplitLogFile.
	LogFile     string
	Echo        bool
	Fsync       bool
	UserService bool
	User        string
	Group       string
	RestartSec  int
	Env         map[string]string
	EnableNow   bool
}

// FromManifest fills a Config from m, applying defaults. runner is the
// daylog binary the unit will execute. ${workdir} and ${name} are expanded
// against the resolved working directory.
func FromManifest(m *manifest.Manifest, runner string) (Config, error) {
	wd := m.Service.WorkingDirectory
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			return Config{}, fmt.Errorf("cannot determine working directory: %w", err)
		}
	}
	wd, err := filepath.Abs(wd)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}
	m = m.Expand(wd)

	svc := m.Service
	cfg := Config{
		Name:             strings.TrimSpace(svc.Name),
		Description:      strings.TrimSpace(svc.Description),
		WorkingDirectory: wd,
		Runner:           runner,
		Command:          m.Command,
		Echo:             m.Log.Echo,
		Fsync:            m.Log.Fsync,
		UserService:      svc.UserService,
		User:             svc.User,
		Group:            svc.Group,
		RestartSec:       DefaultRestartSec,
		Env:              svc.Env,
		EnableNow:        svc.EnableNow,
	}
	if cfg.Description == "" {
		cfg.Description = cfg.Name
	}
	if svc.RestartSec != nil {
		cfg.RestartSec = *svc.RestartSec
	}

	switch {
	case m.Log.File == "":
		cfg.LogFile = DefaultLogFile(wd, cfg.Name)
	case filepath.IsAbs(m.Log.File):
		cfg.LogFile = filepath.Clean(m.Log.File)
	default:
		cfg.LogFile = filepath.Join(wd, m.Log.File)
	}
	return cfg, nil
}

// NormalizeName appends ".service" when missing.
func NormalizeName(name string) string {
	if strings.HasSuffix(name, ".service") {
		return name
	}
	return name + ".service"
}

// DefaultLogFile returns <workdir>/logs/<name>.log.
func DefaultLogFile(workdir, name string) string {
	base := strings.TrimSuffix(NormalizeName(name), ".service")
	return filepath.Join(workdir, "logs", base+rotate.DefaultExtension)
}

// SplitLogFile splits a base log path into directory, prefix and extension.
// A path without an extension gets rotate.DefaultExtension.
func SplitLogFile(logFile string) (dir, prefix, ext string) {
	dir = filepath.Dir(logFile)
	base := filepath.Base(logFile)
	ext = filepath.Ext(base)
	prefix = strings.TrimSuffix(base, ext)
	if prefix == "" {
		// ".log" style names: the whole thing is the stem.
		prefix, ext = base, ""
	}
	return dir, prefix, rotate.NormalizeExtension(ext)
}

// DailyPattern describes the files a unit writes, e.g. logs/app-YYYY-MM-DD.log.
func DailyPattern(logFile string) string {
	return rotate.Pattern(SplitLogFile(logFile))
}

// UnitPath returns where the unit file for name is installed.
func UnitPath(name string, user bool) (string, error) {
	name = NormalizeName(name)
	if !user {
		return filepath.Join(systemUnitDir, name), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", name), nil
}

// ExecArgs returns the daylog invocation that wraps cfg.Command.
func ExecArgs(cfg Config) []string {
	dir, prefix, ext := SplitLogFile(cfg.LogFile)
	args := []string{
		cfg.Runner, "run",
		"--log-dir", dir,
		"--log-prefix", prefix,
		"--log-extension", ext,
	}
	if cfg.Echo {
		args = append(args, "--echo")
	}
	if cfg.Fsync {
		args = append(args, "--fsync")
	}
	args = append(args, "--")
	return append(args, cfg.Command...)
}

// ExecStart renders ExecArgs as a systemd command line.
func ExecStart(cfg Config) string {
	args := ExecArgs(cfg)
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quote(a, true)
	}
	return strings.Join(quoted, " ")
}

// Options returns the unit file contents as go-systemd options.
func Options(cfg Config) []*unit.UnitOption {
	wantedBy := "multi-user.target"
	if cfg.UserService {
		wantedBy = "default.target"
	}

	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", cfg.Description),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Unit", "Wants", "network-online.target"),

		unit.NewUnitOption("Service", "Type", "simple"),
		unit.NewUnitOption("Service", "WorkingDirectory", strings.ReplaceAll(cfg.WorkingDirectory, "%", "%%")),
		unit.NewUnitOption("Service", "ExecStart", ExecStart(cfg)),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", strconv.Itoa(cfg.RestartSec)),
	}

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, unit.NewUnitOption("Service", "Environment", quote(k+"="+cfg.Env[k], false)))
	}

	if !cfg.UserService {
		if cfg.User != "" {
			opts = append(opts, unit.NewUnitOption("Service", "User", cfg.User))
		}
		if cfg.Group != "" {
			opts = append(opts, unit.NewUnitOption("Service", "Group", cfg.Group))
		}
	}

	return append(opts, unit.NewUnitOption("Install", "WantedBy", wantedBy))
}

// UnitContents returns the unit file text for cfg.
func UnitContents(cfg Config) (string, error) {
	data, err := io.ReadAll(unit.Serialize(Options(cfg)))
	if err != nil {
		return "", fmt.Errorf("render unit: %w", err)
	}
	return string(data), nil
}

// quote escapes s for a unit file value. Specifiers are always escaped;
// variable references only where systemd would expand them.
func quote(s string, dollar bool) string {
	s = strings.ReplaceAll(s, "%", "%%")
	if dollar {
		s = strings.ReplaceAll(s, "$", "$$")
	}
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\;") {
		return s
	}

	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
