package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validate checks the manifest for structural correctness.
func Validate(m *Manifest) []error {
	var errs []error

	if m.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", m.Version))
	}

	svc := m.Service
	if strings.TrimSpace(svc.Name) == "" {
		errs = append(errs, fmt.Errorf("service.name is required"))
	}
	if svc.RestartSec != nil && *svc.RestartSec < 0 {
		errs = append(errs, fmt.Errorf("service.restart_sec must be >= 0, got %d", *svc.RestartSec))
	}
	if svc.UserService && (svc.User != "" || svc.Group != "") {
		errs = append(errs, fmt.Errorf("service.user and service.group are only valid for system services"))
	}
	for k := range svc.Env {
		if k == "" || strings.ContainsAny(k, "= \t\n") {
			errs = append(errs, fmt.Errorf("service.env: invalid variable name %q", k))
		}
	}

	if len(m.Command) == 0 || strings.TrimSpace(m.Command[0]) == "" {
		errs = append(errs, fmt.Errorf("command must name a program to run"))
	}

	if filepath.IsAbs(m.Log.File) {
		if info, err := os.Stat(m.Log.File); err == nil && info.IsDir() {
			errs = append(errs, fmt.Errorf("log.file is a directory: %s", m.Log.File))
		}
	}

	return errs
}
