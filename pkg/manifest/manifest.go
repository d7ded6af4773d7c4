package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest represents a daylog.yaml service description.
type Manifest struct {
	Version int      `yaml:"version" json:"version"`
	Service Service  `yaml:"service" json:"service"`
	Log     Log      `yaml:"log"     json:"log"`
	Command []string `yaml:"command" json:"command"`

	// FilePath is the file the manifest was loaded from.
	FilePath string `yaml:"-" json:"-"`
}

// Service holds the systemd-facing settings.
type Service struct {
	Name             string            `yaml:"name"                        json:"name"`
	Description      string            `yaml:"description,omitempty"       json:"description,omitempty"`
	WorkingDirectory string            `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	UserService      bool              `yaml:"user_service,omitempty"      json:"user_service,omitempty"`
	User             string            `yaml:"user,omitempty"              json:"user,omitempty"`  // system services only
	Group            string            `yaml:"group,omitempty"             json:"group,omitempty"` // system services only
	RestartSec       *int              `yaml:"restart_sec,omitempty"       json:"restart_sec,omitempty"`
	EnableNow        bool              `yaml:"enable_now,omitempty"        json:"enable_now,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"               json:"env,omitempty"`
}

// Log describes where daily files go.
type Log struct {
	// File is the base path; daily files become <stem>-YYYY-MM-DD<ext>.
	File  string `yaml:"file,omitempty"  json:"file,omitempty"`
	Echo  bool   `yaml:"echo,omitempty"  json:"echo,omitempty"`
	Fsync bool   `yaml:"fsync,omitempty" json:"fsync,omitempty"`
}

// Parse decodes a manifest. ${name} and ${workdir} are left in place; see Expand.
func Parse(data []byte) (*Manifest, error) {
	return decode(data)
}

// Load reads and parses the manifest at path. A relative working directory
// is resolved against the manifest's own directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := decode(data)
	if err != nil {
		return nil, err
	}
	m.FilePath = path

	wd := m.Service.WorkingDirectory
	if wd != "" && !filepath.IsAbs(wd) {
		m.Service.WorkingDirectory = filepath.Join(filepath.Dir(path), wd)
	}
	return m, nil
}

// Expand returns a copy of m with ${name} and ${workdir} substituted in the
// log file and command. workdir is the final working directory, after
// defaults and overrides have been applied.
func (m *Manifest) Expand(workdir string) *Manifest {
	out := *m
	r := strings.NewReplacer(
		"${name}", strings.TrimSpace(m.Service.Name),
		"${workdir}", workdir,
	)
	out.Log.File = r.Replace(m.Log.File)
	out.Command = make([]string, len(m.Command))
	for i, arg := range m.Command {
		out.Command[i] = r.Replace(arg)
	}
	return &out
}

// Save writes the manifest as YAML to path.
func Save(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
