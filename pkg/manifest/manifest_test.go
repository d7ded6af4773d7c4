package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func intPtr(n int) *int { return &n }

func validManifest() *Manifest {
	return &Manifest{
		Version: 1,
		Service: Service{Name: "recorder"},
		Command: []string{"python3", "main.py"},
	}
}

func TestParseValidManifest(t *testing.T) {
	yaml := `
version: 1
service:
  name: recorder
  description: Live recorder
  working_directory: /opt/recorder
  user_service: true
  restart_sec: 10
  enable_now: true
  env:
    PYTHONUNBUFFERED: "1"
log:
  file: "${workdir}/logs/${name}.log"
  echo: true
command: [python3, "${workdir}/main.py", -mode, automatic]
`
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if m.Version != 1 {
		t.Errorf("version: got %d, want 1", m.Version)
	}
	if m.Service.Name != "recorder" || !m.Service.UserService || !m.Service.EnableNow {
		t.Errorf("service: got %+v", m.Service)
	}
	if m.Service.RestartSec == nil || *m.Service.RestartSec != 10 {
		t.Errorf("restart_sec: got %v", m.Service.RestartSec)
	}
	if m.Service.Env["PYTHONUNBUFFERED"] != "1" {
		t.Errorf("env: got %v", m.Service.Env)
	}
	if m.Log.File != "${workdir}/logs/${name}.log" {
		t.Errorf("log file: got %q, want it unexpanded", m.Log.File)
	}
	if !m.Log.Echo {
		t.Error("log.echo not parsed")
	}
	if errs := Validate(m); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("version: [1")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadResolvesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daylog.yaml")
	content := `version: 1
service:
  name: worker
  working_directory: app
log:
  file: "${workdir}/logs/worker.log"
command: ["./run.sh"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.FilePath != path {
		t.Errorf("FilePath = %q", m.FilePath)
	}
	wantWD := filepath.Join(dir, "app")
	if m.Service.WorkingDirectory != wantWD {
		t.Errorf("working directory = %q, want %q", m.Service.WorkingDirectory, wantWD)
	}
	if got := m.Expand(m.Service.WorkingDirectory).Log.File; got != filepath.Join(wantWD, "logs", "worker.log") {
		t.Errorf("expanded log file = %q", got)
	}
}

func TestExpand(t *testing.T) {
	m := validManifest()
	m.Service.Name = " recorder "
	m.Log.File = "${workdir}/logs/${name}.log"
	m.Command = []string{"python3", "${workdir}/main.py", "--id=${name}"}

	got := m.Expand("/opt/recorder")
	if got.Log.File != "/opt/recorder/logs/recorder.log" {
		t.Errorf("log file = %q", got.Log.File)
	}
	if strings.Join(got.Command, " ") != "python3 /opt/recorder/main.py --id=recorder" {
		t.Errorf("command = %v", got.Command)
	}
	if m.Command[1] != "${workdir}/main.py" || m.Log.File != "${workdir}/logs/${name}.log" {
		t.Errorf("Expand modified the receiver: %+v", m)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	m := validManifest()
	m.Service.RestartSec = intPtr(3)
	m.Log.File = "/var/log/recorder/recorder.log"

	path := filepath.Join(t.TempDir(), "daylog.yaml")
	if err := Save(m, path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Service.Name != "recorder" || *got.Service.RestartSec != 3 || got.Log.File != m.Log.File {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if strings.Join(got.Command, " ") != "python3 main.py" {
		t.Errorf("command = %v", got.Command)
	}
}

func TestValidateVersionMustBe1(t *testing.T) {
	m := validManifest()
	m.Version = 2
	assertHasError(t, Validate(m), "version must be 1")
}

func TestValidateNameRequired(t *testing.T) {
	m := validManifest()
	m.Service.Name = "   "
	assertHasError(t, Validate(m), "service.name is required")
}

func TestValidateRestartSec(t *testing.T) {
	m := validManifest()
	m.Service.RestartSec = intPtr(-1)
	assertHasError(t, Validate(m), "restart_sec must be >= 0")

	m.Service.RestartSec = intPtr(0)
	if errs := Validate(m); len(errs) != 0 {
		t.Errorf("restart_sec=0: unexpected errors: %v", errs)
	}
}

func TestValidateCommandRequired(t *testing.T) {
	m := validManifest()
	m.Command = nil
	assertHasError(t, Validate(m), "command must name a program")
}

func TestValidateUserOnSystemServiceOnly(t *testing.T) {
	m := validManifest()
	m.Service.UserService = true
	m.Service.User = "alice"
	assertHasError(t, Validate(m), "only valid for system services")

	m.Service.UserService = false
	if errs := Validate(m); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestValidateEnvNames(t *testing.T) {
	m := validManifest()
	m.Service.Env = map[string]string{"BAD NAME": "x"}
	assertHasError(t, Validate(m), "invalid variable name")
}

func TestValidateLogFileIsDirectory(t *testing.T) {
	m := validManifest()
	m.Log.File = t.TempDir()
	assertHasError(t, Validate(m), "log.file is a directory")
}

func assertHasError(t *testing.T, errs []error, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e.Error(), substr) {
			return
		}
	}
	t.Errorf("expected error containing %q, got %v", substr, errs)
}
