package service

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProc(t *testing.T, root string, pid, cmdline, status string) {
	t.Helper()
	dir := filepath.Join(root, pid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644); err != nil {
		t.Fatal(err)
	}
	if status != "" {
		if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadProcess(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, "77", "/usr/bin/daylog\x00run\x00--log-dir\x00/srv/logs\x00", "Name:\tdaylog\nVmPeak:\t 9000 kB\nVmRSS:\t    5120 kB\nThreads:\t4\n")

	p, err := readProcess(root, 77)
	if err != nil {
		t.Fatal(err)
	}
	if p.Cmdline != "/usr/bin/daylog run --log-dir /srv/logs" {
		t.Errorf("Cmdline = %q", p.Cmdline)
	}
	if p.RSSKiB != 5120 {
		t.Errorf("RSSKiB = %d, want 5120", p.RSSKiB)
	}
}

func TestReadProcessWithoutStatus(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, "5", "sleep\x00100\x00", "")

	p, err := readProcess(root, 5)
	if err != nil {
		t.Fatal(err)
	}
	if p.Cmdline != "sleep 100" || p.RSSKiB != 0 {
		t.Errorf("process = %+v", p)
	}
}

func TestReadProcessGone(t *testing.T) {
	if _, err := readProcess(t.TempDir(), 12345); err == nil {
		t.Fatal("expected an error for a missing process")
	}
}
