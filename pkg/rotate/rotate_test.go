package rotate

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeClock returns a settable time for WithClock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func day(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.Local)
}

func TestNormalizeExtension(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ".log"},
		{"log", ".log"},
		{".log", ".log"},
		{"txt", ".txt"},
		{".out.gz", ".out.gz"},
	}
	for _, tt := range tests {
		if got := NormalizeExtension(tt.in); got != tt.want {
			t.Errorf("NormalizeExtension(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPath(t *testing.T) {
	got := Path("/tmp/logs", "job", ".log", day(2024, 1, 1, 12, 0, 0))
	if got != "/tmp/logs/job-2024-01-01.log" {
		t.Errorf("Path() = %q", got)
	}
}

func TestPattern(t *testing.T) {
	got := Pattern("/var/log/app", "worker", ".txt")
	if got != "/var/log/app/worker-YYYY-MM-DD.txt" {
		t.Errorf("Pattern() = %q", got)
	}
}

func TestWriteLinesSameDay(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: day(2024, 1, 1, 8, 0, 0)}
	w := New(dir, "job", "", WithClock(clock.now))
	defer w.Close()

	var want strings.Builder
	for i := 0; i < 100; i++ {
		line := []byte("line " + string(rune('a'+i%26)) + "\n")
		want.Write(line)
		if err := w.WriteLine(line); err != nil {
			t.Fatalf("WriteLine #%d: %v", i, err)
		}
		clock.t = clock.t.Add(time.Minute)
	}

	path := filepath.Join(dir, "job-2024-01-01.log")
	if w.Path() != path {
		t.Errorf("Path() = %q, want %q", w.Path(), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != want.String() {
		t.Errorf("file contents mismatch:\ngot  %q\nwant %q", data, want.String())
	}
}

func TestWriteLineRotatesAtMidnight(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: day(2024, 1, 1, 23, 59, 58)}
	w := New(dir, "job", "log", WithClock(clock.now))
	defer w.Close()

	for _, l := range []string{"one\n", "two\n"} {
		if err := w.WriteLine([]byte(l)); err != nil {
			t.Fatal(err)
		}
	}
	clock.t = day(2024, 1, 2, 0, 0, 1)
	for _, l := range []string{"three\n", "four\n"} {
		if err := w.WriteLine([]byte(l)); err != nil {
			t.Fatal(err)
		}
	}

	yesterday, err := os.ReadFile(filepath.Join(dir, "job-2024-01-01.log"))
	if err != nil {
		t.Fatal(err)
	}
	today, err := os.ReadFile(filepath.Join(dir, "job-2024-01-02.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(yesterday) != "one\ntwo\n" {
		t.Errorf("yesterday = %q", yesterday)
	}
	if string(today) != "three\nfour\n" {
		t.Errorf("today = %q", today)
	}
}

func TestWriteLineAppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job-2024-03-05.log")
	if err := os.WriteFile(path, []byte("earlier\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{t: day(2024, 3, 5, 10, 0, 0)}
	w := New(dir, "job", ".log", WithClock(clock.now))
	if err := w.WriteLine([]byte("later\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "earlier\nlater\n" {
		t.Errorf("got %q", data)
	}
}

func TestWriteLineVisibleBeforeClose(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: day(2024, 1, 1, 12, 0, 0)}
	w := New(dir, "job", "", WithClock(clock.now), WithSync(true))
	defer w.Close()

	for i, l := range []string{"a\n", "b\n", "c\n"} {
		if err := w.WriteLine([]byte(l)); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(w.Path())
		if err != nil {
			t.Fatal(err)
		}
		if got := strings.Count(string(data), "\n"); got != i+1 {
			t.Errorf("after line %d file holds %d lines", i+1, got)
		}
	}
}

func TestWriteLineCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	w := New(dir, "job", "", WithClock((&fakeClock{t: day(2024, 1, 1, 1, 0, 0)}).now))
	defer w.Close()

	if err := w.WriteLine([]byte("x\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "job-2024-01-01.log")); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestWriteLineReportsOpenFailure(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	// A regular file where the directory should be.
	w := New(filepath.Join(blocker, "logs"), "job", "")
	err := w.WriteLine([]byte("x\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		t.Errorf("expected *fs.PathError in chain, got %T: %v", err, err)
	}
	if w.Path() != "" {
		t.Errorf("Path() = %q after failed open", w.Path())
	}
}

func TestCloseIdempotent(t *testing.T) {
	w := New(t.TempDir(), "job", "")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteLine([]byte("x\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}
