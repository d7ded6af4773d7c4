// Package runner supervises a child command and writes its combined
// stdout/stderr to daily rotating log files.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modoterra/daylog/pkg/rotate"
)

const (
	// ExitFailure is returned for launch failures and fatal setup or I/O errors.
	ExitFailure = 1
	// ExitInterrupted is returned when the run is cancelled.
	ExitInterrupted = 130

	// DefaultKillTimeout is how long a terminated child may take to exit
	// before it is killed.
	DefaultKillTimeout = 10 * time.Second
)

// State is a step of the supervisor lifecycle.
type State string

const (
	StateNotStarted   State = "not-started"
	StateRunning      State = "running"
	StateStreamClosed State = "stream-closed"
	StateWaitedExit   State = "exited"
	StateInterrupted  State = "interrupted"
	StateTerminated   State = "terminated"
)

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateNotStarted:   {StateRunning},
	StateRunning:      {StateStreamClosed, StateInterrupted},
	StateStreamClosed: {StateWaitedExit, StateInterrupted},
	StateInterrupted:  {StateTerminated},
}

// Config describes one supervised run.
type Config struct {
	Command      []string
	LogDir       string
	LogPrefix    string
	LogExtension string

	// Echo receives a copy of every line. Nil disables echoing.
	Echo io.Writer
	// Stdin is passed to the child unsupervised. Nil means /dev/null.
	Stdin io.Reader
	Dir   string
	Env   map[string]string

	// KillTimeout bounds the wait between SIGTERM and SIGKILL.
	KillTimeout time.Duration
	// Sync fsyncs the log file after every line.
	Sync   bool
	Clock  func() time.Time
	Logger *slog.Logger
}

// Supervisor runs one command to completion. A Supervisor is single-use.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	echo   io.Writer

	mu    sync.Mutex
	state State
	pid   int
	ran   bool

	interrupted atomic.Bool
	killNow     chan struct{}
	killOnce    sync.Once
}

// New validates cfg and returns a Supervisor ready to Run.
func New(cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("missing command")
	}
	if cfg.LogDir == "" {
		return nil, errors.New("log directory is required")
	}
	if strings.TrimSpace(cfg.LogPrefix) == "" {
		return nil, errors.New("log prefix is required")
	}
	cfg.LogExtension = rotate.NormalizeExtension(cfg.LogExtension)
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logger,
		echo:    cfg.Echo,
		state:   StateNotStarted,
		killNow: make(chan struct{}),
	}, nil
}

// Run is a convenience wrapper around New and Supervisor.Run.
func Run(ctx context.Context, cfg Config) (int, error) {
	s, err := New(cfg)
	if err != nil {
		return ExitFailure, err
	}
	return s.Run(ctx)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the child's process ID, or 0 before it starts.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Kill ends the run without waiting for KillTimeout: the child's process
// group is killed as soon as Run has started it. Run returns ExitInterrupted.
func (s *Supervisor) Kill() {
	s.killOnce.Do(func() { close(s.killNow) })
}

// Run starts the command, logs its output until the stream closes and
// returns the child's exit code. Cancelling ctx terminates the child and
// makes Run return ExitInterrupted.
func (s *Supervisor) Run(ctx context.Context) (code int, err error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ExitFailure, errors.New("supervisor already used")
	}
	s.ran = true
	s.mu.Unlock()

	cfg := s.cfg
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return ExitFailure, fmt.Errorf("create log directory: %w", err)
	}

	// Both streams share one pipe so the kernel keeps their relative order.
	pr, pw, err := os.Pipe()
	if err != nil {
		return ExitFailure, fmt.Errorf("output pipe: %w", err)
	}
	defer pr.Close()

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Stdin = cfg.Stdin
	cmd.Stdout = pw
	cmd.Stderr = pw
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(cfg.Env)...)
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		pw.Close()
		return ExitFailure, &LaunchError{Command: cfg.Command[0], Err: err}
	}
	pw.Close()

	pid := cmd.Process.Pid
	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()
	s.advance(StateRunning)
	s.logger.Info("process started", "pid", pid, "command", strings.Join(cfg.Command, " "))

	w := rotate.New(cfg.LogDir, cfg.LogPrefix, cfg.LogExtension,
		rotate.WithClock(cfg.Clock),
		rotate.WithSync(cfg.Sync),
		rotate.WithLogger(s.logger),
	)
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			code, err = ExitFailure, cerr
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	waited := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.watch(runCtx, cmd.Process, pr, waited)
	}()

	var writeErr error
	readErr := readLines(pr, func(line []byte) error {
		if err := w.WriteLine(line); err != nil {
			writeErr = err
			return err
		}
		s.echoLine(line)
		return nil
	})

	abortErr := writeErr
	if abortErr == nil && readErr != nil && !isStreamStopped(readErr) {
		abortErr = fmt.Errorf("read output: %w", readErr)
	}
	if abortErr != nil {
		s.logger.Error("aborting run", "pid", pid, "err", abortErr)
		s.advance(StateInterrupted)
		// Nothing reads the pipe any more; the child's next write fails.
		pr.Close()
		cancel()
		_ = cmd.Wait()
		close(waited)
		<-watchDone
		s.advance(StateTerminated)
		return ExitFailure, abortErr
	}

	s.advance(StateStreamClosed)
	waitErr := cmd.Wait()
	close(waited)
	<-watchDone

	if s.interrupted.Load() {
		s.advance(StateTerminated)
		s.logger.Info("process terminated", "pid", pid)
		return ExitInterrupted, nil
	}

	s.advance(StateWaitedExit)
	code, err = exitCode(cmd.ProcessState, waitErr)
	s.logger.Info("process exited", "pid", pid, "exit_code", code)
	return code, err
}

// watch terminates the child once ctx is cancelled, escalating to a kill
// after the configured timeout or on Kill. It returns when waited is closed.
func (s *Supervisor) watch(ctx context.Context, proc *os.Process, stream *os.File, waited <-chan struct{}) {
	select {
	case <-waited:
		return
	case <-ctx.Done():
	case <-s.killNow:
	}

	s.interrupted.Store(true)
	s.advance(StateInterrupted)
	s.logger.Info("terminating process", "pid", proc.Pid)
	if err := terminate(proc); err != nil {
		s.logger.Warn("terminate process", "pid", proc.Pid, "err", err)
	}

	timer := time.NewTimer(s.cfg.KillTimeout)
	defer timer.Stop()
	select {
	case <-waited:
		return
	case <-timer.C:
		s.logger.Warn("process did not exit, killing", "pid", proc.Pid, "timeout", s.cfg.KillTimeout)
	case <-s.killNow:
		s.logger.Warn("kill requested", "pid", proc.Pid)
	}

	if err := kill(proc); err != nil {
		s.logger.Warn("kill process", "pid", proc.Pid, "err", err)
	}
	// A descendant outside the process group may still hold the pipe open.
	_ = stream.SetReadDeadline(time.Now())
}

func (s *Supervisor) echoLine(line []byte) {
	if s.echo == nil {
		return
	}
	_, err := s.echo.Write(line)
	if err == nil {
		if f, ok := s.echo.(interface{ Flush() error }); ok {
			err = f.Flush()
		}
	}
	if err != nil {
		s.logger.Warn("echo failed, disabling", "err", err)
		s.echo = nil
	}
}

func (s *Supervisor) advance(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, next := range transitions[s.state] {
		if next == to {
			s.state = to
			return true
		}
	}
	return false
}

func exitCode(ps *os.ProcessState, waitErr error) (int, error) {
	if ps == nil {
		return ExitFailure, fmt.Errorf("wait: %w", waitErr)
	}
	if code, ok := signalExitCode(ps); ok {
		return code, nil
	}
	return ps.ExitCode(), nil
}

func isStreamStopped(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, os.ErrClosed)
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
