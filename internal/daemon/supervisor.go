package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of the supervised process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateGaveUp   State = "gave_up"
)

// Supervisor defaults.
const (
	defaultRestartDelay    = 2 * time.Second
	defaultMaxRestartDelay = 2 * time.Minute
	defaultStableAfter     = time.Minute
	defaultStopTimeout     = 5 * time.Second
	defaultReadyTimeout    = 10 * time.Second
	readyPollInterval      = 100 * time.Millisecond
)

var (
	// ErrNoBinary is returned by New when Config.Binary is empty.
	ErrNoBinary = errors.New("daemon binary not configured")

	// ErrAlreadyRunning is returned by Start on a running supervisor.
	ErrAlreadyRunning = errors.New("daemon already running")

	// ErrNotReady is returned by Start when the ready check never passed.
	ErrNotReady = errors.New("daemon did not become ready")
)

// Config describes the process to supervise.
type Config struct {
	// Name labels log records and stats.
	Name string

	// Binary and Args form the command line.
	Binary string
	Args   []string

	// Env is appended to the gateway's environment.
	Env []string

	// RestartDelay is the first backoff after a crash. It doubles on
	// every consecutive crash up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableAfter resets the backoff once the process has stayed up this long.
	StableAfter time.Duration

	// MaxRestarts caps consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// StopTimeout is the SIGTERM grace period before SIGKILL.
	StopTimeout time.Duration

	// ReadyCheck reports whether the daemon serves requests yet. Start
	// polls it for up to ReadyTimeout. Nil means ready on exec.
	ReadyCheck   func(ctx context.Context) error
	ReadyTimeout time.Duration
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Stats is a snapshot for the status API.
type Stats struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	PID       int    `json:"pid,omitempty"`
	Restarts  int    `json:"restarts"`
	UptimeSec int64  `json:"uptime_seconds,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Supervisor keeps one child process alive.
//
// Thread Safety: all methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	exited    chan struct{}
	startedAt time.Time
	restarts  int
	lastErr   error
	stopping  bool
	cancel    context.CancelFunc
	watchDone chan struct{}
}

// New validates cfg and applies defaults. The process is not started.
//
// Returns:
//   - *Supervisor: Idle supervisor
//   - error: ErrNoBinary when no binary is configured
func New(cfg Config, logger Logger) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, ErrNoBinary
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(defaultMaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = defaultStableAfter
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Supervisor{cfg: cfg, logger: logger, state: StateStopped}, nil
}

// Start launches the process, waits for it to become ready and begins
// supervising it in the background.
//
// Parameters:
//   - ctx: Bounds the whole supervision; cancelling it stops restarts
//
// Returns:
//   - error: If the process cannot be launched or never becomes ready
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped && s.state != StateGaveUp {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.cfg.Name)
	}
	s.state = StateStarting
	s.stopping = false
	s.restarts = 0
	s.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)

	if err := s.launch(); err != nil {
		cancel()
		s.setFailed(StateStopped, err)
		return err
	}
	if err := s.waitReady(watchCtx); err != nil {
		cancel()
		s.Stop() //nolint:errcheck // already failing
		s.setFailed(StateStopped, err)
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.watchDone = done
	s.mu.Unlock()

	go s.watch(watchCtx, done)
	return nil
}

// launch execs the binary in its own process group.
func (s *Supervisor) launch() error {
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...) //nolint:gosec // operator-configured binary
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	exited := make(chan struct{})
	var streams sync.WaitGroup
	streams.Add(2)
	go s.forward("stdout", stdout, &streams)
	go s.forward("stderr", stderr, &streams)
	go func() {
		// Wait closes the pipes, so drain them first.
		streams.Wait()
		err := cmd.Wait()
		s.mu.Lock()
		if !s.stopping {
			s.lastErr = exitError(err)
		}
		s.mu.Unlock()
		close(exited)
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.startedAt = time.Now()
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("daemon started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return nil
}

// forward copies the child's output into the log line by line.
func (s *Supervisor) forward(stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debug("daemon output", "name", s.cfg.Name, "stream", stream, "line", scanner.Text())
	}
}

// waitReady polls the ready check until it passes, the process exits or
// ReadyTimeout elapses.
func (s *Supervisor) waitReady(ctx context.Context) error {
	if s.cfg.ReadyCheck == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = s.cfg.ReadyCheck(ctx); lastErr == nil {
			s.logger.Info("daemon ready", "name", s.cfg.Name)
			return nil
		}
		select {
		case <-exited:
			return fmt.Errorf("%w: %s exited: %w", ErrNotReady, s.cfg.Name, s.LastError())
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrNotReady, s.cfg.Name, lastErr)
		case <-ticker.C:
		}
	}
}

// watch restarts the process whenever it exits unexpectedly.
func (s *Supervisor) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := s.cfg.RestartDelay
	consecutive := 0

	for {
		s.mu.Lock()
		exited := s.exited
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-exited:
		}

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		ranFor := time.Since(s.startedAt)
		lastErr := s.lastErr
		s.mu.Unlock()

		if ranFor >= s.cfg.StableAfter {
			delay = s.cfg.RestartDelay
			consecutive = 0
		}
		consecutive++

		if s.cfg.MaxRestarts > 0 && consecutive > s.cfg.MaxRestarts {
			s.logger.Error("daemon keeps crashing, giving up",
				"name", s.cfg.Name,
				"restarts", consecutive-1,
				"error", lastErr,
			)
			s.setState(StateGaveUp)
			return
		}

		s.logger.Warn("daemon exited, restarting",
			"name", s.cfg.Name,
			"error", lastErr,
			"ran_for", ranFor.Round(time.Millisecond),
			"delay", delay,
		)
		s.setState(StateBackoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxRestartDelay)

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		s.restarts++
		s.mu.Unlock()

		if err := s.launch(); err != nil {
			s.logger.Error("daemon restart failed", "name", s.cfg.Name, "error", err)
			s.setFailed(StateBackoff, err)
			// Treat a failed exec like an immediate crash.
			s.mu.Lock()
			s.exited = closedChan()
			s.startedAt = time.Now()
			s.mu.Unlock()
		}
	}
}

// Stop terminates the process group: SIGTERM, then SIGKILL after StopTimeout.
// It is safe to call on a stopped supervisor.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.stopping = true
	cancel := s.cancel
	watchDone := s.watchDone
	s.cancel = nil
	s.watchDone = nil
	s.mu.Unlock()

	// The watcher may be mid-restart; let it finish before picking the
	// process to signal.
	if cancel != nil {
		cancel()
		<-watchDone
	}

	s.mu.Lock()
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil || exited == nil {
		s.setState(StateStopped)
		return nil
	}

	select {
	case <-exited:
		s.setState(StateStopped)
		return nil
	default:
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping daemon", "name", s.cfg.Name, "pid", pid)
	signalGroup(pid, syscall.SIGTERM)

	select {
	case <-exited:
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("daemon ignored SIGTERM, killing", "name", s.cfg.Name, "timeout", s.cfg.StopTimeout)
		if err := signalGroup(pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("killing %s: %w", s.cfg.Name, err)
		}
		<-exited
	}

	s.setState(StateStopped)
	s.logger.Info("daemon stopped", "name", s.cfg.Name)
	return nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns why the process last exited unexpectedly.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns a snapshot of the supervised process.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Name:     s.cfg.Name,
		State:    s.state,
		Restarts: s.restarts,
	}
	if s.state == StateRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.UptimeSec = int64(time.Since(s.startedAt).Seconds())
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// HealthCheck reports an error unless the process is running.
func (s *Supervisor) HealthCheck(_ context.Context) error {
	if st := s.State(); st != StateRunning {
		return fmt.Errorf("daemon %s is %s", s.cfg.Name, st)
	}
	return nil
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) setFailed(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.lastErr = err
	s.mu.Unlock()
}

// signalGroup signals the whole process group created by Setpgid.
// A group that is already gone is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// exitError normalises cmd.Wait's result; a clean exit of a daemon is
// still unexpected.
func exitError(err error) error {
	if err == nil {
		return errors.New("exited with status 0")
	}
	return err
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
