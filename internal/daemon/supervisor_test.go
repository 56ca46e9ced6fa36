package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprint(append([]any{msg}, args...)...))
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record(msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record(msg, args) }

func (l *recordingLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func shell(script string) Config {
	return Config{Name: "test", Binary: "/bin/sh", Args: []string{"-c", script}}
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(Config{Binary: "/usr/sbin/rfmd"}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if s.cfg.Name != "/usr/sbin/rfmd" {
		t.Errorf("Name = %q, want binary path", s.cfg.Name)
	}
	if s.cfg.RestartDelay != defaultRestartDelay {
		t.Errorf("RestartDelay = %v, want %v", s.cfg.RestartDelay, defaultRestartDelay)
	}
	if s.cfg.MaxRestartDelay != defaultMaxRestartDelay {
		t.Errorf("MaxRestartDelay = %v, want %v", s.cfg.MaxRestartDelay, defaultMaxRestartDelay)
	}
	if s.cfg.StopTimeout != defaultStopTimeout {
		t.Errorf("StopTimeout = %v, want %v", s.cfg.StopTimeout, defaultStopTimeout)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %q, want %q", s.State(), StateStopped)
	}
}

func TestNew_NoBinary(t *testing.T) {
	if _, err := New(Config{Name: "rfmd"}, nil); !errors.Is(err, ErrNoBinary) {
		t.Errorf("New() error = %v, want ErrNoBinary", err)
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	s, err := New(shell("sleep 30"), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	stats := s.Stats()
	if stats.State != StateRunning {
		t.Errorf("State = %q, want running", stats.State)
	}
	if stats.PID == 0 {
		t.Error("PID = 0 while running")
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil", err)
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() after Stop = %q, want stopped", s.State())
	}
	if s.HealthCheck(context.Background()) == nil {
		t.Error("HealthCheck() after Stop should fail")
	}
	if s.LastError() != nil {
		t.Errorf("LastError() = %v, want nil after a requested stop", s.LastError())
	}

	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

func TestSupervisor_StartMissingBinary(t *testing.T) {
	s, err := New(Config{Binary: "/nonexistent/rfmd"}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %q, want stopped", s.State())
	}
}

func TestSupervisor_RestartsThenGivesUp(t *testing.T) {
	cfg := shell("exit 1")
	cfg.RestartDelay = 10 * time.Millisecond
	cfg.MaxRestartDelay = 20 * time.Millisecond
	cfg.MaxRestarts = 2
	logger := &recordingLogger{}

	s, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitFor(t, "gave_up state", func() bool { return s.State() == StateGaveUp })

	stats := s.Stats()
	if stats.Restarts != 2 {
		t.Errorf("Restarts = %d, want 2", stats.Restarts)
	}
	if stats.LastError == "" {
		t.Error("LastError empty after crashes")
	}
	if !logger.contains("giving up") {
		t.Error("no give-up log record")
	}
}

func TestSupervisor_RestartAfterCrash(t *testing.T) {
	// The first instance crashes, later instances stay up.
	marker := t.TempDir() + "/started"
	cfg := shell("if [ -f " + marker + " ]; then sleep 30; else touch " + marker + "; exit 2; fi")
	cfg.RestartDelay = 10 * time.Millisecond

	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitFor(t, "one restart", func() bool {
		st := s.Stats()
		return st.Restarts == 1 && st.State == StateRunning
	})
}

func TestSupervisor_ReadyCheck(t *testing.T) {
	var calls atomic.Int32
	cfg := shell("sleep 30")
	cfg.ReadyCheck = func(context.Context) error {
		if calls.Inc() < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	if got := calls.Load(); got != 3 {
		t.Errorf("ready check calls = %d, want 3", got)
	}
}

func TestSupervisor_NeverReady(t *testing.T) {
	cfg := shell("sleep 30")
	cfg.ReadyTimeout = 200 * time.Millisecond
	cfg.ReadyCheck = func(context.Context) error { return errors.New("connection refused") }

	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	start := time.Now()
	err = s.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Start() took %v, ready timeout not honoured", time.Since(start))
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %q, want stopped", s.State())
	}
}

func TestSupervisor_ExitBeforeReady(t *testing.T) {
	cfg := shell("exit 3")
	cfg.ReadyCheck = func(context.Context) error { return errors.New("connection refused") }

	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Start() error = %v, want ErrNotReady", err)
	}
}

func TestSupervisor_StopEscalatesToKill(t *testing.T) {
	cfg := shell(`trap "" TERM; sleep 30`)
	cfg.StopTimeout = 100 * time.Millisecond
	logger := &recordingLogger{}

	s, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	// Give the shell time to install the trap.
	time.Sleep(100 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if !logger.contains("killing") {
		t.Error("Stop() did not escalate to SIGKILL")
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %q, want stopped", s.State())
	}
}

func TestSupervisor_ForwardsOutput(t *testing.T) {
	logger := &recordingLogger{}
	s, err := New(shell("echo radio online; sleep 30"), logger)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitFor(t, "forwarded output", func() bool { return logger.contains("radio online") })
}

func TestSupervisor_ContextCancelStopsRestarts(t *testing.T) {
	cfg := shell("exit 1")
	cfg.RestartDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, "backoff state", func() bool { return s.State() == StateBackoff })
	cancel()

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked after context cancel")
	}
}
