package board

import (
	"fmt"
	"os"
)

// Restarter forces a board reset through the hardware watchdog.
//
// Opening the watchdog device arms it. Closing it without the magic 'V'
// character leaves it armed, so the board resets once the timeout
// expires and nobody is feeding it.
type Restarter struct {
	device string
	logger Logger
}

// NewRestarter returns a restarter for the watchdog device, usually
// /dev/watchdog. An empty device disables the hardware path.
func NewRestarter(device string, logger Logger) *Restarter {
	return &Restarter{device: device, logger: logger}
}

// Restart arms the watchdog and returns. The caller should exit promptly.
//
// Returns:
//   - error: ErrNoWatchdog without a device, ErrWatchdog if arming failed
func (r *Restarter) Restart() error {
	if r.device == "" {
		return ErrNoWatchdog
	}

	f, err := os.OpenFile(r.device, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatchdog, err)
	}
	// One keepalive so the full timeout applies from now.
	if _, err := f.Write([]byte{0}); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrWatchdog, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWatchdog, err)
	}

	if r.logger != nil {
		r.logger.Warn("watchdog armed, board will reset", "device", r.device)
	}
	return nil
}
