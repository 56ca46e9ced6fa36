package board

import "errors"

// Domain errors for the board package.
var (
	// ErrSensorRead is returned when the analog input cannot be read or parsed.
	ErrSensorRead = errors.New("board: sensor read failed")

	// ErrNoWatchdog is returned by Restart when no watchdog device is configured.
	ErrNoWatchdog = errors.New("board: no watchdog device configured")

	// ErrWatchdog is returned when the watchdog device cannot be armed.
	ErrWatchdog = errors.New("board: watchdog arm failed")
)
