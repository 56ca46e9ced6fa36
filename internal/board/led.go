package board

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// defaultPulse is how long the activity LED stays lit per pulse.
const defaultPulse = 50 * time.Millisecond

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// LED is a sysfs LED brightness file. The zero value is a no-op LED.
type LED struct {
	path string
}

// NewLED returns the LED behind a brightness file.
func NewLED(path string) LED {
	return LED{path: path}
}

// Set switches the LED.
func (l LED) Set(on bool) error {
	if l.path == "" {
		return nil
	}
	value := []byte("0")
	if on {
		value = []byte("1")
	}
	if err := os.WriteFile(l.path, value, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", l.path, err)
	}
	return nil
}

// IndicatorConfig locates the indicator LEDs.
type IndicatorConfig struct {
	ActivityLED string
	StatusLED   string

	// Pulse is the activity flash length. Default: 50ms.
	Pulse time.Duration
}

// Indicators drives the activity and link status LEDs.
//
// Thread Safety: all methods are safe for concurrent use. Neither method
// blocks on anything but a small file write.
type Indicators struct {
	activity LED
	status   LED
	pulse    time.Duration
	logger   Logger

	mu     sync.Mutex
	timer  *time.Timer
	linkUp bool
	known  bool
}

// NewIndicators builds the indicator driver.
func NewIndicators(cfg IndicatorConfig, logger Logger) *Indicators {
	if cfg.Pulse <= 0 {
		cfg.Pulse = defaultPulse
	}
	return &Indicators{
		activity: NewLED(cfg.ActivityLED),
		status:   NewLED(cfg.StatusLED),
		pulse:    cfg.Pulse,
		logger:   logger,
	}
}

// Activity flashes the activity LED. A pulse during a pulse extends it.
func (i *Indicators) Activity() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.timer != nil && i.timer.Stop() {
		i.timer.Reset(i.pulse)
		return
	}

	if err := i.activity.Set(true); err != nil {
		i.warn("activity LED", err)
		return
	}
	i.timer = time.AfterFunc(i.pulse, func() {
		if err := i.activity.Set(false); err != nil {
			i.warn("activity LED", err)
		}
	})
}

// LinkStatus shows the bus link state on the status LED.
func (i *Indicators) LinkStatus(up bool) {
	i.mu.Lock()
	changed := !i.known || i.linkUp != up
	i.linkUp = up
	i.known = true
	i.mu.Unlock()

	if err := i.status.Set(up); err != nil {
		i.warn("status LED", err)
	}
	if changed && i.logger != nil {
		i.logger.Info("link indicator", "up", up)
	}
}

// Close stops a pending pulse and switches both LEDs off.
func (i *Indicators) Close() error {
	i.mu.Lock()
	if i.timer != nil {
		i.timer.Stop()
	}
	i.mu.Unlock()

	errA := i.activity.Set(false)
	errS := i.status.Set(false)
	if errA != nil {
		return errA
	}
	return errS
}

func (i *Indicators) warn(what string, err error) {
	if i.logger != nil {
		i.logger.Warn("indicator write failed", "led", what, "error", err)
	}
}
