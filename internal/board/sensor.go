package board

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileSensor reads an integer from a sysfs or IIO attribute file such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type FileSensor struct {
	path string
}

// NewFileSensor returns a sensor for path, or nil when path is empty.
func NewFileSensor(path string) *FileSensor {
	if path == "" {
		return nil
	}
	return &FileSensor{path: path}
}

// Path returns the attribute file.
func (s *FileSensor) Path() string {
	return s.path
}

// Read returns the current raw reading.
//
// Returns:
//   - int: Raw ADC value
//   - error: ErrSensorRead if the file cannot be read or holds no integer
func (s *FileSensor) Read() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSensorRead, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSensorRead, s.path, err)
	}
	return v, nil
}
