package rfm

import (
	"time"
)

// Monitor defaults.
const (
	DefaultPowerThreshold = 620
	DefaultPowerInterval  = 100 * time.Millisecond

	uptimeStep = time.Minute
)

// PowerMonitor samples the mains-sense input and reports changes on the
// gateway's device 30.
//
// A reading below the threshold means mains power is out, published as
// "ON". The monitor starts in the power-present state, so nothing is
// published at start-up unless the first sample says otherwise.
type PowerMonitor struct {
	sensor    PowerSensor
	threshold int
	interval  time.Duration
	topic     string
	publish   func(Publication)
	metrics   Recorder
	logger    Logger

	lastSample time.Time
	sampled    bool
	powerOut   bool
}

// PowerOut reports the last sampled state.
func (p *PowerMonitor) PowerOut() bool {
	return p.powerOut
}

// Tick samples the sensor if the interval has elapsed since the last
// sample. It reports whether the state changed.
func (p *PowerMonitor) Tick(now time.Time) bool {
	if p.sensor == nil {
		return false
	}
	if p.sampled && now.Sub(p.lastSample) < p.interval {
		return false
	}
	p.lastSample = now
	p.sampled = true

	reading, err := p.sensor.Read()
	if err != nil {
		p.logger.Warn("power sensor read failed", "error", err)
		return false
	}

	out := reading < p.threshold
	if out == p.powerOut {
		return false
	}
	p.powerOut = out
	p.metrics.PowerState(out)

	if out {
		p.logger.Warn("mains power lost", "reading", reading, "threshold", p.threshold)
	} else {
		p.logger.Info("mains power restored", "reading", reading)
	}
	p.publish(Publication{Topic: p.topic, Text: onOff(out)})
	return true
}

// UptimeClock counts whole minutes since start.
type UptimeClock struct {
	marker  time.Time
	minutes int64
}

// NewUptimeClock starts counting at start.
func NewUptimeClock(start time.Time) *UptimeClock {
	return &UptimeClock{marker: start}
}

// Tick advances the counter once for every full minute elapsed since the
// last increment. The marker moves by whole minutes so no time is lost.
func (u *UptimeClock) Tick(now time.Time) int64 {
	for now.Sub(u.marker) >= uptimeStep {
		u.marker = u.marker.Add(uptimeStep)
		u.minutes++
	}
	return u.minutes
}

// Minutes returns the current count.
func (u *UptimeClock) Minutes() int64 {
	return u.minutes
}
