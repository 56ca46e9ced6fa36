// Package board drives the gateway's on-board hardware through sysfs-style
// files: LED brightness files for the activity and link indicators, an IIO
// analog input for mains sensing, and the hardware watchdog device used to
// force a restart.
//
// Every path is optional. A missing path turns the feature into a logged
// no-op, which is how the gateway runs on a development machine.
//
// Typical wiring:
//
//	leds := board.NewIndicators(board.IndicatorConfig{
//	    ActivityLED: cfg.Board.ActivityLED,
//	    StatusLED:   cfg.Board.StatusLED,
//	}, log)
//	defer leds.Close()
//
//	sensor := board.NewFileSensor(cfg.Board.PowerSensor)
package board
