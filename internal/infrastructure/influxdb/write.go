package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	measurementReading = "rfm_reading"
	measurementSignal  = "rfm_signal"
)

// WriteReading records one translated uplink reading.
//
// Tags are the sender node, device id and device class. The published text
// is stored in the "text" field; when it parses as a number it is also
// stored as the float "value" field so dashboards can plot it.
//
// Parameters:
//   - node: Radio node that sent the packet
//   - device: Device id on that node
//   - class: Device class name (e.g. "real", "status")
//   - text: The exact text published on the bus
func (c *Client) WriteReading(node, device int, class, text string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(node, device, class, text, time.Now()))
}

// WriteSignal records the signal strength of the last packet from a node.
func (c *Client) WriteSignal(node, rssi int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(signalPoint(node, rssi, time.Now()))
}

func readingPoint(node, device int, class, text string, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"text": text,
	}
	switch class {
	case "status":
		// ON/OFF become 1/0 so binary channels can be graphed.
		switch text {
		case "ON":
			fields["value"] = 1.0
		case "OFF":
			fields["value"] = 0.0
		}
	default:
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			fields["value"] = v
		}
	}

	return write.NewPoint(
		measurementReading,
		map[string]string{
			"node":   strconv.Itoa(node),
			"device": strconv.Itoa(device),
			"class":  class,
		},
		fields,
		ts,
	)
}

func signalPoint(node, rssi int, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementSignal,
		map[string]string{
			"node": strconv.Itoa(node),
		},
		map[string]interface{}{
			"rssi": rssi,
		},
		ts,
	)
}
