package rfm

import (
	"context"
	"fmt"
	"time"
)

// Delivery retry policy. The loop stalls for at most
// deliveryAttempts sends plus four retry delays: 2 s of delays plus five
// radio send timeouts (400 ms each with two link-level retries), 4 s in all.
const (
	deliveryAttempts   = 5
	deliveryRetryDelay = 500 * time.Millisecond
)

// DeliveryOutcome reports how a dispatch ended.
type DeliveryOutcome struct {
	Target    int
	Attempts  int
	Delivered bool

	// ResponseNeeded is the request's flag after delivery finished. It is
	// false for every completed delivery, successful or not.
	ResponseNeeded bool

	// Diagnostic is the device 90 notice published after the last failure.
	Diagnostic *Publication
}

// DeliveryManager owns the single dispatch slot and sends its record
// over the radio with bounded retries.
//
// It is not safe for concurrent use; only the control loop touches it.
type DeliveryManager struct {
	gatewayID  int
	transport  Transport
	clock      Clock
	publisher  func(Publication)
	indicators Indicators
	metrics    Recorder

	// radioRetries is passed to every transport send as its own
	// link-level retry budget.
	radioRetries int

	pending *DispatchRequest
}

// Submit places req in the slot. A request that is still pending is
// replaced; the return value reports whether that happened.
func (d *DeliveryManager) Submit(req DispatchRequest) (replaced *DispatchRequest) {
	replaced = d.pending
	d.pending = &req
	return replaced
}

// Pending returns a copy of the request in the slot.
func (d *DeliveryManager) Pending() (DispatchRequest, bool) {
	if d.pending == nil {
		return DispatchRequest{}, false
	}
	return *d.pending, true
}

// Deliver sends the pending record, if any.
//
// Up to five sends are attempted with 500ms between failures. The first
// success pulses the activity indicator. After five failures a "radio lost
// node N" diagnostic is published on the gateway's device 90. Either way
// the slot is empty when Deliver returns.
//
// Returns:
//   - DeliveryOutcome: Result of the delivery
//   - bool: false if nothing was pending
func (d *DeliveryManager) Deliver(ctx context.Context) (DeliveryOutcome, bool) {
	req := d.pending
	if req == nil {
		return DeliveryOutcome{}, false
	}
	defer func() { d.pending = nil }()

	out := DeliveryOutcome{Target: req.Target}
	data := req.Message.Encode()

	for out.Attempts < deliveryAttempts {
		out.Attempts++
		d.metrics.DispatchAttempt()

		if d.transport.Send(req.Target, data, d.radioRetries) {
			req.ResponseNeeded = false
			out.Delivered = true
			d.indicators.Activity()
			break
		}

		if out.Attempts < deliveryAttempts {
			if err := d.clock.Sleep(ctx, deliveryRetryDelay); err != nil {
				// Shutdown. The record is abandoned without a diagnostic.
				out.ResponseNeeded = req.ResponseNeeded
				d.metrics.DispatchOutcome(false)
				return out, true
			}
		}
	}

	if req.ResponseNeeded {
		out.Diagnostic = &Publication{
			Topic: EncodeNorthbound(d.gatewayID, DeviceRadioLost),
			Text:  fmt.Sprintf("radio lost node %d", req.Target),
		}
		d.publisher(*out.Diagnostic)
		req.ResponseNeeded = false
	}
	out.ResponseNeeded = req.ResponseNeeded

	d.metrics.DispatchOutcome(out.Delivered)
	return out, true
}
