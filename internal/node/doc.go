// Package node keeps the registry of radio nodes heard by the gateway.
//
// For every node it records when it was last heard and at what signal
// strength, and for every device the last value published northbound.
// Writes arrive from the control loop through the Telemetry-style
// WriteReading and WriteSignal methods, which only enqueue; a background
// writer persists them so the loop never waits on the disk.
package node
