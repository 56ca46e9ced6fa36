// Package rfm bridges an MQTT bus and an RFM69 radio network.
//
// The gateway owns one radio node id on a point-to-point packet network.
// Home automation software talks to remote nodes over MQTT using a fixed
// topic contract:
//
//	home/rfm_gw/sb/node{NN}/dev{NN}   southbound, bus to radio
//	home/rfm_gw/nb/node{NN}/dev{NN}   northbound, radio to bus
//
// Payloads on the bus are short plain-text values ("ON", "OFF", "READ",
// "21.50", ...). Payloads on the radio are a fixed 46 byte record, see
// Message.
//
// # Device ids
//
// The device id selects how a value is interpreted:
//
//	 0-15  system (0 uptime, 2 signal strength, 3 version, 10 restart, 30 power)
//	16-31  binary output      ON / OFF / READ
//	32-39  integer output     decimal text
//	40-47  binary input       READ only
//	48-63  real input         READ only
//	64-71  integer input      READ only
//	   72  string             up to 31 bytes of text
//	   90  radio lost node    gateway diagnostic
//	   91  syntax error       gateway diagnostic
//	   92  invalid device     node diagnostic
//	   99  wakeup             node boot notice
//
// # Control loop
//
// Everything runs on one goroutine (Gateway.Run). Each tick polls the
// monitors, translates queued bus messages, delivers the pending radio
// dispatch, translates one received radio packet and checks the bus link.
// Delivery retries and bus reconnects block the loop while they run.
//
// There is a single dispatch slot. A second southbound command that
// arrives before the first has been delivered replaces it; the
// replacement is logged and counted but never queued.
package rfm
