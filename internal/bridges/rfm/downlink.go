package rfm

import (
	"fmt"
	"strconv"
)

// Southbound payload keywords.
const (
	payloadOn   = "ON"
	payloadOff  = "OFF"
	payloadRead = "READ"
)

// DispatchRequest is a radio record waiting for delivery to a remote node.
type DispatchRequest struct {
	Message Message
	Target  int

	// ResponseNeeded stays true until the transport confirms delivery.
	ResponseNeeded bool
}

// SelfState is the gateway state reported by its own self-devices.
type SelfState struct {
	UptimeMinutes int64
	PowerOut      bool
}

// DownlinkResult is everything a single southbound message produced.
// At most one of Dispatch and Reply is set.
type DownlinkResult struct {
	// Target is the node named in the topic, 0 when the topic was malformed.
	Target int

	Code ErrorCode

	// Dispatch is set when a record must be sent over the radio.
	Dispatch *DispatchRequest

	// Reply is set for self-devices that answer on the bus.
	Reply *Publication

	// Diagnostic is set when Code is not CodeOK.
	Diagnostic *Publication

	// Restart is set by self-device 10.
	Restart bool
}

// DownlinkTranslator turns southbound bus messages into radio records.
type DownlinkTranslator struct {
	GatewayID int
	Version   string
}

// Translate handles one southbound message.
//
// Processing order:
//  1. Decode the topic (failure: code 1)
//  2. Reject an empty payload (code 2)
//  3. Answer self-devices when the target is the gateway itself
//  4. Otherwise classify with the southbound rules and build a dispatch
//
// Any non-zero code yields exactly one diagnostic on the gateway's own
// device 91. Nothing in here touches the radio.
//
// Parameters:
//   - topic: Southbound topic as received
//   - payload: Raw payload bytes
//   - self: Current uptime and power state for self-device replies
//
// Returns:
//   - DownlinkResult: What the caller must publish, dispatch or trigger
func (d DownlinkTranslator) Translate(topic string, payload []byte, self SelfState) DownlinkResult {
	res := d.translate(topic, payload, self)
	if res.Code != CodeOK {
		res.Diagnostic = &Publication{
			Topic: EncodeNorthbound(d.GatewayID, DeviceSyntaxError),
			Text:  fmt.Sprintf("syntax error %d for node %d", res.Code, res.Target),
		}
	}
	return res
}

func (d DownlinkTranslator) translate(topic string, payload []byte, self SelfState) DownlinkResult {
	t, err := DecodeSouthbound(topic)
	if err != nil {
		return DownlinkResult{Code: CodeMalformedTopic}
	}

	res := DownlinkResult{Target: t.Node, Code: CodeUnknownDevice}
	if len(payload) == 0 {
		res.Code = CodeEmptyPayload
		return res
	}

	text := string(payload)
	msg := Message{
		NodeID:   int16(d.GatewayID), //nolint:gosec // validated 1-99
		DeviceID: int16(t.Device),
		Cmd:      CmdWrite,
	}
	if text == payloadRead {
		msg.Cmd = CmdRead
	}

	if t.Node == d.GatewayID {
		d.answerSelf(&res, t.Device, self)
		return res
	}

	dispatch := false
	class := Classify(t.Device, Southbound, msg.Cmd)
	switch class.Class {
	case ClassStatus:
		dispatch = d.statusValue(&msg, text, class.ReadOnly)
		if !dispatch {
			res.Code = CodeInvalidValue
		}
	case ClassReal:
		dispatch = true
	case ClassInteger:
		if msg.Cmd == CmdWrite {
			v, err := strconv.ParseInt(text, 10, 32)
			if err != nil {
				res.Code = CodeInvalidValue
				break
			}
			msg.IntVal = int32(v)
		}
		dispatch = true
	case ClassString:
		if msg.Cmd == CmdWrite {
			if err := msg.Payload.SetText(text); err != nil {
				res.Code = CodeInvalidValue
				break
			}
		}
		dispatch = true
	}

	if dispatch {
		if res.Code == CodeUnknownDevice {
			res.Code = CodeOK
		}
		res.Dispatch = &DispatchRequest{
			Message:        msg,
			Target:         t.Node,
			ResponseNeeded: true,
		}
	}
	return res
}

// statusValue maps ON/OFF/READ onto the record. Read-only devices accept
// READ alone. It reports whether the payload was acceptable.
func (d DownlinkTranslator) statusValue(msg *Message, text string, readOnly bool) bool {
	if text == payloadRead {
		return true
	}
	if readOnly {
		return false
	}
	switch text {
	case payloadOn:
		msg.IntVal = 1
		return true
	case payloadOff:
		msg.IntVal = 0
		return true
	}
	return false
}

// answerSelf handles devices addressed to the gateway's own node id.
// Unknown self-devices keep CodeUnknownDevice.
func (d DownlinkTranslator) answerSelf(res *DownlinkResult, device int, self SelfState) {
	reply := func(text string) {
		res.Reply = &Publication{Topic: EncodeNorthbound(d.GatewayID, device), Text: text}
		res.Code = CodeOK
	}

	switch device {
	case DeviceUptime:
		reply(strconv.FormatInt(self.UptimeMinutes, 10))
	case DeviceVersion:
		reply(d.Version)
	case DevicePower:
		reply(onOff(self.PowerOut))
	case DeviceRestart:
		res.Restart = true
		res.Code = CodeOK
	}
}

func onOff(v bool) string {
	if v {
		return payloadOn
	}
	return payloadOff
}
