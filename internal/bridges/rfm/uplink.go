package rfm

import (
	"errors"
	"fmt"
	"strconv"
)

// Publication is one northbound bus message.
type Publication struct {
	Topic string
	Text  string
}

// FormatUplink renders a decoded radio record as its bus publication.
//
// The topic always uses the transport-level sender id; the "NODE n" text
// of diagnostics uses the node id carried in the record. A status value
// other than 0 or 1 and an unclassifiable device both produce empty text,
// but a publication is still returned.
//
// Parameters:
//   - msg: Decoded radio record
//   - sender: Radio node id reported by the transport
//   - rssi: Signal strength of the packet, used for device 2
//
// Returns:
//   - Publication: Topic and text to publish
//   - DeviceClass: Northbound classification of the record
func FormatUplink(msg Message, sender, rssi int) (Publication, DeviceClass) {
	device := int(msg.DeviceID)
	class := Classify(device, Northbound, msg.Cmd)

	var text string
	switch class.Class {
	case ClassInteger:
		text = strconv.FormatInt(int64(msg.IntVal), 10)
	case ClassReal:
		text = formatReal(msg.FltVal)
	case ClassStatus:
		switch msg.IntVal {
		case 1:
			text = "ON"
		case 0:
			text = "OFF"
		}
	case ClassString:
		text = msg.Payload.Text()
	case ClassSpecial:
		switch class.Special {
		case SpecialSignalStrength:
			text = strconv.Itoa(rssi)
		case SpecialInvalidDevice:
			text = fmt.Sprintf("NODE %d invalid device %d", msg.NodeID, msg.IntVal)
		case SpecialWakeup:
			text = wakeupText(int(msg.NodeID))
		}
	}

	return Publication{Topic: EncodeNorthbound(sender, device), Text: text}, class
}

// formatReal renders two decimals without exponent or padding.
func formatReal(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 2, 32)
}

func wakeupText(node int) string {
	return fmt.Sprintf("NODE %d WAKEUP", node)
}

// OfflineText is the last-will payload announcing that node dropped off
// the bus. It is published retained on the node's device 99.
func OfflineText(node int) string {
	return fmt.Sprintf("NODE %d OFFLINE", node)
}

// handleUplink processes one packet taken from the transport.
//
// A requested acknowledgement is sent first, before decoding, so the
// sender's short ack window is not spent on bus I/O. Packets of the wrong
// size, and records whose sender or device does not fit a two-digit topic
// field, are then dropped without any bus traffic.
func (g *Gateway) handleUplink(pkt Packet) {
	if pkt.AckRequested {
		g.transport.SendAck()
	}

	msg, err := DecodePacket(pkt.Data)
	if err != nil {
		if errors.Is(err, ErrPacketSize) {
			g.counters.droppedPackets.Inc()
			g.metrics.PacketDropped()
			g.logDebug("dropping radio packet", "sender", pkt.SenderID, "size", len(pkt.Data))
		}
		return
	}

	if !Addressable(pkt.SenderID, int(msg.DeviceID)) {
		g.counters.droppedPackets.Inc()
		g.metrics.PacketDropped()
		g.logDebug("dropping radio packet outside topic range", "sender", pkt.SenderID, "device", msg.DeviceID)
		return
	}

	pub, class := FormatUplink(msg, pkt.SenderID, pkt.RSSI)
	g.publish(pub)

	g.counters.uplinkPackets.Inc()
	g.metrics.UplinkPacket(class.Class.String())
	g.logDebug("uplink",
		"sender", pkt.SenderID,
		"device", msg.DeviceID,
		"class", class.Class.String(),
		"text", pub.Text,
		"rssi", pkt.RSSI)

	if class.Class == ClassSpecial && class.Special == SpecialSignalStrength {
		g.telemetry.WriteSignal(pkt.SenderID, pkt.RSSI)
	} else if class.Class != ClassSpecial && class.Class != ClassInvalid {
		g.telemetry.WriteReading(pkt.SenderID, int(msg.DeviceID), class.Class.String(), pub.Text)
	}
}
