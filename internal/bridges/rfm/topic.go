package rfm

import "fmt"

// TopicRoot is the fixed root of every gateway topic.
const TopicRoot = "home/rfm_gw"

// Southbound topics are parsed at fixed offsets:
//
//	home/rfm_gw/sb/node05/dev16
//	0         1         2
//	012345678901234567890123456
const (
	southboundPrefix   = TopicRoot + "/sb/node"
	southboundTopicLen = 27
	nodeOffset         = 19
	devSepOffset       = 21
	deviceOffset       = 25
	devSep             = "/dev"
)

// Topic addresses one device on one radio node.
type Topic struct {
	Direction Direction
	Node      int
	Device    int
}

// String renders the canonical topic, e.g. home/rfm_gw/nb/node05/dev48.
func (t Topic) String() string {
	return fmt.Sprintf("%s/%s/node%02d/dev%02d", TopicRoot, t.Direction, t.Node, t.Device)
}

// DecodeSouthbound parses a southbound topic.
//
// The topic must be exactly 27 characters; the length is checked before
// any field is read. Node and device must be two ASCII digits each and
// the node must not be 00.
//
// Returns:
//   - Topic: Parsed topic with Direction Southbound
//   - error: ErrMalformedTopic on any violation
func DecodeSouthbound(topic string) (Topic, error) {
	if len(topic) != southboundTopicLen {
		return Topic{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedTopic, len(topic), southboundTopicLen)
	}
	if topic[:nodeOffset] != southboundPrefix {
		return Topic{}, fmt.Errorf("%w: %q does not start with %s", ErrMalformedTopic, topic, southboundPrefix)
	}
	if topic[devSepOffset:deviceOffset] != devSep {
		return Topic{}, fmt.Errorf("%w: %q has no %s separator", ErrMalformedTopic, topic, devSep)
	}

	node, ok := twoDigits(topic[nodeOffset:devSepOffset])
	if !ok || node == 0 {
		return Topic{}, fmt.Errorf("%w: bad node field in %q", ErrMalformedTopic, topic)
	}
	device, ok := twoDigits(topic[deviceOffset:])
	if !ok {
		return Topic{}, fmt.Errorf("%w: bad device field in %q", ErrMalformedTopic, topic)
	}

	return Topic{Direction: Southbound, Node: node, Device: device}, nil
}

// Addressable ranges of the two-digit topic fields.
const (
	minTopicNode   = 1
	maxTopicField  = 99
	minTopicDevice = 0
)

// Addressable reports whether node and device fit the two-digit topic
// fields. Topics for anything else would break the fixed width.
func Addressable(node, device int) bool {
	return node >= minTopicNode && node <= maxTopicField &&
		device >= minTopicDevice && device <= maxTopicField
}

// EncodeNorthbound renders the northbound topic for a node's device.
func EncodeNorthbound(node, device int) string {
	return Topic{Direction: Northbound, Node: node, Device: device}.String()
}

// SouthboundWildcard is the single subscription the gateway holds.
func SouthboundWildcard() string {
	return TopicRoot + "/sb/#"
}

func twoDigits(s string) (int, bool) {
	if len(s) != 2 {
		return 0, false
	}
	hi, lo := s[0], s[1]
	if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
		return 0, false
	}
	return int(hi-'0')*10 + int(lo-'0'), true
}
