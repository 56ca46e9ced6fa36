package rfm

// Direction is the travel direction of a message relative to the gateway.
type Direction int

const (
	// Southbound messages travel from the bus toward the radio network.
	Southbound Direction = iota
	// Northbound messages travel from the radio network toward the bus.
	Northbound
)

// String returns the topic segment for the direction.
func (d Direction) String() string {
	if d == Northbound {
		return "nb"
	}
	return "sb"
}

// Command is the cmd field of a radio record.
type Command int16

const (
	CmdWrite Command = 0
	CmdRead  Command = 1
)

// Class is the payload interpretation selected by device id and direction.
type Class int

const (
	ClassInvalid Class = iota
	ClassInteger
	ClassReal
	ClassStatus
	ClassString
	ClassSpecial
)

func (c Class) String() string {
	switch c {
	case ClassInteger:
		return "integer"
	case ClassReal:
		return "real"
	case ClassStatus:
		return "status"
	case ClassString:
		return "string"
	case ClassSpecial:
		return "special"
	default:
		return "invalid"
	}
}

// Special identifies which override produced a ClassSpecial result.
type Special int

const (
	SpecialNone Special = iota
	SpecialSignalStrength
	SpecialInvalidDevice
	SpecialWakeup
)

// DeviceClass is the result of classification. It is derived per message
// and never stored.
type DeviceClass struct {
	Class   Class
	Special Special

	// ReadOnly marks southbound binary inputs (40-47), which only accept "READ".
	ReadOnly bool
}

// Well-known device ids.
const (
	DeviceUptime        = 0
	DeviceSignal        = 2
	DeviceVersion       = 3
	DeviceRestart       = 10
	DevicePower         = 30
	DeviceString        = 72
	DeviceRadioLost     = 90
	DeviceSyntaxError   = 91
	DeviceInvalidDevice = 92
	DeviceWakeup        = 99
)

type matcher func(id int) bool

func oneOf(ids ...int) matcher {
	return func(id int) bool {
		for _, v := range ids {
			if id == v {
				return true
			}
		}
		return false
	}
}

// span matches the half-open range [lo, hi).
func span(lo, hi int) matcher {
	return func(id int) bool { return id >= lo && id < hi }
}

func either(ms ...matcher) matcher {
	return func(id int) bool {
		for _, m := range ms {
			if m(id) {
				return true
			}
		}
		return false
	}
}

type classRule struct {
	match matcher
	class DeviceClass
}

// northboundRules is evaluated in order, first match wins.
var northboundRules = []classRule{
	{either(oneOf(0, 1, 7, 9), span(64, 72)), DeviceClass{Class: ClassInteger}},
	{either(oneOf(4), span(48, 64)), DeviceClass{Class: ClassReal}},
	{either(oneOf(5, 6, 8, 10), span(16, 32), span(40, 48)), DeviceClass{Class: ClassStatus}},
	{oneOf(3, 72), DeviceClass{Class: ClassString}},
}

// northboundOverrides replace the base class for diagnostic device ids.
// They are applied after northboundRules.
var northboundOverrides = map[int]Special{
	DeviceSignal:        SpecialSignalStrength,
	DeviceInvalidDevice: SpecialInvalidDevice,
	DeviceWakeup:        SpecialWakeup,
}

// southboundRule with readCmd set only applies to read commands.
type southboundRule struct {
	match   matcher
	readCmd bool
	class   DeviceClass
}

// southboundRules is evaluated in priority order. The binary input rule
// must stay ahead of the read rule: both match 40-47 and they produce
// different error codes for non-READ payloads.
var southboundRules = []southboundRule{
	{match: either(oneOf(5, 6, 8, 10), span(16, 32)), class: DeviceClass{Class: ClassStatus}},
	{match: span(40, 48), class: DeviceClass{Class: ClassStatus, ReadOnly: true}},
	{match: either(oneOf(0, 2, 3, 4), span(40, 72)), readCmd: true, class: DeviceClass{Class: ClassReal}},
	{match: either(oneOf(1, 7, 9), span(32, 40)), class: DeviceClass{Class: ClassInteger}},
	{match: oneOf(DeviceString), class: DeviceClass{Class: ClassString}},
}

// Classify maps a device id to its payload class for the given direction.
//
// The two directions use separate tables. They disagree on purpose for
// some ids (0, 2, 3 and 4 are plain values northbound but only readable
// southbound) and must not be merged.
//
// Parameters:
//   - deviceID: Device id from the topic or radio record
//   - dir: Northbound for radio packets, Southbound for bus messages
//   - cmd: Command of the message; only southbound rules look at it
//
// Returns:
//   - DeviceClass: ClassInvalid when no rule matches
func Classify(deviceID int, dir Direction, cmd Command) DeviceClass {
	if dir == Northbound {
		return classifyNorthbound(deviceID)
	}
	return classifySouthbound(deviceID, cmd)
}

func classifyNorthbound(deviceID int) DeviceClass {
	class := DeviceClass{Class: ClassInvalid}
	for _, r := range northboundRules {
		if r.match(deviceID) {
			class = r.class
			break
		}
	}
	if special, ok := northboundOverrides[deviceID]; ok {
		class = DeviceClass{Class: ClassSpecial, Special: special}
	}
	return class
}

func classifySouthbound(deviceID int, cmd Command) DeviceClass {
	for _, r := range southboundRules {
		if r.readCmd && cmd != CmdRead {
			continue
		}
		if r.match(deviceID) {
			return r.class
		}
	}
	return DeviceClass{Class: ClassInvalid}
}
