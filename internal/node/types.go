package node

import "time"

// Node is the last known state of one radio node.
type Node struct {
	ID       int       `json:"id"`
	RSSI     *int      `json:"rssi,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	Readings []Reading `json:"readings"`
}

// Reading is the last value published for one device.
type Reading struct {
	Node      int       `json:"-"`
	Device    int       `json:"device"`
	Class     string    `json:"class"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Signal is one signal strength sample.
type Signal struct {
	Node int
	RSSI int
	At   time.Time
}
