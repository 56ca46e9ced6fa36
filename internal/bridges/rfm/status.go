package rfm

import "time"

// Status is a point-in-time view of the gateway for the status API.
type Status struct {
	NodeID          int       `json:"node_id"`
	Version         string    `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	UptimeMinutes   int64     `json:"uptime_minutes"`
	PowerOut        bool      `json:"power_out"`
	LinkUp          bool      `json:"link_up"`
	PendingDispatch bool      `json:"pending_dispatch"`
	PendingTarget   int       `json:"pending_target,omitempty"`
	Counters        Counters  `json:"counters"`
}

// Counters are cumulative since start.
type Counters struct {
	UplinkPackets    uint64 `json:"uplink_packets"`
	DroppedPackets   uint64 `json:"dropped_packets"`
	DownlinkMessages uint64 `json:"downlink_messages"`
	DownlinkErrors   uint64 `json:"downlink_errors"`
	Delivered        uint64 `json:"delivered"`
	Lost             uint64 `json:"lost"`
	SlotOverwrites   uint64 `json:"slot_overwrites"`
	InboundDropped   uint64 `json:"inbound_dropped"`
	LinkRestores     uint64 `json:"link_restores"`
}

// Status returns a snapshot. Safe for concurrent use with Run.
func (g *Gateway) Status() Status {
	s := Status{
		NodeID:          g.id,
		Version:         g.version,
		StartedAt:       g.state.startedAt.Load(),
		UptimeMinutes:   g.state.uptimeMinutes.Load(),
		PowerOut:        g.state.powerOut.Load(),
		LinkUp:          g.state.linkUp.Load(),
		PendingDispatch: g.state.pending.Load(),
		Counters: Counters{
			UplinkPackets:    g.counters.uplinkPackets.Load(),
			DroppedPackets:   g.counters.droppedPackets.Load(),
			DownlinkMessages: g.counters.downlinkMessages.Load(),
			DownlinkErrors:   g.counters.downlinkErrors.Load(),
			Delivered:        g.counters.delivered.Load(),
			Lost:             g.counters.lost.Load(),
			SlotOverwrites:   g.counters.overwrites.Load(),
			InboundDropped:   g.counters.inboundDropped.Load(),
			LinkRestores:     g.counters.reconnects.Load(),
		},
	}
	if s.PendingDispatch {
		s.PendingTarget = int(g.state.pendingTarget.Load())
	}
	return s
}
