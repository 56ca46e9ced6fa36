package rfm

import (
	"context"
	"time"
)

// DefaultReconnectInterval is the wait between failed bus reconnects.
const DefaultReconnectInterval = 2 * time.Second

// ConnectionState is the bus link state seen by the supervisor.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
)

func (s ConnectionState) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// ConnectionSupervisor keeps the bus link up.
//
// It is polled once per loop tick. When the link is down it blocks the
// loop, reconnecting at a fixed interval until the broker accepts, then
// subscribes to the southbound wildcard once and raises the link LED.
type ConnectionSupervisor struct {
	bus        Bus
	clock      Clock
	interval   time.Duration
	qos        byte
	handler    func(topic string, payload []byte)
	indicators Indicators
	metrics    Recorder
	logger     Logger

	state ConnectionState

	// onStateChange mirrors the state into the gateway's shared status.
	onStateChange func(ConnectionState)
}

// State returns the last state observed by Check.
func (s *ConnectionSupervisor) State() ConnectionState {
	return s.state
}

// Check polls the link and restores it if necessary.
//
// Returns:
//   - error: ctx.Err() if the context ended during the reconnect loop
func (s *ConnectionSupervisor) Check(ctx context.Context) error {
	if s.bus.IsConnected() {
		if s.state != StateConnected {
			// Connected without our involvement; the subscription is unknown.
			return s.restore(ctx)
		}
		return nil
	}
	return s.restore(ctx)
}

// restore runs the blocking reconnect loop.
func (s *ConnectionSupervisor) restore(ctx context.Context) error {
	if s.state == StateConnected {
		s.logger.Warn("bus link lost, reconnecting", "interval", s.interval.String())
	}
	s.setState(StateDisconnected)

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempt++
		if err := s.bus.Reconnect(); err != nil {
			s.logger.Debug("bus reconnect failed", "attempt", attempt, "error", err)
			if err := s.clock.Sleep(ctx, s.interval); err != nil {
				return err
			}
			continue
		}

		if err := s.bus.Subscribe(SouthboundWildcard(), s.qos, s.handler); err != nil {
			s.logger.Warn("resubscribe failed", "topic", SouthboundWildcard(), "error", err)
			if err := s.clock.Sleep(ctx, s.interval); err != nil {
				return err
			}
			continue
		}
		break
	}

	s.setState(StateConnected)
	s.metrics.Reconnected()
	s.logger.Info("bus link up", "attempts", attempt, "topic", SouthboundWildcard())
	return nil
}

func (s *ConnectionSupervisor) setState(state ConnectionState) {
	if s.state == state && state == StateDisconnected {
		return
	}
	s.state = state
	up := state == StateConnected
	s.indicators.LinkStatus(up)
	s.metrics.LinkState(up)
	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}
