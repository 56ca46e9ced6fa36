package rfm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// Gateway loop defaults.
const (
	DefaultLoopInterval = 10 * time.Millisecond
	DefaultInboundQueue = 32
	DefaultRadioRetries = 2
)

// Bus is the publish/subscribe side of the gateway.
// *mqtt.Client satisfies it through a thin adapter in main.go.
type Bus interface {
	// Publish sends payload to topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers handler for a topic filter.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected reports whether the broker link is up.
	IsConnected() bool

	// Reconnect makes one connection attempt.
	Reconnect() error
}

// Packet is one frame received from the radio.
type Packet struct {
	SenderID     int
	Data         []byte
	RSSI         int
	AckRequested bool
}

// Transport is the radio side of the gateway.
type Transport interface {
	// Send delivers data to target, retrying retries times at link level.
	// It reports whether the target acknowledged.
	Send(target int, data []byte, retries int) bool

	// Receive returns the next received packet without blocking.
	Receive() (Packet, bool)

	// SendAck acknowledges the last packet returned by Receive.
	SendAck()
}

// Indicators drives the board LEDs. Calls must not block.
type Indicators interface {
	Activity()
	LinkStatus(up bool)
}

// PowerSensor reads the mains-sense analog input.
type PowerSensor interface {
	Read() (int, error)
}

// Recorder receives gateway metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	UplinkPacket(class string)
	PacketDropped()
	DownlinkMessage()
	DownlinkError(code int)
	DispatchAttempt()
	DispatchOutcome(delivered bool)
	SlotOverwritten()
	InboundDropped()
	Reconnected()
	LinkState(up bool)
	PowerState(out bool)
	Uptime(minutes int64)
}

// Telemetry stores uplink readings. *influxdb.Client and *node.Registry
// satisfy it.
type Telemetry interface {
	WriteReading(node, device int, class, text string)
	WriteSignal(node, rssi int)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds everything needed to build a Gateway.
type Options struct {
	// GatewayID is the gateway's own node id (1-99).
	GatewayID int

	// Version is returned for self-device 3.
	Version string

	// Bus and Transport are required.
	Bus       Bus
	Transport Transport

	// QoS is used for every publish and the southbound subscription.
	QoS byte

	LoopInterval      time.Duration
	ReconnectInterval time.Duration
	InboundQueue      int
	RadioRetries      int

	// PowerSensor is optional. Without it the power monitor is disabled
	// and device 30 always reports "OFF".
	PowerSensor    PowerSensor
	PowerThreshold int
	PowerInterval  time.Duration

	// Optional collaborators. Nil values are replaced by no-ops.
	Indicators Indicators
	Metrics    Recorder
	Telemetry  Telemetry
	Clock      Clock
	Logger     Logger
}

type busMessage struct {
	topic   string
	payload []byte
}

// counters are read by Status from other goroutines.
type counters struct {
	uplinkPackets    atomic.Uint64
	droppedPackets   atomic.Uint64
	downlinkMessages atomic.Uint64
	downlinkErrors   atomic.Uint64
	delivered        atomic.Uint64
	lost             atomic.Uint64
	overwrites       atomic.Uint64
	inboundDropped   atomic.Uint64
	reconnects       atomic.Uint64
}

// sharedState mirrors loop-owned state for Status.
type sharedState struct {
	startedAt     atomic.Time
	uptimeMinutes atomic.Int64
	powerOut      atomic.Bool
	linkUp        atomic.Bool
	pending       atomic.Bool
	pendingTarget atomic.Int32
}

// Gateway bridges the radio network and the message bus.
//
// Thread Safety:
//   - Run owns all translation state and must be called from one goroutine.
//   - Status is safe to call concurrently with Run.
//   - The bus subscription handler only enqueues onto a bounded channel.
type Gateway struct {
	id           int
	version      string
	qos          byte
	loopInterval time.Duration

	bus        Bus
	transport  Transport
	clock      Clock
	indicators Indicators
	metrics    Recorder
	telemetry  Telemetry
	logger     Logger

	translator DownlinkTranslator
	delivery   *DeliveryManager
	supervisor *ConnectionSupervisor
	power      *PowerMonitor
	uptime     *UptimeClock

	inbound chan busMessage

	counters counters
	state    sharedState
}

// New creates a gateway. Call Start, then Run.
//
// Parameters:
//   - opts: Collaborators and settings; zero durations take the defaults
//
// Returns:
//   - *Gateway: Gateway ready to start
//   - error: If a required collaborator is missing or the id is out of range
func New(opts Options) (*Gateway, error) {
	if opts.GatewayID < 1 || opts.GatewayID > 99 {
		return nil, fmt.Errorf("gateway id %d out of range 1-99", opts.GatewayID)
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("radio transport is required")
	}
	applyDefaults(&opts)

	g := &Gateway{
		id:           opts.GatewayID,
		version:      opts.Version,
		qos:          opts.QoS,
		loopInterval: opts.LoopInterval,
		bus:          opts.Bus,
		transport:    opts.Transport,
		clock:        opts.Clock,
		indicators:   opts.Indicators,
		metrics:      opts.Metrics,
		telemetry:    opts.Telemetry,
		logger:       opts.Logger,
		translator:   DownlinkTranslator{GatewayID: opts.GatewayID, Version: opts.Version},
		inbound:      make(chan busMessage, opts.InboundQueue),
	}

	g.delivery = &DeliveryManager{
		gatewayID:    g.id,
		transport:    g.transport,
		clock:        g.clock,
		publisher:    g.publish,
		indicators:   g.indicators,
		metrics:      g.metrics,
		radioRetries: opts.RadioRetries,
	}

	g.supervisor = &ConnectionSupervisor{
		bus:           g.bus,
		clock:         g.clock,
		interval:      opts.ReconnectInterval,
		qos:           g.qos,
		handler:       g.handleBus,
		indicators:    g.indicators,
		metrics:       g.metrics,
		logger:        g.logger,
		onStateChange: g.linkChanged,
	}

	g.power = &PowerMonitor{
		sensor:    opts.PowerSensor,
		threshold: opts.PowerThreshold,
		interval:  opts.PowerInterval,
		topic:     EncodeNorthbound(g.id, DevicePower),
		publish:   g.publish,
		metrics:   g.metrics,
		logger:    g.logger,
	}

	now := g.clock.Now()
	g.uptime = NewUptimeClock(now)
	g.state.startedAt.Store(now)

	return g, nil
}

func applyDefaults(opts *Options) {
	if opts.LoopInterval <= 0 {
		opts.LoopInterval = DefaultLoopInterval
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.InboundQueue <= 0 {
		opts.InboundQueue = DefaultInboundQueue
	}
	if opts.RadioRetries < 0 {
		opts.RadioRetries = DefaultRadioRetries
	}
	if opts.PowerThreshold == 0 {
		opts.PowerThreshold = DefaultPowerThreshold
	}
	if opts.PowerInterval <= 0 {
		opts.PowerInterval = DefaultPowerInterval
	}
	if opts.Indicators == nil {
		opts.Indicators = nopIndicators{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = nopTelemetry{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
}

// Start brings the bus link up, subscribes to the southbound wildcard and
// announces the gateway with a wakeup notice on its own device 99.
//
// It blocks until the broker accepts the connection or ctx is done.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.supervisor.Check(ctx); err != nil {
		return fmt.Errorf("establishing bus link: %w", err)
	}

	g.publish(Publication{
		Topic: EncodeNorthbound(g.id, DeviceWakeup),
		Text:  wakeupText(g.id),
	})
	g.logInfo("gateway started", "node", g.id, "version", g.version)
	return nil
}

// Run executes the control loop until ctx is done or a restart is requested.
//
// Returns:
//   - error: ErrRestartRequested after self-device 10 was written, nil on
//     shutdown
func (g *Gateway) Run(ctx context.Context) error {
	for {
		if err := g.tick(ctx); err != nil {
			if errors.Is(err, ErrRestartRequested) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := g.clock.Sleep(ctx, g.loopInterval); err != nil {
			return nil
		}
	}
}

// tick runs one loop iteration in fixed order: monitors, inbound bus
// messages, pending delivery, one radio packet, link check.
func (g *Gateway) tick(ctx context.Context) error {
	g.runMonitors(g.clock.Now())

	if g.drainInbound() {
		g.logWarn("restart requested over the bus", "node", g.id)
		return ErrRestartRequested
	}

	if out, ok := g.delivery.Deliver(ctx); ok {
		g.recordDelivery(out)
	}

	if pkt, ok := g.transport.Receive(); ok {
		g.handleUplink(pkt)
	}

	return g.supervisor.Check(ctx)
}

func (g *Gateway) runMonitors(now time.Time) {
	if g.power.Tick(now) {
		g.state.powerOut.Store(g.power.PowerOut())
	}

	before := g.uptime.Minutes()
	if minutes := g.uptime.Tick(now); minutes != before {
		g.state.uptimeMinutes.Store(minutes)
		g.metrics.Uptime(minutes)
	}
}

// drainInbound handles queued bus messages until one of them fills the
// dispatch slot, so each dispatch is delivered before the next message is
// translated. Local replies and diagnostics do not stop the drain. It
// reports whether a message requested a restart; messages after a restart
// or a dispatch stay queued for the next tick.
func (g *Gateway) drainInbound() bool {
	for {
		if _, pending := g.delivery.Pending(); pending {
			return false
		}
		select {
		case msg := <-g.inbound:
			if g.handleDownlink(msg) {
				return true
			}
		default:
			return false
		}
	}
}

// handleBus is the subscription handler. It runs on the bus client's
// goroutine and never blocks.
func (g *Gateway) handleBus(topic string, payload []byte) {
	msg := busMessage{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case g.inbound <- msg:
	default:
		g.counters.inboundDropped.Inc()
		g.metrics.InboundDropped()
		g.logWarn("inbound queue full, dropping bus message", "topic", topic)
	}
}

// handleDownlink translates one southbound message and acts on the result.
func (g *Gateway) handleDownlink(msg busMessage) (restart bool) {
	res := g.translator.Translate(msg.topic, msg.payload, SelfState{
		UptimeMinutes: g.uptime.Minutes(),
		PowerOut:      g.power.PowerOut(),
	})

	g.counters.downlinkMessages.Inc()
	g.metrics.DownlinkMessage()

	if res.Diagnostic != nil {
		g.counters.downlinkErrors.Inc()
		g.metrics.DownlinkError(int(res.Code))
		g.logDebug("rejected bus message",
			"topic", msg.topic,
			"code", int(res.Code),
			"reason", res.Code.String())
		g.publish(*res.Diagnostic)
	}

	if res.Reply != nil {
		g.publish(*res.Reply)
	}

	if res.Dispatch != nil {
		if replaced := g.delivery.Submit(*res.Dispatch); replaced != nil {
			g.counters.overwrites.Inc()
			g.metrics.SlotOverwritten()
			g.logWarn("pending dispatch replaced",
				"dropped_target", replaced.Target,
				"dropped_device", replaced.Message.DeviceID,
				"target", res.Dispatch.Target)
		}
		g.state.pending.Store(true)
		g.state.pendingTarget.Store(int32(res.Dispatch.Target)) //nolint:gosec // 1-99
	}

	return res.Restart
}

func (g *Gateway) recordDelivery(out DeliveryOutcome) {
	g.state.pending.Store(false)
	g.state.pendingTarget.Store(0)

	if out.Delivered {
		g.counters.delivered.Inc()
		g.logDebug("dispatch delivered", "target", out.Target, "attempts", out.Attempts)
		return
	}
	g.counters.lost.Inc()
	g.logWarn("dispatch lost", "target", out.Target, "attempts", out.Attempts)
}

func (g *Gateway) linkChanged(state ConnectionState) {
	up := state == StateConnected
	g.state.linkUp.Store(up)
	if up {
		g.counters.reconnects.Inc()
	}
}

// publish sends pub on the bus. Failures are logged; the supervisor
// notices a dead link on its next check.
func (g *Gateway) publish(pub Publication) {
	if err := g.bus.Publish(pub.Topic, []byte(pub.Text), g.qos, false); err != nil {
		g.logWarn("publish failed", "topic", pub.Topic, "error", err)
	}
}

func (g *Gateway) logDebug(msg string, keysAndValues ...any) {
	g.logger.Debug(msg, keysAndValues...)
}

func (g *Gateway) logInfo(msg string, keysAndValues ...any) {
	g.logger.Info(msg, keysAndValues...)
}

func (g *Gateway) logWarn(msg string, keysAndValues ...any) {
	g.logger.Warn(msg, keysAndValues...)
}

type nopIndicators struct{}

func (nopIndicators) Activity()       {}
func (nopIndicators) LinkStatus(bool) {}

type nopTelemetry struct{}

func (nopTelemetry) WriteReading(int, int, string, string) {}
func (nopTelemetry) WriteSignal(int, int)                  {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopRecorder struct{}

func (nopRecorder) UplinkPacket(string)  {}
func (nopRecorder) PacketDropped()       {}
func (nopRecorder) DownlinkMessage()     {}
func (nopRecorder) DownlinkError(int)    {}
func (nopRecorder) DispatchAttempt()     {}
func (nopRecorder) DispatchOutcome(bool) {}
func (nopRecorder) SlotOverwritten()     {}
func (nopRecorder) InboundDropped()      {}
func (nopRecorder) Reconnected()         {}
func (nopRecorder) LinkState(bool)       {}
func (nopRecorder) PowerState(bool)      {}
func (nopRecorder) Uptime(int64)         {}
