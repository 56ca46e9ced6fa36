package rfm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// mockBus implements Bus for testing.
type mockBus struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	handler       func(topic string, payload []byte)
	connected     bool

	// reconnectFailures makes the next N Reconnect calls fail.
	reconnectFailures int
	reconnectCalls    int
	subscribeErr      error
	publishErr        error
}

type mockPublish struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

func newMockBus() *mockBus {
	return &mockBus{connected: true}
}

func (m *mockBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  string(payload),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *mockBus) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		err := m.subscribeErr
		m.subscribeErr = nil
		return err
	}
	m.subscriptions = append(m.subscriptions, topic)
	m.handler = handler
	return nil
}

func (m *mockBus) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockBus) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectCalls++
	if m.reconnectFailures > 0 {
		m.reconnectFailures--
		return errors.New("broker unavailable")
	}
	m.connected = true
	return nil
}

func (m *mockBus) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *mockBus) Published() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *mockBus) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.Published() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockBus) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscriptions...)
}

func (m *mockBus) ClearPublished() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

// SimulateMessage delivers a message as the broker would.
func (m *mockBus) SimulateMessage(topic, payload string) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(topic, []byte(payload))
	}
}

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu       sync.Mutex
	sent     []sentRecord
	rx       []Packet
	acks     int
	results  []bool
	fallback bool

	// calls records Send, Receive and SendAck in order.
	calls []string
}

type sentRecord struct {
	Target  int
	Data    []byte
	Retries int
}

// newMockTransport returns a transport whose sends succeed unless
// results says otherwise.
func newMockTransport() *mockTransport {
	return &mockTransport{fallback: true}
}

func (m *mockTransport) Send(target int, data []byte, retries int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "send")
	m.sent = append(m.sent, sentRecord{Target: target, Data: data, Retries: retries})
	if len(m.results) > 0 {
		ok := m.results[0]
		m.results = m.results[1:]
		return ok
	}
	return m.fallback
}

func (m *mockTransport) Receive() (Packet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rx) == 0 {
		return Packet{}, false
	}
	m.calls = append(m.calls, "receive")
	pkt := m.rx[0]
	m.rx = m.rx[1:]
	return pkt, true
}

func (m *mockTransport) SendAck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "ack")
	m.acks++
}

func (m *mockTransport) Queue(pkt Packet) {
	m.mu.Lock()
	m.rx = append(m.rx, pkt)
	m.mu.Unlock()
}

func (m *mockTransport) Sent() []sentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentRecord(nil), m.sent...)
}

func (m *mockTransport) Acks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks
}

// fakeClock advances only when Sleep is called or Advance is used.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// onSleep runs after each Sleep, outside the lock.
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// mockIndicators counts indicator signals.
type mockIndicators struct {
	mu         sync.Mutex
	activity   int
	linkEvents []bool
}

func (m *mockIndicators) Activity() {
	m.mu.Lock()
	m.activity++
	m.mu.Unlock()
}

func (m *mockIndicators) LinkStatus(up bool) {
	m.mu.Lock()
	m.linkEvents = append(m.linkEvents, up)
	m.mu.Unlock()
}

func (m *mockIndicators) Activities() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activity
}

func (m *mockIndicators) LinkEvents() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.linkEvents...)
}

// mockSensor returns queued readings, repeating the last one.
type mockSensor struct {
	mu       sync.Mutex
	readings []int
	err      error
	reads    int
}

func (m *mockSensor) Read() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return 0, m.err
	}
	v := m.readings[0]
	if len(m.readings) > 1 {
		m.readings = m.readings[1:]
	}
	return v, nil
}

func (m *mockSensor) set(v int) {
	m.mu.Lock()
	m.readings = []int{v}
	m.mu.Unlock()
}

// mockRecorder keeps the metric calls the tests look at.
type mockRecorder struct {
	nopRecorder
	mu          sync.Mutex
	attempts    int
	outcomes    []bool
	overwrites  int
	reconnects  int
	errorCodes  []int
	inboundDrop int
}

func (m *mockRecorder) DispatchAttempt() {
	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
}

func (m *mockRecorder) DispatchOutcome(delivered bool) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, delivered)
	m.mu.Unlock()
}

func (m *mockRecorder) SlotOverwritten() {
	m.mu.Lock()
	m.overwrites++
	m.mu.Unlock()
}

func (m *mockRecorder) Reconnected() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

func (m *mockRecorder) DownlinkError(code int) {
	m.mu.Lock()
	m.errorCodes = append(m.errorCodes, code)
	m.mu.Unlock()
}

func (m *mockRecorder) InboundDropped() {
	m.mu.Lock()
	m.inboundDrop++
	m.mu.Unlock()
}

// mockTelemetry records telemetry writes.
type mockTelemetry struct {
	mu       sync.Mutex
	readings []string
	signals  []int
}

func (m *mockTelemetry) WriteReading(_, _ int, class, text string) {
	m.mu.Lock()
	m.readings = append(m.readings, class+":"+text)
	m.mu.Unlock()
}

func (m *mockTelemetry) WriteSignal(_ int, rssi int) {
	m.mu.Lock()
	m.signals = append(m.signals, rssi)
	m.mu.Unlock()
}
