package rfm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Radio daemon frame types.
//
// Every frame is size(2) + type(2) + payload, big-endian, where size
// counts the type and payload but not itself.
const (
	frameOpen       uint16 = 0x0001
	frameSend       uint16 = 0x0010
	frameSendResult uint16 = 0x0011
	frameReceive    uint16 = 0x0020
	frameAck        uint16 = 0x0030
)

// Default timeouts and intervals for radio daemon communication.
const (
	defaultRadiodConnectTimeout = 10 * time.Second
	defaultRadiodReadTimeout    = 30 * time.Second
	defaultRadiodWriteTimeout   = 2 * time.Second

	// A send result is awaited for one ack window per link-level attempt
	// plus a margin for the socket round trip. With the default two
	// retries that is 400 ms.
	sendAttemptWindow = 100 * time.Millisecond
	sendResultMargin  = 100 * time.Millisecond

	defaultRadiodReconnectInterval = 5 * time.Second
	maxRadiodReconnectInterval     = 2 * time.Minute

	// radiodBufferSize fits the largest frame the daemon sends: a received
	// packet header plus a full radio payload.
	radiodBufferSize = 256

	// rxQueueSize is how many received packets wait for the control loop.
	rxQueueSize = 16

	frameHeaderSize = 4
	openStatusOK    = 0x00
)

// RadiodConfig holds radio daemon connection configuration.
type RadiodConfig struct {
	// Connection is the daemon URL.
	// Supported formats:
	//   - "unix:///run/rfmd.sock" (Unix socket)
	//   - "tcp://localhost:6790" (TCP)
	Connection string

	// NodeID is the gateway's own radio address.
	NodeID int

	// NetworkID, Frequency and EncryptKey configure the radio on open.
	NetworkID  int
	Frequency  int
	EncryptKey string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the idle timeout of the receive loop.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// SendTimeout bounds the wait for a send result.
	// Default: sized from the retries passed to Send.
	SendTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// RadiodStats holds operational statistics.
type RadiodStats struct {
	PacketsTx       uint64    `json:"packets_tx"`
	PacketsRx       uint64    `json:"packets_rx"`
	PacketsDropped  uint64    `json:"packets_dropped"`
	SendFailures    uint64    `json:"send_failures"`
	ErrorsTotal     uint64    `json:"errors_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	LastActivity    time.Time `json:"last_activity"`
	Connected       bool      `json:"connected"`
	Reconnecting    bool      `json:"reconnecting"`
}

// Ensure RadiodClient implements Transport.
var _ Transport = (*RadiodClient)(nil)

// RadiodClient talks to the radio daemon that owns the RFM69 module.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Received packets are queued by a background goroutine and handed
//     out by Receive; a full queue drops the newest packet.
//
// Auto-Reconnection:
//   - When the connection is lost, the client reconnects in the background
//     with exponential backoff from ReconnectInterval up to 2 minutes.
//   - Sends fail fast while disconnected.
type RadiodClient struct {
	cfg  RadiodConfig
	conn net.Conn

	connMu    sync.RWMutex
	connected bool
	writeMu   sync.Mutex

	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	rxQueue    chan Packet
	lastSender atomic.Int32

	// results routes send results to the waiting Send call by sequence.
	results   map[uint16]chan bool
	resultsMu sync.Mutex
	seq       atomic.Uint32

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	packetsTx       atomic.Uint64
	packetsRx       atomic.Uint64
	packetsDropped  atomic.Uint64
	sendFailures    atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// ConnectRadiod establishes the daemon connection and configures the radio.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *RadiodClient: Connected client ready for use
//   - error: If connection or the open handshake fails
func ConnectRadiod(ctx context.Context, cfg RadiodConfig) (*RadiodClient, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultRadiodConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultRadiodReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultRadiodReconnectInterval
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	c := &RadiodClient{
		cfg:     cfg,
		conn:    conn,
		rxQueue: make(chan Packet, rxQueueSize),
		results: make(map[uint16]chan bool),
		done:    newCloseOnce(),
	}
	c.lastActivity.Store(time.Now().Unix())

	if err := c.open(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// parseConnectionURL parses a daemon connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:6790"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// ProbeRadiod reports whether a radio daemon accepts connections at
// connURL. It opens no session; the socket is closed straight away.
func ProbeRadiod(ctx context.Context, connURL string) error {
	network, address, err := parseConnectionURL(connURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return conn.Close()
}

// encodeFrame builds a daemon frame.
func encodeFrame(frameType uint16, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // payloads are < 256 bytes
	binary.BigEndian.PutUint16(buf[2:4], frameType)
	copy(buf[4:], payload)
	return buf
}

// parseFrame splits a complete frame into type and payload.
func parseFrame(frame []byte) (uint16, []byte, error) {
	if len(frame) < frameHeaderSize {
		return 0, nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	size := int(binary.BigEndian.Uint16(frame[0:2]))
	if size != len(frame)-2 {
		return 0, nil, fmt.Errorf("frame size %d does not match length %d", size, len(frame)-2)
	}
	return binary.BigEndian.Uint16(frame[2:4]), frame[4:], nil
}

// openPayload encodes the radio configuration:
// node(1) + network(1) + frequency(2) + keyLen(1) + key.
func openPayload(cfg RadiodConfig) []byte {
	// Ranges are enforced by config validation.
	p := make([]byte, 5, 5+len(cfg.EncryptKey))
	p[0] = byte(cfg.NodeID)
	p[1] = byte(cfg.NetworkID)
	binary.BigEndian.PutUint16(p[2:4], uint16(cfg.Frequency))
	p[4] = byte(len(cfg.EncryptKey))
	return append(p, cfg.EncryptKey...)
}

// open sends the open frame and waits for its status reply.
// It respects the context deadline so the overall connect timeout holds.
func (c *RadiodClient) open(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.conn.SetDeadline(time.Time{}) //nolint:errcheck // best effort

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if _, err := c.conn.Write(encodeFrame(frameOpen, openPayload(c.cfg))); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, radiodBufferSize)
	frameType, payload, err := readFrame(c.conn, buf)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if frameType != frameOpen {
		return fmt.Errorf("unexpected response type: 0x%04X", frameType)
	}
	if len(payload) < 1 || payload[0] != openStatusOK {
		return fmt.Errorf("radio open rejected")
	}
	return nil
}

// readFrame reads one frame from r into buf.
// An oversized frame returns ErrProtocolDesync, which is fatal.
func readFrame(r io.Reader, buf []byte) (uint16, []byte, error) {
	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	size := int(binary.BigEndian.Uint16(buf[:2]))
	if size < 2 {
		return 0, nil, fmt.Errorf("%w: size %d", ErrProtocolDesync, size)
	}

	// The stream cannot be resynchronised after an oversized frame;
	// the connection must be dropped.
	total := 2 + size
	if total > len(buf) {
		return 0, nil, fmt.Errorf("%w: size %d exceeds buffer %d", ErrProtocolDesync, total, len(buf))
	}

	if _, err := io.ReadFull(r, buf[2:total]); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}
	return parseFrame(buf[:total])
}

// receiveLoop reads frames until Close, reconnecting on connection loss.
func (c *RadiodClient) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, radiodBufferSize)

	for {
		if c.isClosed() {
			return
		}

		frameType, payload, err := c.readMessage(buf)
		if err != nil {
			if !c.handleReadError(err) {
				continue
			}
			if c.isClosed() {
				return
			}
			if !c.reconnect() {
				return
			}
			continue
		}

		switch frameType {
		case frameSendResult:
			c.handleSendResult(payload)
		case frameReceive:
			c.handleReceive(payload)
		default:
			c.logDebug("ignoring radio daemon frame", "type", fmt.Sprintf("0x%04X", frameType))
		}
	}
}

func (c *RadiodClient) readMessage(buf []byte) (uint16, []byte, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return 0, nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return 0, nil, fmt.Errorf("set deadline: %w", err)
	}
	return readFrame(conn, buf)
}

// handleReadError reports whether the connection must be re-established.
func (c *RadiodClient) handleReadError(err error) bool {
	if c.isClosed() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}

	c.errorsTotal.Inc()
	if errors.Is(err, ErrProtocolDesync) {
		c.logError("protocol desync detected, closing socket", err)
	} else {
		c.logError("read failed", err)
	}
	c.handleDisconnect()
	return true
}

// handleSendResult routes seq(2) + ok(1) to the waiting sender.
func (c *RadiodClient) handleSendResult(payload []byte) {
	if len(payload) < 3 {
		c.errorsTotal.Inc()
		return
	}
	seq := binary.BigEndian.Uint16(payload[0:2])
	ok := payload[2] != 0

	c.resultsMu.Lock()
	ch, found := c.results[seq]
	delete(c.results, seq)
	c.resultsMu.Unlock()

	if found {
		ch <- ok
	}
}

// handleReceive queues sender(1) + rssi(2, signed) + ackRequested(1) + data.
func (c *RadiodClient) handleReceive(payload []byte) {
	if len(payload) < 4 {
		c.errorsTotal.Inc()
		return
	}

	pkt := Packet{
		SenderID:     int(payload[0]),
		RSSI:         int(int16(binary.BigEndian.Uint16(payload[1:3]))), //nolint:gosec // signed on the wire
		AckRequested: payload[3] != 0,
		Data:         append([]byte(nil), payload[4:]...),
	}

	c.packetsRx.Inc()
	c.lastActivity.Store(time.Now().Unix())

	select {
	case c.rxQueue <- pkt:
	default:
		c.packetsDropped.Inc()
		c.logError("receive queue full, dropping packet", fmt.Errorf("sender %d", pkt.SenderID))
	}
}

// failPendingSends wakes every Send waiting on a result.
func (c *RadiodClient) failPendingSends() {
	c.resultsMu.Lock()
	for seq, ch := range c.results {
		ch <- false
		delete(c.results, seq)
	}
	c.resultsMu.Unlock()
}

func (c *RadiodClient) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.failPendingSends()

	if wasConnected {
		c.logInfo("radio daemon connection lost, will attempt reconnection")
	}
}

// reconnect re-establishes the connection with exponential backoff.
// Returns true on success, false if shutdown was signalled.
func (c *RadiodClient) reconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return false
	}
	defer c.reconnecting.Store(false)

	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		c.logError("reconnect: invalid connection URL", err)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Inc()
		c.logInfo("attempting radio daemon reconnection", "attempt", attempt, "backoff", backoff.String())

		conn, err := c.dialWithTimeout(network, address)
		if err != nil {
			if backoff = c.handleReconnectFailure("dial failed", err, backoff); backoff == 0 {
				return false
			}
			continue
		}

		if err := c.establishConnection(conn); err != nil {
			if backoff = c.handleReconnectFailure("handshake failed", err, backoff); backoff == 0 {
				return false
			}
			continue
		}

		c.finalizeReconnection()
		return true
	}
}

func (c *RadiodClient) dialWithTimeout(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return conn, nil
}

func (c *RadiodClient) establishConnection(conn net.Conn) error {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.open(ctx); err != nil {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return err
	}
	return nil
}

// handleReconnectFailure waits out the backoff and returns the next one,
// or 0 if shutdown was signalled.
func (c *RadiodClient) handleReconnectFailure(reason string, err error, backoff time.Duration) time.Duration {
	c.logError("reconnect: "+reason, err)
	c.errorsTotal.Inc()

	select {
	case <-c.done.Done():
		return 0
	case <-time.After(backoff):
	}

	next := time.Duration(float64(backoff) * 1.5)
	if next > maxRadiodReconnectInterval {
		next = maxRadiodReconnectInterval
	}
	return next
}

func (c *RadiodClient) finalizeReconnection() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.reconnectCount.Store(0)
	c.reconnectsTotal.Inc()
	c.lastActivity.Store(time.Now().Unix())

	c.logInfo("radio daemon reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
}

func (c *RadiodClient) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// write sends one frame. Frames from concurrent callers never interleave.
func (c *RadiodClient) write(frame []byte) error {
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	c.connMu.RUnlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(defaultRadiodWriteTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		c.errorsTotal.Inc()
		return fmt.Errorf("write: %w", err)
	}
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Send transmits data to target and waits for the daemon's result.
//
// Parameters:
//   - target: Destination node id
//   - data: Encoded radio record
//   - retries: Link-level retries the daemon makes before giving up
//
// Returns:
//   - bool: true if the target acknowledged
func (c *RadiodClient) Send(target int, data []byte, retries int) bool {
	seq := uint16(c.seq.Inc()) //nolint:gosec // 16-bit sequence on the wire

	ch := make(chan bool, 1)
	c.resultsMu.Lock()
	c.results[seq] = ch
	c.resultsMu.Unlock()

	payload := make([]byte, 4, 4+len(data))
	payload[0] = byte(target)  //nolint:gosec // 1-99
	payload[1] = byte(retries) //nolint:gosec // small config value
	binary.BigEndian.PutUint16(payload[2:4], seq)
	payload = append(payload, data...)

	if err := c.write(encodeFrame(frameSend, payload)); err != nil {
		c.dropResult(seq)
		c.sendFailures.Inc()
		c.logDebug("radio send failed", "target", target, "error", err)
		return false
	}
	c.packetsTx.Inc()

	timer := time.NewTimer(c.sendTimeout(retries))
	defer timer.Stop()

	select {
	case ok := <-ch:
		if !ok {
			c.sendFailures.Inc()
		}
		return ok
	case <-timer.C:
		c.dropResult(seq)
		c.sendFailures.Inc()
		return false
	case <-c.done.Done():
		c.dropResult(seq)
		return false
	}
}

// sendTimeout returns the configured send timeout, or one sized for the
// given number of link-level retries.
func (c *RadiodClient) sendTimeout(retries int) time.Duration {
	if c.cfg.SendTimeout > 0 {
		return c.cfg.SendTimeout
	}
	if retries < 0 {
		retries = 0
	}
	return sendResultMargin + time.Duration(retries+1)*sendAttemptWindow
}

func (c *RadiodClient) dropResult(seq uint16) {
	c.resultsMu.Lock()
	delete(c.results, seq)
	c.resultsMu.Unlock()
}

// Receive returns the next queued packet without blocking.
func (c *RadiodClient) Receive() (Packet, bool) {
	select {
	case pkt := <-c.rxQueue:
		c.lastSender.Store(int32(pkt.SenderID)) //nolint:gosec // one byte on the wire
		return pkt, true
	default:
		return Packet{}, false
	}
}

// SendAck acknowledges the last packet returned by Receive.
func (c *RadiodClient) SendAck() {
	target := byte(c.lastSender.Load()) //nolint:gosec // one byte on the wire
	if err := c.write(encodeFrame(frameAck, []byte{target})); err != nil {
		c.logError("radio ack failed", err)
	}
}

// SetLogger sets the logger for this client.
func (c *RadiodClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if connected to the daemon.
func (c *RadiodClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *RadiodClient) Stats() RadiodStats {
	return RadiodStats{
		PacketsTx:       c.packetsTx.Load(),
		PacketsRx:       c.packetsRx.Load(),
		PacketsDropped:  c.packetsDropped.Load(),
		SendFailures:    c.sendFailures.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// HealthCheck verifies the connection is alive.
func (c *RadiodClient) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close stops the receive loop and closes the connection.
// Safe to call multiple times.
func (c *RadiodClient) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.failPendingSends()
	c.wg.Wait()

	c.logInfo("radio daemon connection closed")
	return nil
}

func (c *RadiodClient) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *RadiodClient) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *RadiodClient) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *RadiodClient) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
