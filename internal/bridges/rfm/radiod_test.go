package rfm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

func TestParseConnectionURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{name: "unix socket", url: "unix:///run/rfmd.sock", wantNetwork: "unix", wantAddress: "/run/rfmd.sock"},
		{name: "tcp with host and port", url: "tcp://localhost:6790", wantNetwork: "tcp", wantAddress: "localhost:6790"},
		{name: "tcp with IP", url: "tcp://192.168.1.20:6790", wantNetwork: "tcp", wantAddress: "192.168.1.20:6790"},
		{name: "tcp without host defaults", url: "tcp://", wantNetwork: "tcp", wantAddress: "localhost:6790"},
		{name: "unsupported scheme", url: "http://localhost:6790", wantErr: true},
		{name: "invalid URL", url: "://invalid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, address, err := parseConnectionURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Error("parseConnectionURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConnectionURL() unexpected error: %v", err)
			}
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("parseConnectionURL() = %q %q, want %q %q", network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}

func TestEncodeParseFrame(t *testing.T) {
	frame := encodeFrame(frameAck, []byte{0x05})
	want := []byte{0x00, 0x03, 0x00, 0x30, 0x05}
	if !bytes.Equal(frame, want) {
		t.Fatalf("encodeFrame() = % X, want % X", frame, want)
	}

	frameType, payload, err := parseFrame(frame)
	if err != nil {
		t.Fatalf("parseFrame() error: %v", err)
	}
	if frameType != frameAck || !bytes.Equal(payload, []byte{0x05}) {
		t.Errorf("parseFrame() = 0x%04X % X", frameType, payload)
	}

	if _, _, err := parseFrame([]byte{0x00, 0x09, 0x00, 0x30}); err == nil {
		t.Error("parseFrame() accepted a size that does not match the frame")
	}
}

func TestReadFrame(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		wantType uint16
		desync   bool
		wantErr  bool
	}{
		{name: "valid", input: encodeFrame(frameReceive, []byte{1, 2, 3}), wantType: frameReceive},
		{name: "size too small", input: []byte{0x00, 0x01, 0x00}, desync: true, wantErr: true},
		{name: "oversized", input: []byte{0xFF, 0xFF, 0x00, 0x20}, desync: true, wantErr: true},
		{name: "truncated", input: []byte{0x00, 0x08, 0x00, 0x20}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, radiodBufferSize)
			frameType, _, err := readFrame(bytes.NewReader(tt.input), buf)
			if tt.wantErr {
				if err == nil {
					t.Fatal("readFrame() expected error, got nil")
				}
				if tt.desync != errors.Is(err, ErrProtocolDesync) {
					t.Errorf("readFrame() error = %v, desync want %v", err, tt.desync)
				}
				return
			}
			if err != nil {
				t.Fatalf("readFrame() unexpected error: %v", err)
			}
			if frameType != tt.wantType {
				t.Errorf("type = 0x%04X, want 0x%04X", frameType, tt.wantType)
			}
		})
	}
}

func TestOpenPayload(t *testing.T) {
	p := openPayload(RadiodConfig{NodeID: 1, NetworkID: 100, Frequency: 868, EncryptKey: "sampleEncryptKey"})
	if len(p) != 5+16 {
		t.Fatalf("len = %d, want 21", len(p))
	}
	if p[0] != 1 || p[1] != 100 || binary.BigEndian.Uint16(p[2:4]) != 868 || p[4] != 16 {
		t.Errorf("header = % X", p[:5])
	}
	if string(p[5:]) != "sampleEncryptKey" {
		t.Errorf("key = %q", p[5:])
	}

	noKey := openPayload(RadiodConfig{NodeID: 1, NetworkID: 100, Frequency: 433})
	if len(noKey) != 5 || noKey[4] != 0 {
		t.Errorf("open without key = % X", noKey)
	}
}

// MockRadiodServer simulates the radio daemon for testing.
type MockRadiodServer struct {
	listener net.Listener
	mu       sync.Mutex
	conn     net.Conn
	sends    [][]byte
	acks     []byte
	open     []byte

	openStatus byte
	sendOK     bool
	silent     bool
	done       chan struct{}
}

func NewMockRadiodServer(t *testing.T) *MockRadiodServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	s := &MockRadiodServer{
		listener: listener,
		sendOK:   true,
		done:     make(chan struct{}),
	}
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *MockRadiodServer) configure(fn func(*MockRadiodServer)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *MockRadiodServer) URL() string {
	return "tcp://" + s.listener.Addr().String()
}

func (s *MockRadiodServer) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	buf := make([]byte, radiodBufferSize)
	for {
		frameType, payload, err := readFrame(conn, buf)
		if err != nil {
			return
		}
		s.handle(conn, frameType, append([]byte(nil), payload...))
	}
}

func (s *MockRadiodServer) handle(conn net.Conn, frameType uint16, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch frameType {
	case frameOpen:
		s.open = payload
		conn.Write(encodeFrame(frameOpen, []byte{s.openStatus}))
	case frameSend:
		s.sends = append(s.sends, payload)
		if s.silent {
			return
		}
		result := []byte{payload[2], payload[3], 0}
		if s.sendOK {
			result[2] = 1
		}
		conn.Write(encodeFrame(frameSendResult, result))
	case frameAck:
		s.acks = append(s.acks, payload[0])
	}
}

// Inject sends a received-packet frame to the client.
func (s *MockRadiodServer) Inject(t *testing.T, sender byte, rssi int16, ack bool, data []byte) {
	t.Helper()
	payload := make([]byte, 4, 4+len(data))
	payload[0] = sender
	binary.BigEndian.PutUint16(payload[1:3], uint16(rssi))
	if ack {
		payload[3] = 1
	}
	payload = append(payload, data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		t.Fatal("no client connected")
	}
	if _, err := s.conn.Write(encodeFrame(frameReceive, payload)); err != nil {
		t.Fatalf("inject: %v", err)
	}
}

func (s *MockRadiodServer) Sends() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sends...)
}

func (s *MockRadiodServer) Acks() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.acks...)
}

func (s *MockRadiodServer) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	s.listener.Close()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

func connectTestRadiod(t *testing.T, s *MockRadiodServer) *RadiodClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := ConnectRadiod(ctx, RadiodConfig{
		Connection:  s.URL(),
		NodeID:      1,
		NetworkID:   100,
		Frequency:   868,
		SendTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("ConnectRadiod() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForPacket(t *testing.T, c *RadiodClient) Packet {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pkt, ok := c.Receive(); ok {
			return pkt
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no packet received")
	return Packet{}
}

func TestRadiodClient_Handshake(t *testing.T) {
	s := NewMockRadiodServer(t)
	c := connectTestRadiod(t, s)

	if !c.IsConnected() {
		t.Error("IsConnected() = false after connect")
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if len(open) < 5 || open[0] != 1 || open[1] != 100 {
		t.Errorf("open payload = % X", open)
	}
}

func TestRadiodClient_HandshakeRejected(t *testing.T) {
	s := NewMockRadiodServer(t)
	s.configure(func(s *MockRadiodServer) { s.openStatus = 1 })

	_, err := ConnectRadiod(context.Background(), RadiodConfig{Connection: s.URL(), NodeID: 1, Frequency: 868})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("ConnectRadiod() error = %v, want ErrConnectionFailed", err)
	}
}

func TestRadiodClient_DialFailure(t *testing.T) {
	_, err := ConnectRadiod(context.Background(), RadiodConfig{
		Connection:     "tcp://127.0.0.1:1",
		ConnectTimeout: 500 * time.Millisecond,
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("ConnectRadiod() error = %v, want ErrConnectionFailed", err)
	}
}

func TestRadiodClient_Send(t *testing.T) {
	s := NewMockRadiodServer(t)
	c := connectTestRadiod(t, s)

	data := Message{NodeID: 1, DeviceID: 16, IntVal: 1}.Encode()
	if !c.Send(5, data, 3) {
		t.Fatal("Send() = false, want true")
	}

	sends := s.Sends()
	if len(sends) != 1 {
		t.Fatalf("daemon saw %d sends, want 1", len(sends))
	}
	if sends[0][0] != 5 || sends[0][1] != 3 || !bytes.Equal(sends[0][4:], data) {
		t.Errorf("send payload = % X", sends[0])
	}
	if c.Stats().PacketsTx != 1 {
		t.Errorf("PacketsTx = %d, want 1", c.Stats().PacketsTx)
	}
}

func TestRadiodClient_SendNack(t *testing.T) {
	s := NewMockRadiodServer(t)
	s.configure(func(s *MockRadiodServer) { s.sendOK = false })
	c := connectTestRadiod(t, s)

	if c.Send(5, []byte{0x01}, 0) {
		t.Error("Send() = true on a negative result")
	}
	if c.Stats().SendFailures != 1 {
		t.Errorf("SendFailures = %d, want 1", c.Stats().SendFailures)
	}
}

func TestRadiodClient_SendTimeout(t *testing.T) {
	s := NewMockRadiodServer(t)
	s.configure(func(s *MockRadiodServer) { s.silent = true })
	c := connectTestRadiod(t, s)

	start := time.Now()
	if c.Send(5, []byte{0x01}, 0) {
		t.Error("Send() = true without a result")
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Send() returned after %v, want the send timeout", elapsed)
	}
}

func TestRadiodClient_SendTimeoutSizing(t *testing.T) {
	tests := []struct {
		name       string
		configured time.Duration
		retries    int
		want       time.Duration
	}{
		{"no retries", 0, 0, 200 * time.Millisecond},
		{"default retries", 0, 2, 400 * time.Millisecond},
		{"negative retries", 0, -1, 200 * time.Millisecond},
		{"configured wins", 3 * time.Second, 2, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &RadiodClient{cfg: RadiodConfig{SendTimeout: tt.configured}}
			if got := c.sendTimeout(tt.retries); got != tt.want {
				t.Errorf("sendTimeout(%d) = %v, want %v", tt.retries, got, tt.want)
			}
		})
	}

	// Five sends at the default retries plus four gaps stay within 4 s.
	c := &RadiodClient{}
	stall := deliveryAttempts*c.sendTimeout(2) + (deliveryAttempts-1)*deliveryRetryDelay
	if stall > 4*time.Second {
		t.Errorf("worst-case delivery stall = %v, want <= 4s", stall)
	}
}

func TestRadiodClient_SendNotConnected(t *testing.T) {
	c := &RadiodClient{
		cfg:     RadiodConfig{SendTimeout: time.Second},
		results: make(map[uint16]chan bool),
		done:    newCloseOnce(),
	}
	if c.Send(5, []byte{0x01}, 0) {
		t.Error("Send() = true while disconnected")
	}
	if !errors.Is(c.HealthCheck(context.Background()), ErrNotConnected) {
		t.Error("HealthCheck() did not report ErrNotConnected")
	}
}

func TestRadiodClient_ReceiveAndAck(t *testing.T) {
	s := NewMockRadiodServer(t)
	c := connectTestRadiod(t, s)

	if _, ok := c.Receive(); ok {
		t.Fatal("Receive() returned a packet before any arrived")
	}

	data := Message{NodeID: 9, DeviceID: 48, FltVal: 21.5}.Encode()
	s.Inject(t, 9, -72, true, data)

	pkt := waitForPacket(t, c)
	if pkt.SenderID != 9 || pkt.RSSI != -72 || !pkt.AckRequested || !bytes.Equal(pkt.Data, data) {
		t.Errorf("packet = %+v", pkt)
	}

	c.SendAck()
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Acks()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if acks := s.Acks(); len(acks) != 1 || acks[0] != 9 {
		t.Errorf("acks = %v, want [9]", acks)
	}
}

func TestRadiodClient_CloseIdempotent(t *testing.T) {
	s := NewMockRadiodServer(t)
	c := connectTestRadiod(t, s)

	if err := c.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestProbeRadiod(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ProbeRadiod(ctx, "tcp://"+addr); err != nil {
		t.Errorf("ProbeRadiod() on a listening socket = %v", err)
	}

	ln.Close()
	if err := ProbeRadiod(ctx, "tcp://"+addr); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("ProbeRadiod() on a closed port = %v, want ErrConnectionFailed", err)
	}
	if err := ProbeRadiod(ctx, "serial:///dev/ttyUSB0"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("ProbeRadiod() with bad scheme = %v, want ErrConnectionFailed", err)
	}
}
