// ABOUTME: Tests for the capture streaming server and listener
// ABOUTME: Drives a simulated capture session through real WebSocket connections
package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ausculsound/micstream/internal/sim"
	"github.com/ausculsound/micstream/pkg/audio"
	"github.com/ausculsound/micstream/pkg/capture"
	"github.com/ausculsound/micstream/pkg/protocol"
	"github.com/gorilla/websocket"
)

// rampSignal yields levels 0, 16, 32, ... which a 12-bit ADC reads as 2048, 2049, 2050, ...
type rampSignal struct {
	next int16
}

func (r *rampSignal) Read(samples []int16) (int, error) {
	for i := range samples {
		samples[i] = r.next << 4
		r.next++
	}
	return len(samples), nil
}

func (r *rampSignal) SampleRate() int { return 16000 }
func (r *rampSignal) Name() string    { return "ramp" }
func (r *rampSignal) Close() error    { return nil }

type testSession struct {
	board *sim.Board
	ctrl  *capture.Controller
}

func newTestSession(t *testing.T, blockSize int) *testSession {
	t.Helper()

	adc := sim.NewADC(sim.DefaultClockHz, &rampSignal{})
	board := &sim.Board{ADC: adc, Engine: sim.NewEngine(adc, 1, false), Pins: sim.NewPins()}

	cfg := capture.DefaultConfig()
	cfg.BufferSize = blockSize
	ctrl, err := capture.New(cfg, board.Hardware())
	if err != nil {
		t.Fatalf("capture.New failed: %v", err)
	}

	return &testSession{board: board, ctrl: ctrl}
}

func (ts *testSession) step(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !ts.board.Engine.Step() {
			t.Fatalf("engine step %d did not complete", i)
		}
	}
}

func startTestServer(t *testing.T, cfg ServerConfig, session Capture) (*Server, string) {
	t.Helper()

	s, err := NewServer(cfg, session)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	s.attach()

	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.detach()
		hs.Close()
	})

	return s, strings.TrimPrefix(hs.URL, "http://")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForStreaming(t *testing.T, s *Server, n int) {
	waitFor(t, "listeners to start streaming", func() bool {
		streaming := 0
		for _, c := range s.Clients() {
			if c.Codec != "" {
				streaming++
			}
		}
		return streaming == n
	})
}

func dialRaw(t *testing.T, addr string, hello protocol.ClientHello) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+DefaultPath, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, wantType string, v interface{}) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read %s: %v", wantType, err)
	}
	if msg.Type != wantType {
		t.Fatalf("expected %s, got %s", wantType, msg.Type)
	}
	if v != nil {
		if err := protocol.DecodePayload(msg, v); err != nil {
			t.Fatalf("failed to decode %s: %v", wantType, err)
		}
	}
}

// readBlock skips text frames until a binary block arrives
func readBlock(t *testing.T, conn *websocket.Conn) protocol.BlockMessage {
	t.Helper()

	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read block: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		block, err := protocol.ParseBlock(data)
		if err != nil {
			t.Fatalf("invalid block: %v", err)
		}
		return block
	}
}

func TestServerHandshakeAndBlocks(t *testing.T) {
	session := newTestSession(t, 4)
	s, addr := startTestServer(t, ServerConfig{Name: "Test Mic"}, session.ctrl)

	if err := session.ctrl.Start(); err != nil {
		t.Fatalf("capture Start failed: %v", err)
	}
	defer session.ctrl.Stop()

	conn := dialRaw(t, addr, protocol.ClientHello{
		ClientID:       "listener-1",
		Name:           "Listener",
		Version:        protocol.Version,
		SupportedRoles: []string{protocol.RoleListener},
		ListenerSupport: &protocol.ListenerSupport{
			SupportedCodecs: []string{audio.CodecPCM},
		},
	})

	var hello protocol.ServerHello
	readJSON(t, conn, protocol.TypeServerHello, &hello)
	if hello.ServerID != s.ID() {
		t.Errorf("expected server ID %s, got %s", s.ID(), hello.ServerID)
	}
	if hello.Name != "Test Mic" {
		t.Errorf("expected name Test Mic, got %s", hello.Name)
	}
	if len(hello.ActiveRoles) != 1 || hello.ActiveRoles[0] != protocol.RoleListener {
		t.Errorf("unexpected active roles %v", hello.ActiveRoles)
	}

	var start protocol.StreamStart
	readJSON(t, conn, protocol.TypeStreamStart, &start)
	expected := protocol.StreamStart{
		Codec:          audio.CodecPCM,
		SampleRate:     16000,
		Channels:       1,
		BitDepth:       16,
		BlockSize:      4,
		ResolutionBits: 12,
	}
	if start != expected {
		t.Errorf("stream/start = %+v, want %+v", start, expected)
	}

	var state protocol.CaptureState
	readJSON(t, conn, protocol.TypeCaptureState, &state)
	if state.State != "running" {
		t.Errorf("expected running, got %s", state.State)
	}

	waitForStreaming(t, s, 1)
	session.step(t, 3)

	for b := 0; b < 3; b++ {
		block := readBlock(t, conn)
		if block.Sequence != uint32(b) {
			t.Errorf("expected sequence %d, got %d", b, block.Sequence)
		}
		if len(block.Payload) != 8 {
			t.Fatalf("expected 8-byte payload, got %d", len(block.Payload))
		}
		for i := 0; i < 4; i++ {
			got := int16(uint16(block.Payload[2*i]) | uint16(block.Payload[2*i+1])<<8)
			want := int16((b*4 + i) * 16)
			if got != want {
				t.Errorf("block %d sample %d: got %d, want %d", b, i, got, want)
			}
		}
	}

	waitFor(t, "blocks to publish", func() bool { return s.Stats().Published == 3 })
	stats := s.Stats()
	if stats.Captured != 3 || stats.Dropped != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Peak != 11*16 {
		t.Errorf("expected peak %d, got %d", 11*16, stats.Peak)
	}
}

func TestServerRejectsBadHello(t *testing.T) {
	session := newTestSession(t, 4)
	s, addr := startTestServer(t, ServerConfig{}, session.ctrl)

	conn := dialRaw(t, addr, protocol.ClientHello{Name: "no id"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to close after invalid hello")
	}
	if len(s.Clients()) != 0 {
		t.Errorf("expected no clients, got %d", len(s.Clients()))
	}
}

func TestClientEndToEnd(t *testing.T) {
	session := newTestSession(t, 4)
	s, addr := startTestServer(t, ServerConfig{}, session.ctrl)

	if err := session.ctrl.Start(); err != nil {
		t.Fatalf("capture Start failed: %v", err)
	}
	defer session.ctrl.Stop()

	client := NewClient(ClientConfig{
		ServerAddr: addr,
		ClientID:   "listener-e2e",
		Name:       "E2E",
		Codecs:     []string{audio.CodecPCM},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if client.ServerHello().ServerID != s.ID() {
		t.Errorf("expected server ID %s, got %s", s.ID(), client.ServerHello().ServerID)
	}

	select {
	case start := <-client.Starts:
		if start.Codec != audio.CodecPCM {
			t.Errorf("expected pcm, got %s", start.Codec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream/start")
	}

	waitForStreaming(t, s, 1)
	session.step(t, 2)

	for b := 0; b < 2; b++ {
		select {
		case block := <-client.Blocks:
			if block.Sequence != uint32(b) {
				t.Errorf("expected sequence %d, got %d", b, block.Sequence)
			}
			if len(block.Samples) != 4 {
				t.Fatalf("expected 4 samples, got %d", len(block.Samples))
			}
			if block.Samples[0] != int16(b*4*16) {
				t.Errorf("block %d: first sample %d", b, block.Samples[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for block %d", b)
		}
	}

	if client.Format().SampleRate != 16000 {
		t.Errorf("expected 16000Hz format, got %d", client.Format().SampleRate)
	}
}

func TestClientOpusStream(t *testing.T) {
	session := newTestSession(t, 160)
	s, addr := startTestServer(t, ServerConfig{Codec: audio.CodecOpus}, session.ctrl)

	if err := session.ctrl.Start(); err != nil {
		t.Fatalf("capture Start failed: %v", err)
	}
	defer session.ctrl.Stop()

	client := NewClient(ClientConfig{
		ServerAddr: addr,
		ClientID:   "listener-opus",
		Name:       "Opus",
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case start := <-client.Starts:
		if start.Codec != audio.CodecOpus {
			t.Fatalf("expected opus, got %s", start.Codec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream/start")
	}

	waitForStreaming(t, s, 1)

	// two 160-sample blocks fill one 20ms frame
	session.step(t, 2)

	select {
	case block := <-client.Blocks:
		if block.Sequence != 1 {
			t.Errorf("expected frame to carry sequence 1, got %d", block.Sequence)
		}
		if len(block.Samples) != 320 {
			t.Errorf("expected 320 samples, got %d", len(block.Samples))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for opus frame")
	}
}

func TestServerControlCommands(t *testing.T) {
	session := newTestSession(t, 4)
	_, addr := startTestServer(t, ServerConfig{AllowControl: true}, session.ctrl)

	if err := session.ctrl.Start(); err != nil {
		t.Fatalf("capture Start failed: %v", err)
	}
	defer session.ctrl.Stop()

	client := NewClient(ClientConfig{
		ServerAddr: addr,
		ClientID:   "controller-1",
		Name:       "Controller",
		Control:    true,
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.SendCommand(protocol.CommandPause); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	waitFor(t, "pause", func() bool { return session.ctrl.State() == capture.StatePaused })

	if err := client.SendCommand(protocol.CommandResume); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	waitFor(t, "resume", func() bool { return session.ctrl.State() == capture.StateRunning })
}

type recordingSink struct {
	mu     sync.Mutex
	blocks []audio.Block
}

func (r *recordingSink) WriteBlock(block audio.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	block.Samples = append([]int16(nil), block.Samples...)
	r.blocks = append(r.blocks, block)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

func TestServerSinks(t *testing.T) {
	session := newTestSession(t, 4)
	sink := &recordingSink{}
	startTestServer(t, ServerConfig{Sinks: []BlockSink{sink}}, session.ctrl)

	if err := session.ctrl.Start(); err != nil {
		t.Fatalf("capture Start failed: %v", err)
	}
	defer session.ctrl.Stop()

	session.step(t, 5)
	waitFor(t, "sink writes", func() bool { return sink.count() == 5 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, b := range sink.blocks {
		if b.Sequence != uint32(i) {
			t.Errorf("sink block %d has sequence %d", i, b.Sequence)
		}
	}
}

func TestOnBlockDropsWhenQueueFull(t *testing.T) {
	session := newTestSession(t, 4)
	s, err := NewServer(ServerConfig{QueueDepth: 2}, session.ctrl)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	// no publisher running: the third block has no free slot
	raw := []uint16{2048, 2049, 2050, 4095}
	for i := 0; i < 3; i++ {
		s.onBlock(raw)
	}

	stats := s.Stats()
	if stats.Captured != 3 {
		t.Errorf("expected 3 captured, got %d", stats.Captured)
	}
	if stats.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", stats.Dropped)
	}

	b := <-s.ready
	if b.Sequence != 0 {
		t.Errorf("expected first queued sequence 0, got %d", b.Sequence)
	}
	want := []int16{0, 16, 32, 32752}
	for i := range want {
		if b.Samples[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, b.Samples[i], want[i])
		}
	}
}

func TestNegotiateCodec(t *testing.T) {
	tests := []struct {
		name      string
		preferred string
		support   *protocol.ListenerSupport
		expected  string
	}{
		{"no support info", audio.CodecOpus, nil, audio.CodecPCM},
		{"server prefers pcm", audio.CodecPCM, &protocol.ListenerSupport{SupportedCodecs: []string{"opus"}}, audio.CodecPCM},
		{"both opus", audio.CodecOpus, &protocol.ListenerSupport{SupportedCodecs: []string{"pcm", "opus"}}, audio.CodecOpus},
		{"listener lacks opus", audio.CodecOpus, &protocol.ListenerSupport{SupportedCodecs: []string{"pcm"}}, audio.CodecPCM},
	}

	session := newTestSession(t, 4)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(ServerConfig{Codec: tt.preferred}, session.ctrl)
			if err != nil {
				t.Fatalf("NewServer failed: %v", err)
			}
			got := s.negotiateCodec(&client{Support: tt.support})
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestActivateRoles(t *testing.T) {
	session := newTestSession(t, 4)

	tests := []struct {
		name     string
		control  bool
		offered  []string
		expected []string
	}{
		{"listener only", false, []string{"listener@v1"}, []string{"listener@v1"}},
		{"controller refused", false, []string{"listener@v1", "controller@v1"}, []string{"listener@v1"}},
		{"controller allowed", true, []string{"listener@v1", "controller@v1"}, []string{"listener@v1", "controller@v1"}},
		{"first version wins", false, []string{"listener@v2", "listener@v1"}, []string{"listener@v2"}},
		{"unknown roles", false, []string{"player@v1"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(ServerConfig{AllowControl: tt.control}, session.ctrl)
			if err != nil {
				t.Fatalf("NewServer failed: %v", err)
			}
			got := s.activateRoles(tt.offered)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("role %d: expected %s, got %s", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestNewServerValidation(t *testing.T) {
	session := newTestSession(t, 4)

	if _, err := NewServer(ServerConfig{}, nil); err == nil {
		t.Error("expected error without capture session")
	}
	if _, err := NewServer(ServerConfig{Codec: "flac"}, session.ctrl); err == nil {
		t.Error("expected error for unsupported codec")
	}

	s, err := NewServer(ServerConfig{}, session.ctrl)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if s.config.Port != DefaultPort || s.config.Path != DefaultPath || s.config.Codec != audio.CodecPCM {
		t.Errorf("defaults not applied: %+v", s.config)
	}
	if s.ID() == "" {
		t.Error("server ID should be set")
	}
}

func TestStateName(t *testing.T) {
	tests := []struct {
		state    capture.State
		expected string
	}{
		{capture.StateRunning, "running"},
		{capture.StatePaused, "paused"},
		{capture.StateStopped, "stopped"},
		{capture.StateConfigured, "stopped"},
	}

	for _, tt := range tests {
		if got := stateName(tt.state); got != tt.expected {
			t.Errorf("stateName(%s) = %s, want %s", tt.state, got, tt.expected)
		}
	}
}
