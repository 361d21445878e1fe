// ABOUTME: WebSocket server publishing captured microphone blocks
// ABOUTME: Converts completed buffers off the completion path and fans them out to listeners
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausculsound/micstream/internal/discovery"
	"github.com/ausculsound/micstream/pkg/audio"
	"github.com/ausculsound/micstream/pkg/audio/encode"
	"github.com/ausculsound/micstream/pkg/capture"
	"github.com/ausculsound/micstream/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultPort       = 8928
	DefaultPath       = discovery.DefaultPath
	DefaultQueueDepth = 16

	stateInterval = time.Second
	helloTimeout  = 10 * time.Second
	writeDeadline = 10 * time.Second
)

// Capture is the capture session a Server publishes
type Capture interface {
	OnReceive(fn capture.BlockFunc)
	Config() capture.Config
	Resolution() audio.Resolution
	Stats() capture.Stats
	Pause() error
	Resume() error
}

// BlockSink receives every published block in capture order
type BlockSink interface {
	WriteBlock(block audio.Block) error
}

// ServerConfig configures a capture server
type ServerConfig struct {
	// Port to listen on (default: 8928)
	Port int

	// Name of the server for identification
	Name string

	// Path of the WebSocket endpoint (default: /micstream)
	Path string

	// Codec preferred for listeners that support it: "pcm" or "opus"
	Codec string

	// EnableMDNS enables mDNS service advertisement
	EnableMDNS bool

	// AllowControl lets controller clients pause and resume capture
	AllowControl bool

	// QueueDepth is the number of converted blocks that may wait for publishing
	QueueDepth int

	// Sinks receive every published block, e.g. a WAV recorder
	Sinks []BlockSink

	// Debug enables debug logging
	Debug bool
}

// Server streams a capture session to WebSocket listeners
type Server struct {
	config   ServerConfig
	serverID string
	capture  Capture
	format   audio.Format
	res      audio.Resolution

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	clients   map[string]*client
	clientsMu sync.RWMutex

	// Server clock (monotonic microseconds)
	clockStart time.Time

	// Converted blocks cycle free -> ready -> free
	free  chan *audio.Block
	ready chan *audio.Block

	seq       atomic.Uint32
	captured  atomic.Uint64
	dropped   atomic.Uint64
	published atomic.Uint64
	peak      atomic.Int32

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// client is a connected listener
type client struct {
	ID      string
	Name    string
	Conn    *websocket.Conn
	Roles   []string
	Support *protocol.ListenerSupport

	Codec   string
	encoder encode.Encoder
	dropped atomic.Uint64

	sendChan chan interface{}

	mu sync.RWMutex
}

// ClientInfo describes a connected listener
type ClientInfo struct {
	ID      string
	Name    string
	Codec   string
	Dropped uint64
}

// ServerStats counts blocks through the server
type ServerStats struct {
	Captured  uint64 // blocks delivered by the controller
	Dropped   uint64 // blocks lost because the publish queue was full
	Published uint64 // blocks sent to listeners and sinks
	Peak      int    // peak level of the last published block
	Clients   int
}

// NewServer creates a server publishing session
func NewServer(config ServerConfig, session Capture) (*Server, error) {
	if session == nil {
		return nil, fmt.Errorf("capture session is required")
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Name == "" {
		config.Name = "micstream"
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Codec == "" {
		config.Codec = audio.CodecPCM
	}
	if config.Codec != audio.CodecPCM && config.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("unsupported codec: %s", config.Codec)
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultQueueDepth
	}

	capCfg := session.Config()
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		capture:  session,
		format:   capCfg.Format(audio.CodecPCM),
		res:      session.Resolution(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// listeners run on the local network
				return true
			},
		},
		clients:    make(map[string]*client),
		clockStart: time.Now(),
		free:       make(chan *audio.Block, config.QueueDepth),
		ready:      make(chan *audio.Block, config.QueueDepth),
		stopChan:   make(chan struct{}),
	}

	for i := 0; i < config.QueueDepth; i++ {
		s.free <- &audio.Block{Samples: make([]int16, capCfg.BufferSize)}
	}

	s.mux.HandleFunc(config.Path, s.handleWebSocket)

	return s, nil
}

// ID returns the server's unique identifier
func (s *Server) ID() string { return s.serverID }

// Handler returns the HTTP handler serving the WebSocket endpoint
func (s *Server) Handler() http.Handler { return s.mux }

// Start publishes capture and serves listeners until Stop
func (s *Server) Start() error {
	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.serverID)
	log.Printf("Capture format: %dHz/%dbit/%dch, %d-sample blocks, codec %s",
		s.format.SampleRate, s.format.BitDepth, s.format.Channels, s.format.BlockSize, s.config.Codec)

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        s.config.Path,
			ServerID:    s.serverID,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	s.attach()

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("WebSocket server listening on %s%s", addr, s.config.Path)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serveErr = err
		s.Stop()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.detach()
	log.Printf("Server stopped cleanly")

	return serveErr
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// attach registers the completion consumer and starts the publisher
func (s *Server) attach() {
	s.capture.OnReceive(s.onBlock)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump()
	}()
}

// detach unregisters from capture, disconnects listeners and waits for goroutines
func (s *Server) detach() {
	s.capture.OnReceive(nil)
	s.Stop()

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.clientsMu.RLock()
	for _, c := range s.clients {
		c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.Conn.Close()
	}
	s.clientsMu.RUnlock()

	s.wg.Wait()
}

// onBlock runs in the transfer engine's completion context. It converts the
// raw buffer into a free slot and queues it without blocking or allocating.
func (s *Server) onBlock(raw []uint16) {
	seq := s.seq.Add(1) - 1
	s.captured.Add(1)

	var b *audio.Block
	select {
	case b = <-s.free:
	default:
		s.dropped.Add(1)
		return
	}

	b.Samples = b.Samples[:cap(b.Samples)]
	n := s.res.ConvertBlock(b.Samples, raw)
	b.Samples = b.Samples[:n]
	b.Sequence = seq
	b.Timestamp = s.clockMicros()

	// ready holds every slot, so this never blocks
	s.ready <- b
}

// pump publishes queued blocks and periodic capture state
func (s *Server) pump() {
	ticker := time.NewTicker(stateInterval)
	defer ticker.Stop()

	for {
		select {
		case b := <-s.ready:
			s.publish(b)
			s.free <- b
		case <-ticker.C:
			s.BroadcastState()
		case <-s.stopChan:
			return
		}
	}
}

// publish hands one block to the sinks and every streaming listener
func (s *Server) publish(b *audio.Block) {
	s.peak.Store(int32(audio.Peak(b.Samples)))

	for _, sink := range s.config.Sinks {
		if err := sink.WriteBlock(*b); err != nil && s.config.Debug {
			log.Printf("[DEBUG] Sink write error: %v", err)
		}
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		c.mu.RLock()
		enc := c.encoder
		c.mu.RUnlock()
		if enc == nil {
			continue
		}

		payloads, err := enc.Encode(b.Samples)
		if err != nil {
			log.Printf("Encode error for %s: %v", c.Name, err)
			continue
		}

		for _, p := range payloads {
			frame := protocol.AppendBlock(make([]byte, 0, protocol.BlockHeaderSize+len(p)), b.Sequence, b.Timestamp, p)
			if err := s.sendBinary(c, frame); err != nil {
				c.dropped.Add(1)
				if s.config.Debug {
					log.Printf("[DEBUG] Dropping block %d for %s: %v", b.Sequence, c.Name, err)
				}
			}
		}
	}

	s.published.Add(1)
}

// BroadcastState sends capture/state to every listener past stream/start
func (s *Server) BroadcastState() {
	state := s.captureState()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		c.mu.RLock()
		streaming := c.encoder != nil
		c.mu.RUnlock()
		if streaming {
			s.sendMessage(c, protocol.TypeCaptureState, state)
		}
	}
}

// EndStream tells every listener that no more blocks will follow
func (s *Server) EndStream(reason string) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		s.sendMessage(c, protocol.TypeStreamEnd, protocol.StreamEnd{Reason: reason})
	}
}

func (s *Server) captureState() protocol.CaptureState {
	st := s.capture.Stats()
	return protocol.CaptureState{
		State:    stateName(st.State),
		Sequence: st.LastSequence,
		Blocks:   st.Blocks,
		Dropped:  s.dropped.Load(),
	}
}

func stateName(st capture.State) string {
	switch st {
	case capture.StateRunning:
		return "running"
	case capture.StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Clients returns information about all connected listeners
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		c.mu.RLock()
		clients = append(clients, ClientInfo{
			ID:      c.ID,
			Name:    c.Name,
			Codec:   c.Codec,
			Dropped: c.dropped.Load(),
		})
		c.mu.RUnlock()
	}

	return clients
}

// Stats returns a snapshot of the server counters
func (s *Server) Stats() ServerStats {
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()

	return ServerStats{
		Captured:  s.captured.Load(),
		Dropped:   s.dropped.Load(),
		Published: s.published.Load(),
		Peak:      int(s.peak.Load()),
		Clients:   n,
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

// handleConnection manages a listener connection
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		log.Printf("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	// Wait for client/hello
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if msg.Type != protocol.TypeClientHello {
		log.Printf("Expected %s, got %s", protocol.TypeClientHello, msg.Type)
		return
	}

	var hello protocol.ClientHello
	if err := protocol.DecodePayload(msg, &hello); err != nil {
		log.Printf("Error parsing client hello: %v", err)
		return
	}

	if hello.ClientID == "" || hello.Name == "" {
		log.Printf("Client hello missing required fields")
		return
	}

	log.Printf("Client hello: %s (ID: %s, Roles: %v)", hello.Name, hello.ClientID, hello.SupportedRoles)

	c := &client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		Roles:    hello.SupportedRoles,
		Support:  hello.ListenerSupport,
		sendChan: make(chan interface{}, s.sendBuffer(hello.ListenerSupport)),
	}

	s.clientsMu.Lock()
	if _, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		log.Printf("Client ID %s already connected, rejecting duplicate", hello.ClientID)
		return
	}
	s.clients[c.ID] = c
	s.clientsMu.Unlock()

	defer func() {
		s.removeClient(c)
		log.Printf("Client disconnected: %s", c.Name)
	}()

	serverHello := protocol.ServerHello{
		ServerID:    s.serverID,
		Name:        s.config.Name,
		Version:     protocol.Version,
		ActiveRoles: s.activateRoles(hello.SupportedRoles),
	}

	if err := s.sendMessage(c, protocol.TypeServerHello, serverHello); err != nil {
		log.Printf("Error sending server hello: %v", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	if s.hasRole(c, "listener") {
		s.addClientToStream(c)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleClientMessage(c, data)
	}
}

// sendBuffer sizes a listener's outgoing queue from its advertised capacity
func (s *Server) sendBuffer(support *protocol.ListenerSupport) int {
	if support != nil && support.BufferCapacity > 0 {
		return support.BufferCapacity + 8
	}
	return 100
}

// clientWriter sends queued messages to the listener
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}

			switch v := msg.(type) {
			case []byte:
				c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.Conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					continue
				}
				c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleClientMessage processes messages from listeners
func (s *Server) handleClientMessage(c *client, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypeClientCommand:
		s.handleClientCommand(c, msg)
	case protocol.TypeClientGoodbye:
		var goodbye protocol.ClientGoodbye
		if err := protocol.DecodePayload(msg, &goodbye); err == nil {
			log.Printf("Client %s goodbye: %s", c.Name, goodbye.Reason)
		}
	default:
		if s.config.Debug {
			log.Printf("[DEBUG] Unknown message type: %s", msg.Type)
		}
	}
}

// handleClientCommand pauses or resumes capture for controller clients
func (s *Server) handleClientCommand(c *client, msg protocol.Message) {
	if !s.config.AllowControl || !s.hasRole(c, "controller") {
		log.Printf("Ignoring command from %s: control not permitted", c.Name)
		return
	}

	var cmd protocol.ClientCommand
	if err := protocol.DecodePayload(msg, &cmd); err != nil {
		log.Printf("Error parsing command: %v", err)
		return
	}

	var err error
	switch cmd.Command {
	case protocol.CommandPause:
		err = s.capture.Pause()
	case protocol.CommandResume:
		err = s.capture.Resume()
	default:
		err = fmt.Errorf("unknown command %q", cmd.Command)
	}
	if err != nil {
		log.Printf("Command %s from %s failed: %v", cmd.Command, c.Name, err)
		return
	}

	log.Printf("Capture %s by %s", cmd.Command, c.Name)
	s.BroadcastState()
}

// addClientToStream negotiates a codec and announces the stream
func (s *Server) addClientToStream(c *client) {
	codec := s.negotiateCodec(c)
	format := s.format
	format.Codec = codec

	enc, err := encode.New(format)
	if err != nil && codec != audio.CodecPCM {
		log.Printf("Failed to create %s encoder for %s, falling back to PCM: %v", codec, c.Name, err)
		format.Codec = audio.CodecPCM
		enc, err = encode.New(format)
	}
	if err != nil {
		log.Printf("Failed to create encoder for %s: %v", c.Name, err)
		return
	}

	start := protocol.StreamStart{
		Codec:          format.Codec,
		SampleRate:     format.SampleRate,
		Channels:       format.Channels,
		BitDepth:       format.BitDepth,
		BlockSize:      format.BlockSize,
		ResolutionBits: s.res.Bits(),
	}

	// stream/start must precede the first block, so queue it before the
	// encoder becomes visible to publish
	s.sendMessage(c, protocol.TypeStreamStart, start)
	s.sendMessage(c, protocol.TypeCaptureState, s.captureState())

	c.mu.Lock()
	c.Codec = format.Codec
	c.encoder = enc
	c.mu.Unlock()

	log.Printf("Added client %s with codec %s", c.Name, format.Codec)
}

// negotiateCodec picks the server's preferred codec if the listener supports it
func (s *Server) negotiateCodec(c *client) string {
	if c.Support == nil || s.config.Codec == audio.CodecPCM {
		return audio.CodecPCM
	}

	for _, codec := range c.Support.SupportedCodecs {
		if codec == s.config.Codec {
			return codec
		}
	}
	return audio.CodecPCM
}

// removeClient removes a listener
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	c.mu.Lock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	c.mu.Unlock()

	delete(s.clients, c.ID)
	close(c.sendChan)
}

// sendMessage queues a JSON message for a listener
func (s *Server) sendMessage(c *client, msgType string, payload interface{}) error {
	msg := protocol.Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case c.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// sendBinary queues a binary frame for a listener
func (s *Server) sendBinary(c *client, data []byte) error {
	select {
	case c.sendChan <- data:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// clockMicros returns the server clock in microseconds
func (s *Server) clockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}

// hasRole checks if a client has a role family (e.g. "listener" matches "listener@v1")
func (s *Server) hasRole(c *client, role string) bool {
	for _, r := range c.Roles {
		if r == role || strings.HasPrefix(r, role+"@") {
			return true
		}
	}
	return false
}

// activateRoles returns the roles this server serves from those a client offers
func (s *Server) activateRoles(supportedRoles []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(supportedRoles))

	for _, role := range supportedRoles {
		family := role
		if idx := strings.Index(role, "@"); idx > 0 {
			family = role[:idx]
		}
		if seen[family] {
			continue
		}

		switch family {
		case "listener":
		case "controller":
			if !s.config.AllowControl {
				continue
			}
		default:
			continue
		}
		seen[family] = true
		result = append(result, role)
	}
	return result
}
