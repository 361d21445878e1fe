// ABOUTME: WebSocket listener for micstream capture servers
// ABOUTME: Performs the hello handshake and yields decoded PCM blocks
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/ausculsound/micstream/pkg/audio"
	"github.com/ausculsound/micstream/pkg/audio/decode"
	"github.com/ausculsound/micstream/pkg/protocol"
	"github.com/gorilla/websocket"
)

// ClientConfig holds listener configuration
type ClientConfig struct {
	ServerAddr string
	Path       string
	ClientID   string
	Name       string

	// Codecs the listener can decode, in preference order
	Codecs []string

	// BufferCapacity is how many decoded blocks may wait in Blocks
	BufferCapacity int

	// Control requests the controller role for pause and resume
	Control bool

	DeviceInfo protocol.DeviceInfo
}

// Client is a connected listener
type Client struct {
	config ClientConfig
	conn   *websocket.Conn
	mu     sync.RWMutex
	wmu    sync.Mutex

	serverHello protocol.ServerHello
	format      audio.Format
	decoder     decode.Decoder

	// Message channels
	Blocks chan audio.Block
	Starts chan protocol.StreamStart
	States chan protocol.CaptureState
	Ends   chan protocol.StreamEnd

	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a listener
func NewClient(config ClientConfig) *Client {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if len(config.Codecs) == 0 {
		config.Codecs = []string{audio.CodecOpus, audio.CodecPCM}
	}
	if config.BufferCapacity <= 0 {
		config.BufferCapacity = 64
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config: config,
		Blocks: make(chan audio.Block, config.BufferCapacity),
		Starts: make(chan protocol.StreamStart, 1),
		States: make(chan protocol.CaptureState, 10),
		Ends:   make(chan protocol.StreamEnd, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the server and performs the handshake
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake sends client/hello and waits for server/hello
func (c *Client) handshake() error {
	roles := []string{protocol.RoleListener}
	if c.config.Control {
		roles = append(roles, protocol.RoleController)
	}

	hello := protocol.ClientHello{
		ClientID:       c.config.ClientID,
		Name:           c.config.Name,
		Version:        protocol.Version,
		SupportedRoles: roles,
		DeviceInfo:     &c.config.DeviceInfo,
		ListenerSupport: &protocol.ListenerSupport{
			SupportedCodecs: c.config.Codecs,
			BufferCapacity:  c.config.BufferCapacity,
		},
	}

	if err := c.sendJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg protocol.Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	if msg.Type != protocol.TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", msg.Type)
	}

	var serverHello protocol.ServerHello
	if err := protocol.DecodePayload(msg, &serverHello); err != nil {
		return err
	}

	c.mu.Lock()
	c.serverHello = serverHello
	c.mu.Unlock()

	log.Printf("Handshake complete with %s (ID: %s, roles: %v)", serverHello.Name, serverHello.ServerID, serverHello.ActiveRoles)
	return nil
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg protocol.Message) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected {
		return fmt.Errorf("not connected")
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Printf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		default:
			log.Printf("Unknown WebSocket message type: %d", messageType)
		}
	}
}

// handleBinaryMessage decodes one captured block
func (c *Client) handleBinaryMessage(data []byte) {
	msg, err := protocol.ParseBlock(data)
	if err != nil {
		log.Printf("Invalid binary message: %v", err)
		return
	}

	c.mu.RLock()
	dec := c.decoder
	c.mu.RUnlock()
	if dec == nil {
		log.Printf("Block %d before stream/start, dropping", msg.Sequence)
		return
	}

	samples, err := dec.Decode(msg.Payload)
	if err != nil {
		log.Printf("Decode error for block %d: %v", msg.Sequence, err)
		return
	}

	block := audio.Block{
		Sequence:  msg.Sequence,
		Timestamp: msg.Timestamp,
		Samples:   samples,
	}

	select {
	case c.Blocks <- block:
	case <-c.ctx.Done():
	}
}

// handleJSONMessage routes control messages
func (c *Client) handleJSONMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypeStreamStart:
		var start protocol.StreamStart
		if err := protocol.DecodePayload(msg, &start); err != nil {
			log.Printf("%v", err)
			return
		}
		if err := c.startStream(start); err != nil {
			log.Printf("Cannot play stream: %v", err)
			return
		}
		select {
		case c.Starts <- start:
		default:
		}

	case protocol.TypeCaptureState:
		var state protocol.CaptureState
		if err := protocol.DecodePayload(msg, &state); err != nil {
			log.Printf("%v", err)
			return
		}
		select {
		case c.States <- state:
		default:
			// a newer state follows shortly
		}

	case protocol.TypeStreamEnd:
		var end protocol.StreamEnd
		if err := protocol.DecodePayload(msg, &end); err != nil {
			log.Printf("%v", err)
			return
		}
		log.Printf("Stream ended: %s", end.Reason)
		select {
		case c.Ends <- end:
		default:
		}

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

// startStream replaces the decoder for a new stream format
func (c *Client) startStream(start protocol.StreamStart) error {
	format := audio.Format{
		Codec:      start.Codec,
		SampleRate: start.SampleRate,
		Channels:   start.Channels,
		BitDepth:   start.BitDepth,
		BlockSize:  start.BlockSize,
	}

	dec, err := decode.New(format)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.decoder
	c.decoder = dec
	c.format = format
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	log.Printf("Stream started: %s %dHz %dch, %d-sample blocks from a %d-bit ADC",
		start.Codec, start.SampleRate, start.Channels, start.BlockSize, start.ResolutionBits)
	return nil
}

// Format returns the current stream format
func (c *Client) Format() audio.Format {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// ServerHello returns the server's handshake reply
func (c *Client) ServerHello() protocol.ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverHello
}

// SendCommand asks the server to pause or resume capture
func (c *Client) SendCommand(command string) error {
	return c.sendJSON(protocol.Message{
		Type:    protocol.TypeClientCommand,
		Payload: protocol.ClientCommand{Command: command},
	})
}

// SendGoodbye sends client/goodbye before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.sendJSON(protocol.Message{
		Type:    protocol.TypeClientGoodbye,
		Payload: protocol.ClientGoodbye{Reason: reason},
	})
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		if c.decoder != nil {
			c.decoder.Close()
		}
		log.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
