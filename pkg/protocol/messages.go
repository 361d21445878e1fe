// ABOUTME: micstream wire protocol message type definitions
// ABOUTME: Defines JSON control messages exchanged over the WebSocket
package protocol

// Version is the protocol version spoken by this package
const Version = 1

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeStreamStart   = "stream/start"
	TypeStreamEnd     = "stream/end"
	TypeCaptureState  = "capture/state"
	TypeClientCommand = "client/command"
	TypeClientGoodbye = "client/goodbye"
)

// Roles
const (
	RoleListener   = "listener@v1"
	RoleController = "controller@v1"
)

// Capture commands accepted from controller clients
const (
	CommandPause  = "pause"
	CommandResume = "resume"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ClientHello is sent by listeners to initiate the handshake
type ClientHello struct {
	ClientID        string           `json:"client_id"`
	Name            string           `json:"name"`
	Version         int              `json:"version"`
	SupportedRoles  []string         `json:"supported_roles"`
	DeviceInfo      *DeviceInfo      `json:"device_info,omitempty"`
	ListenerSupport *ListenerSupport `json:"listener@v1_support,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ListenerSupport describes which codecs a listener can decode
type ListenerSupport struct {
	SupportedCodecs []string `json:"supported_codecs"`
	BufferCapacity  int      `json:"buffer_capacity"` // blocks
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID    string   `json:"server_id"`
	Name        string   `json:"name"`
	Version     int      `json:"version"`
	ActiveRoles []string `json:"active_roles"`
}

// StreamStart announces the format of the binary blocks that follow
type StreamStart struct {
	Codec          string `json:"codec"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
	BitDepth       int    `json:"bit_depth"`
	BlockSize      int    `json:"block_size"`      // samples per captured block
	ResolutionBits int    `json:"resolution_bits"` // ADC bit depth before conversion
}

// StreamEnd tells listeners no more blocks will follow
type StreamEnd struct {
	Reason string `json:"reason"`
}

// CaptureState reports the capture session to listeners
type CaptureState struct {
	State    string `json:"state"` // "running", "paused" or "stopped"
	Sequence uint32 `json:"sequence"`
	Blocks   uint64 `json:"blocks"`
	Dropped  uint64 `json:"dropped"`
}

// ClientCommand asks the server to pause or resume capture
type ClientCommand struct {
	Command string `json:"command"`
}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "user_request"
}
