package ws

type OpCode int

// ProtocolVersion is the exact server/client WS protocol version.
// Bump this only for breaking wire-contract changes.
const ProtocolVersion = 1

const (
	// DISPATCH - Events and commands with type field
	OpDispatch OpCode = 0

	// Lifecycle ops (Server -> Client)
	OpHello OpCode = 1
	OpReady OpCode = 2
)

// Event types (Server -> Client via DISPATCH)
const (
	EventOfferCreated  = "OFFER_CREATED"
	EventOfferAccepted = "OFFER_ACCEPTED"
	EventOfferRejected = "OFFER_REJECTED"
	EventProductSold   = "PRODUCT_SOLD"
	EventPong          = "PONG"
	EventError         = "ERROR"
)

// Command types (Client -> Server via DISPATCH)
const (
	CmdPing = "PING"
)

type WSMessage struct {
	Op   OpCode `json:"op"`
	Type string `json:"t,omitempty"` // only for DISPATCH
	Data any    `json:"d,omitempty"`
	Seq  *int64 `json:"s,omitempty"`
}

type HelloPayload struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval_ms"`
}

type ReadyPayload struct {
	ProtocolVersion int    `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	AccountID       string `json:"account_id"`
	Username        string `json:"username"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
