package core

// Frame is a raw outbound payload, already encoded for the wire.
type Frame []byte

// SessionID identifies one transport connection, not a participant:
// the same account reconnecting gets a fresh session id.
type SessionID string

// Conn abstracts the transport endpoint a gateway session writes to.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	TrySend(Frame) error
	Close()
}
