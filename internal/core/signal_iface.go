package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Frame is a raw encoded payload ready for the wire.
type Frame []byte

// ConnID identifies one live transport session. Opaque to everything but
// the adapter that minted it.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	ID() ConnID
	// TrySend enqueues without blocking. Returns ErrBackpressure when the
	// outbound buffer is full and ErrClosed after Close.
	TrySend(Frame) error
	Close()
}
