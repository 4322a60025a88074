// Package link declares the link-layer and GATT session interface consumed by
// the presenter core.
package link

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/profile"
)

// Connection is an established link to one peer.
type Connection interface {
	ID() string
	RemoteAddr() string
}

// Link is the peripheral side of the wireless attribute protocol.
type Link interface {
	// Advertise advertises adv until one peer connects.
	Advertise(ctx context.Context, adv *profile.Advertisement) (Connection, error)

	// Run serves the GATT session of conn for its lifetime, calling dispatch
	// once per inbound event. It returns nil when the peer disconnects and a
	// *SessionError when the session fails.
	Run(ctx context.Context, conn Connection, dispatch func(event.ProtocolEvent)) error

	// Notify pushes data of attr to the peer of conn.
	Notify(conn Connection, attr profile.Attribute, data []byte) error

	// SetValue publishes the current readable value of attr.
	SetValue(attr profile.Attribute, data []byte) error

	// Disconnect terminates conn.
	Disconnect(conn Connection) error
}

var (
	ErrNotConnected      = errors.New("not connected")
	ErrNotSubscribed     = errors.New("peer not subscribed")
	ErrUnknownAttribute  = errors.New("unknown attribute")
	ErrAdvertisingFailed = errors.New("advertising failed")
)

// SessionError reports a failed GATT session.
type SessionError struct {
	Conn string
	Err  error
}

func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("session %s: %v", e.Conn, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NormalizeError maps known BLE stack error strings to link sentinels.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNotSubscribed):
		return err
	case strings.Contains(msg, "disconnected"), strings.Contains(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "bluetooth is turned off"), strings.Contains(msg, "invalid state"):
		return fmt.Errorf("%w: %v", ErrAdvertisingFailed, err)
	default:
		return err
	}
}
