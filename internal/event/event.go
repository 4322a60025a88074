// Package event defines the values exchanged between the presenter's tasks.
package event

import (
	"fmt"

	"github.com/srg/presenter/internal/profile"
)

// Kind marks the variant of an Event.
type Kind int

const (
	KindProtocol Kind = iota
	KindTick
	KindPresses
	KindAccel
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTick:
		return "tick"
	case KindPresses:
		return "presses"
	case KindAccel:
		return "accel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one input handled by a connection coordinator.
type Event interface {
	Kind() Kind
}

// Tick is emitted by the periodic measurement timer.
type Tick struct{}

func (Tick) Kind() Kind { return KindTick }

// Presses holds the running press counters of buttons A and B.
type Presses [2]uint32

func (Presses) Kind() Kind { return KindPresses }

// AccelSample is one 3-axis accelerometer measurement.
type AccelSample struct {
	X, Y, Z int16
}

func (AccelSample) Kind() Kind { return KindAccel }

// ProtocolEvent is an inbound event of a GATT session.
type ProtocolEvent interface {
	Event
	protocolEvent()
}

// NotifyToggled reports a CCCD write of the peer.
type NotifyToggled struct {
	Attr    profile.Attribute
	Enabled bool
}

// IntervalWritten reports a write of the measurement interval in seconds.
type IntervalWritten struct {
	Seconds uint16
}

// UpdateRequested carries a firmware update write.
type UpdateRequested struct {
	Update UpdateEvent
}

// Unknown is a write the presenter does not handle.
type Unknown struct {
	Attr profile.Attribute
	Data []byte
}

func (NotifyToggled) Kind() Kind   { return KindProtocol }
func (IntervalWritten) Kind() Kind { return KindProtocol }
func (UpdateRequested) Kind() Kind { return KindProtocol }
func (Unknown) Kind() Kind         { return KindProtocol }

func (NotifyToggled) protocolEvent()   {}
func (IntervalWritten) protocolEvent() {}
func (UpdateRequested) protocolEvent() {}
func (Unknown) protocolEvent()         {}
