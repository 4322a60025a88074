package event

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/srg/presenter/internal/profile"
)

// UpdateOp is the kind of a firmware update step.
type UpdateOp int

const (
	UpdateStart UpdateOp = iota + 1
	UpdateFinish
	UpdateBooted
	UpdateSetOffset
	UpdateWrite
	UpdateNextVersion
)

func (op UpdateOp) String() string {
	switch op {
	case UpdateStart:
		return "start"
	case UpdateFinish:
		return "finish"
	case UpdateBooted:
		return "booted"
	case UpdateSetOffset:
		return "set_offset"
	case UpdateWrite:
		return "write"
	case UpdateNextVersion:
		return "next_version"
	default:
		return fmt.Sprintf("update_op(%d)", int(op))
	}
}

// Control codes written to the firmware control characteristic.
const (
	ControlStart  byte = 1
	ControlFinish byte = 2
	ControlBooted byte = 3
)

// ErrMalformedUpdate is returned when a firmware service write cannot be decoded.
var ErrMalformedUpdate = errors.New("malformed firmware update write")

// UpdateEvent is one firmware update step written by the peer.
type UpdateEvent struct {
	Op     UpdateOp
	Offset uint32
	Data   []byte
}

// DecodeUpdate decodes a write to one of the firmware service characteristics.
func DecodeUpdate(attr profile.Attribute, data []byte) (UpdateEvent, error) {
	switch attr {
	case profile.AttrFirmwareControl:
		if len(data) != 1 {
			return UpdateEvent{}, fmt.Errorf("%w: control expects 1 byte, got %d", ErrMalformedUpdate, len(data))
		}
		switch data[0] {
		case ControlStart:
			return UpdateEvent{Op: UpdateStart}, nil
		case ControlFinish:
			return UpdateEvent{Op: UpdateFinish}, nil
		case ControlBooted:
			return UpdateEvent{Op: UpdateBooted}, nil
		default:
			return UpdateEvent{}, fmt.Errorf("%w: unknown control code %d", ErrMalformedUpdate, data[0])
		}
	case profile.AttrFirmwareOffset:
		if len(data) != 4 {
			return UpdateEvent{}, fmt.Errorf("%w: offset expects 4 bytes, got %d", ErrMalformedUpdate, len(data))
		}
		return UpdateEvent{Op: UpdateSetOffset, Offset: binary.LittleEndian.Uint32(data)}, nil
	case profile.AttrFirmware:
		return UpdateEvent{Op: UpdateWrite, Data: append([]byte(nil), data...)}, nil
	case profile.AttrFirmwareNextVersion:
		return UpdateEvent{Op: UpdateNextVersion, Data: append([]byte(nil), data...)}, nil
	default:
		return UpdateEvent{}, fmt.Errorf("%w: %s is not a firmware characteristic", ErrMalformedUpdate, attr)
	}
}
