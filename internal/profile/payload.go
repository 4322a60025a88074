package profile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// PressesPayloadSize is the size of a button notification.
	PressesPayloadSize = 2

	// AccelPayloadSize is the size of an accelerometer notification: three
	// 4-byte slots, each holding a little-endian int16 followed by zero padding.
	AccelPayloadSize = 12

	// MeasurementDescriptorSize is the size of the Environmental Sensing
	// measurement value.
	MeasurementDescriptorSize = 11

	// MaxAdvertisementSize is the legacy advertising PDU payload cap.
	MaxAdvertisementSize = 31

	// flagsLEOnlyGeneralDiscoverable is BLE_GAP_ADV_FLAGS_LE_ONLY_GENERAL_DISC_MODE.
	flagsLEOnlyGeneralDiscoverable = 0x06

	adTypeFlags           = 0x01
	adTypeComplete16Bit   = 0x03
	adTypeCompleteLocalNm = 0x09
)

// ErrAdvertisementTooLong is returned when the device name does not fit into
// the advertising payload.
var ErrAdvertisementTooLong = errors.New("advertisement payload too long")

// EncodePresses narrows both press counters to 8 bits.
func EncodePresses(presses [2]uint32) []byte {
	return []byte{uint8(presses[0]), uint8(presses[1])}
}

// EncodeAccel packs x, y, z into the fixed 12-byte accelerometer layout.
func EncodeAccel(x, y, z int16) []byte {
	buf := make([]byte, AccelPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:], uint16(x))
	binary.LittleEndian.PutUint16(buf[4:], uint16(y))
	binary.LittleEndian.PutUint16(buf[8:], uint16(z))
	return buf
}

// CelsiusToFahrenheitTenths converts a whole-degree Celsius reading into
// tenths of a degree Fahrenheit, truncating toward zero.
//
// The reading is scaled by ten first and the offset is added unscaled, so
// 20 °C yields 392.
func CelsiusToFahrenheitTenths(celsius int) int16 {
	v := int16(celsius) * 10
	return int16(float32(v)*9.0/5.0 + 32.0)
}

// EncodeTemperature encodes a temperature value as little-endian int16.
func EncodeTemperature(v int16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(v))
	return buf
}

// Environmental Sensing measurement fields.
const (
	SamplingArithmeticMean  = 0x02
	ApplicationAir          = 0x01
	UncertaintyNotAvailable = 0xff

	// TriggerFixedInterval is the trigger condition "fixed time interval
	// between transmissions", followed by a uint24 of seconds.
	TriggerFixedInterval = 0x01
)

// EncodeMeasurementDescriptor encodes the measurement value for an
// air temperature reported as the arithmetic mean every updateSeconds.
//
// Layout: flags u16, sampling function u8, measurement period u24 (0, not
// in use), update interval u24, application u8, uncertainty u8.
func EncodeMeasurementDescriptor(updateSeconds uint32) []byte {
	buf := make([]byte, MeasurementDescriptorSize)
	buf[2] = SamplingArithmeticMean
	putUint24(buf[6:], updateSeconds)
	buf[9] = ApplicationAir
	buf[10] = UncertaintyNotAvailable
	return buf
}

// EncodeFixedIntervalTrigger encodes a fixed-interval trigger setting.
func EncodeFixedIntervalTrigger(seconds uint32) []byte {
	buf := make([]byte, 4)
	buf[0] = TriggerFixedInterval
	putUint24(buf[1:], seconds)
	return buf
}

// EncodeInterval encodes the measurement interval as little-endian u16 seconds.
func EncodeInterval(seconds uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, seconds)
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// Advertisement is the connectable scannable advertisement of the presenter.
type Advertisement struct {
	Name string

	data         []byte
	scanResponse []byte
}

// NewAdvertisement builds the advertising payload for name.
//
// Layout: flags (LE only, general discoverable), complete list of 16-bit
// service UUIDs (Environmental Sensing), complete local name. The scan
// response lists Device Information.
func NewAdvertisement(name string) (*Advertisement, error) {
	data := []byte{
		0x02, adTypeFlags, flagsLEOnlyGeneralDiscoverable,
		0x03, adTypeComplete16Bit, 0x1a, 0x18,
	}
	if len(data)+2+len(name) > MaxAdvertisementSize {
		return nil, fmt.Errorf("%w: name %q needs %d bytes, %d available",
			ErrAdvertisementTooLong, name, len(name), MaxAdvertisementSize-len(data)-2)
	}
	data = append(data, byte(1+len(name)), adTypeCompleteLocalNm)
	data = append(data, name...)

	return &Advertisement{
		Name:         name,
		data:         data,
		scanResponse: []byte{0x03, adTypeComplete16Bit, 0x0a, 0x18},
	}, nil
}

// Data returns a copy of the advertising payload.
func (a *Advertisement) Data() []byte {
	return append([]byte(nil), a.data...)
}

// ScanResponse returns a copy of the scan response payload.
func (a *Advertisement) ScanResponse() []byte {
	return append([]byte(nil), a.scanResponse...)
}

// ServiceUUIDs returns the services listed in the advertisement and scan response.
func (a *Advertisement) ServiceUUIDs() []string {
	return []string{EnvironmentServiceUUID, DeviceInfoServiceUUID}
}
