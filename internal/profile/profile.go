// Package profile describes the GATT profile exposed by the presenter and the
// bit-exact payloads carried by its characteristics.
package profile

import "fmt"

// Service UUIDs
const (
	EnvironmentServiceUUID = "181a"
	DeviceInfoServiceUUID  = "180a"
	ButtonsServiceUUID     = "b44fabf6-35b2-11ed-883f-d45d6455d2cc"
	AccelServiceUUID       = "a2c21ba5-a2fa-455b-8e02-bcfca3e2ed64"
	FirmwareServiceUUID    = "00001000-b0cd-11ec-871f-d45ddf138840"
)

// Attribute identifies a characteristic value of the profile.
type Attribute int

const (
	AttrUnknown Attribute = iota
	AttrTemperature
	AttrMeasurementInterval
	AttrPresses
	AttrAccel
	AttrFirmwareVersion
	AttrFirmwareMTU
	AttrFirmwareControl
	AttrFirmwareNextVersion
	AttrFirmwareOffset
	AttrFirmware
	AttrManufacturer
	AttrModel
	AttrFirmwareRevision
	AttrHardwareRevision
	AttrMeasurementDescriptor
	AttrTriggerSetting
)

var attributeNames = map[Attribute]string{
	AttrUnknown:             "unknown",
	AttrTemperature:         "temperature",
	AttrMeasurementInterval: "measurement_interval",
	AttrPresses:             "presses",
	AttrAccel:               "accel",
	AttrFirmwareVersion:     "firmware_version",
	AttrFirmwareMTU:         "firmware_mtu",
	AttrFirmwareControl:     "firmware_control",
	AttrFirmwareNextVersion: "firmware_next_version",
	AttrFirmwareOffset:      "firmware_offset",
	AttrFirmware:            "firmware",
	AttrManufacturer:        "manufacturer",
	AttrModel:               "model",
	AttrFirmwareRevision:    "firmware_revision",
	AttrHardwareRevision:    "hardware_revision",

	AttrMeasurementDescriptor: "measurement_descriptor",
	AttrTriggerSetting:        "trigger_setting",
}

func (a Attribute) String() string {
	if name, ok := attributeNames[a]; ok {
		return name
	}
	return fmt.Sprintf("attribute(%d)", int(a))
}

// Property is a bit set of characteristic properties.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropNotify
)

// Characteristic describes one characteristic of a Service.
type Characteristic struct {
	Attr  Attribute
	UUID  string
	Props Property
}

// Service describes one primary service.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Services is the complete GATT table of the presenter.
var Services = []Service{
	{
		UUID: FirmwareServiceUUID,
		Characteristics: []Characteristic{
			{Attr: AttrFirmwareVersion, UUID: "00001001-b0cd-11ec-871f-d45ddf138840", Props: PropRead},
			{Attr: AttrFirmwareMTU, UUID: "00001002-b0cd-11ec-871f-d45ddf138840", Props: PropRead},
			{Attr: AttrFirmwareControl, UUID: "00001003-b0cd-11ec-871f-d45ddf138840", Props: PropWrite},
			{Attr: AttrFirmwareNextVersion, UUID: "00001004-b0cd-11ec-871f-d45ddf138840", Props: PropRead | PropWrite},
			{Attr: AttrFirmwareOffset, UUID: "00001005-b0cd-11ec-871f-d45ddf138840", Props: PropRead | PropWrite},
			{Attr: AttrFirmware, UUID: "00001006-b0cd-11ec-871f-d45ddf138840", Props: PropWrite},
		},
	},
	{
		UUID: EnvironmentServiceUUID,
		Characteristics: []Characteristic{
			{Attr: AttrMeasurementDescriptor, UUID: "290c", Props: PropRead},
			{Attr: AttrTriggerSetting, UUID: "290d", Props: PropRead},
			{Attr: AttrTemperature, UUID: "2a1f", Props: PropRead | PropNotify},
			{Attr: AttrMeasurementInterval, UUID: "2a21", Props: PropRead | PropWrite},
		},
	},
	{
		UUID: DeviceInfoServiceUUID,
		Characteristics: []Characteristic{
			{Attr: AttrManufacturer, UUID: "2a29", Props: PropRead},
			{Attr: AttrModel, UUID: "2a24", Props: PropRead},
			{Attr: AttrFirmwareRevision, UUID: "2a26", Props: PropRead},
			{Attr: AttrHardwareRevision, UUID: "2a27", Props: PropRead},
		},
	},
	{
		UUID: ButtonsServiceUUID,
		Characteristics: []Characteristic{
			{Attr: AttrPresses, UUID: "b4ad9022-35b2-11ed-a76a-d45d6455d2cc", Props: PropRead | PropNotify},
		},
	},
	{
		UUID: AccelServiceUUID,
		Characteristics: []Characteristic{
			{Attr: AttrAccel, UUID: "ba080c41-b7e0-4a4a-9bfd-98a7c4c87deb", Props: PropRead | PropNotify},
		},
	},
}

// Lookup returns the characteristic description of attr.
func Lookup(attr Attribute) (Characteristic, bool) {
	for _, svc := range Services {
		for _, c := range svc.Characteristics {
			if c.Attr == attr {
				return c, true
			}
		}
	}
	return Characteristic{}, false
}
