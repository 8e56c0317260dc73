package gatt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Decode failure kinds. DecodeError unwraps to one of these.
var (
	ErrEmpty       = errors.New("empty payload")
	ErrTruncated   = errors.New("truncated payload")
	ErrNonASCII    = errors.New("non-ASCII payload")
	ErrOutOfRange  = errors.New("value out of range")
	ErrUnknownRole = errors.New("no decoder for characteristic role")
)

// DecodeError describes a payload that could not be decoded for a characteristic role.
type DecodeError struct {
	Role   Role
	Kind   error // one of ErrEmpty, ErrTruncated, ErrNonASCII, ErrOutOfRange, ErrUnknownRole
	Length int
	Detail string
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s: %v (%d bytes)", e.Role, e.Kind, e.Length)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

func decodeErr(role Role, kind error, data []byte, detail string) error {
	return &DecodeError{Role: role, Kind: kind, Length: len(data), Detail: detail}
}

// Reading is a decoded characteristic value.
type Reading interface {
	Role() Role
	String() string
}

// HeartRate is a heart rate sample in beats per minute.
type HeartRate uint16

func (HeartRate) Role() Role       { return RoleHeartRateMeasurement }
func (h HeartRate) String() string { return fmt.Sprintf("%d bpm", uint16(h)) }

// BatteryLevel is a battery charge percentage in 0..=100.
type BatteryLevel uint8

func (BatteryLevel) Role() Role       { return RoleBatteryLevel }
func (b BatteryLevel) String() string { return fmt.Sprintf("%d %%", uint8(b)) }

// BodySensorLocation is the sensor placement reported by characteristic 0x2A38.
type BodySensorLocation uint8

const (
	LocationOther BodySensorLocation = iota
	LocationChest
	LocationWrist
	LocationFinger
	LocationHand
	LocationEarLobe
	LocationFoot
	LocationReservedForFutureUse
)

var locationLabels = [...]string{
	LocationOther:                "Other",
	LocationChest:                "Chest",
	LocationWrist:                "Wrist",
	LocationFinger:               "Finger",
	LocationHand:                 "Hand",
	LocationEarLobe:              "Ear Lobe",
	LocationFoot:                 "Foot",
	LocationReservedForFutureUse: "Reserved for future use",
}

func (BodySensorLocation) Role() Role { return RoleBodySensorLocation }

func (l BodySensorLocation) String() string {
	if int(l) < len(locationLabels) {
		return locationLabels[l]
	}
	return locationLabels[LocationReservedForFutureUse]
}

// DeviceString is an ASCII device information string (manufacturer or model number).
type DeviceString struct {
	Field Role
	Text  string
}

func (d DeviceString) Role() Role     { return d.Field }
func (d DeviceString) String() string { return d.Text }

// DecodeHeartRate decodes a Heart Rate Measurement payload. Bit 0 of the flags byte selects
// an 8-bit value in byte 1 or a 16-bit value in bytes 1-2. The 16-bit value is read with byte 1
// as the most significant byte.
func DecodeHeartRate(data []byte) (HeartRate, error) {
	return decodeHeartRate(data, binary.BigEndian)
}

// DecodeHeartRateLE is DecodeHeartRate with the 16-bit value read little-endian, as the
// Bluetooth SIG Heart Rate Service defines it.
func DecodeHeartRateLE(data []byte) (HeartRate, error) {
	return decodeHeartRate(data, binary.LittleEndian)
}

func decodeHeartRate(data []byte, order binary.ByteOrder) (HeartRate, error) {
	if len(data) == 0 {
		return 0, decodeErr(RoleHeartRateMeasurement, ErrEmpty, data, "")
	}
	if data[0]&0x01 == 0 {
		if len(data) < 2 {
			return 0, decodeErr(RoleHeartRateMeasurement, ErrTruncated, data, "8-bit value missing")
		}
		return HeartRate(data[1]), nil
	}
	if len(data) < 3 {
		return 0, decodeErr(RoleHeartRateMeasurement, ErrTruncated, data, "16-bit value needs 3 bytes")
	}
	return HeartRate(order.Uint16(data[1:3])), nil
}

// DecodeBatteryLevel decodes the single-byte Battery Level characteristic.
func DecodeBatteryLevel(data []byte) (BatteryLevel, error) {
	if len(data) == 0 {
		return 0, decodeErr(RoleBatteryLevel, ErrEmpty, data, "")
	}
	if data[0] > 100 {
		return 0, decodeErr(RoleBatteryLevel, ErrOutOfRange, data, fmt.Sprintf("%d > 100", data[0]))
	}
	return BatteryLevel(data[0]), nil
}

// DecodeBodySensorLocation decodes the single-byte Body Sensor Location characteristic.
// Values of 7 and above map to LocationReservedForFutureUse.
func DecodeBodySensorLocation(data []byte) (BodySensorLocation, error) {
	if len(data) == 0 {
		return 0, decodeErr(RoleBodySensorLocation, ErrEmpty, data, "")
	}
	if data[0] >= byte(LocationReservedForFutureUse) {
		return LocationReservedForFutureUse, nil
	}
	return BodySensorLocation(data[0]), nil
}

// DecodeDeviceString decodes an ASCII device information string. Trailing NUL padding is
// removed; any byte above 0x7F is an error.
func DecodeDeviceString(field Role, data []byte) (DeviceString, error) {
	if len(data) == 0 {
		return DeviceString{}, decodeErr(field, ErrEmpty, data, "")
	}
	for i, b := range data {
		if b > 0x7f {
			return DeviceString{}, decodeErr(field, ErrNonASCII, data, fmt.Sprintf("byte 0x%02x at offset %d", b, i))
		}
	}
	text := strings.TrimRight(string(data), "\x00")
	if text == "" {
		return DeviceString{}, decodeErr(field, ErrEmpty, data, "only NUL padding")
	}
	return DeviceString{Field: field, Text: text}, nil
}

// Decoder routes a payload to the decoder matching a characteristic role.
type Decoder struct {
	// HeartRateLittleEndian selects SIG little-endian order for 16-bit heart rate values.
	HeartRateLittleEndian bool
}

// Decode decodes data for role. RoleUnknown is never decoded.
func (d Decoder) Decode(role Role, data []byte) (Reading, error) {
	var (
		r   Reading
		err error
	)
	switch role {
	case RoleHeartRateMeasurement:
		var hr HeartRate
		if d.HeartRateLittleEndian {
			hr, err = DecodeHeartRateLE(data)
		} else {
			hr, err = DecodeHeartRate(data)
		}
		r = hr
	case RoleBatteryLevel:
		r, err = DecodeBatteryLevel(data)
	case RoleBodySensorLocation:
		r, err = DecodeBodySensorLocation(data)
	case RoleDeviceManufacturer, RoleDeviceModel:
		r, err = DecodeDeviceString(role, data)
	default:
		err = decodeErr(role, ErrUnknownRole, data, "")
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
