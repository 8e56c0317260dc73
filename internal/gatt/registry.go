package gatt

import (
	"fmt"
	"strings"
)

// Well-known GATT UUIDs (16-bit short form, normalized)
const (
	DeviceInformationServiceUUID = "180a"
	BatteryServiceUUID           = "180f"
	HeartRateServiceUUID         = "180d"

	ManufacturerNameUUID     = "2a29"
	ModelNumberUUID          = "2a24"
	BatteryLevelUUID         = "2a19"
	HeartRateMeasurementUUID = "2a37"
	BodySensorLocationUUID   = "2a38"
)

// Role is the semantic role of a characteristic as resolved by the registry.
type Role int

const (
	RoleUnknown Role = iota
	RoleDeviceManufacturer
	RoleDeviceModel
	RoleBatteryLevel
	RoleHeartRateMeasurement
	RoleBodySensorLocation
)

func (r Role) String() string {
	switch r {
	case RoleDeviceManufacturer:
		return "DeviceManufacturer"
	case RoleDeviceModel:
		return "DeviceModel"
	case RoleBatteryLevel:
		return "BatteryLevel"
	case RoleHeartRateMeasurement:
		return "HeartRateMeasurement"
	case RoleBodySensorLocation:
		return "BodySensorLocation"
	default:
		return "Unknown"
	}
}

// ServiceKind identifies one of the three top-level services this client cares about.
type ServiceKind int

const (
	ServiceUnknown ServiceKind = iota
	ServiceDeviceInformation
	ServiceBattery
	ServiceHeartRate
)

func (k ServiceKind) String() string {
	switch k {
	case ServiceDeviceInformation:
		return "DeviceInformation"
	case ServiceBattery:
		return "Battery"
	case ServiceHeartRate:
		return "HeartRate"
	default:
		return "Unknown"
	}
}

// Property is a characteristic capability flag.
type Property uint8

const (
	PropertyRead Property = 1 << iota
	PropertyNotify
	PropertyIndicate
)

// Readable reports whether a one-shot read may be issued.
func (p Property) Readable() bool { return p&PropertyRead != 0 }

// Notifiable reports whether value updates can be subscribed to (notify or indicate).
func (p Property) Notifiable() bool { return p&(PropertyNotify|PropertyIndicate) != 0 }

func (p Property) String() string {
	var parts []string
	if p&PropertyRead != 0 {
		parts = append(parts, "read")
	}
	if p&PropertyNotify != 0 {
		parts = append(parts, "notify")
	}
	if p&PropertyIndicate != 0 {
		parts = append(parts, "indicate")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// ParseProperty parses a comma-separated flag list such as "read,notify".
func ParseProperty(s string) (Property, error) {
	var p Property
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "read":
			p |= PropertyRead
		case "notify":
			p |= PropertyNotify
		case "indicate":
			p |= PropertyIndicate
		default:
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
	}
	return p, nil
}

type characteristicEntry struct {
	role    Role
	service ServiceKind
	name    string
	props   Property
}

type serviceEntry struct {
	kind ServiceKind
	name string
}

var characteristics = map[string]characteristicEntry{
	ManufacturerNameUUID:     {RoleDeviceManufacturer, ServiceDeviceInformation, "Manufacturer Name String", PropertyRead},
	ModelNumberUUID:          {RoleDeviceModel, ServiceDeviceInformation, "Model Number String", PropertyRead},
	BatteryLevelUUID:         {RoleBatteryLevel, ServiceBattery, "Battery Level", PropertyRead | PropertyNotify},
	HeartRateMeasurementUUID: {RoleHeartRateMeasurement, ServiceHeartRate, "Heart Rate Measurement", PropertyNotify},
	BodySensorLocationUUID:   {RoleBodySensorLocation, ServiceHeartRate, "Body Sensor Location", PropertyRead},
}

var services = map[string]serviceEntry{
	DeviceInformationServiceUUID: {ServiceDeviceInformation, "Device Information"},
	BatteryServiceUUID:           {ServiceBattery, "Battery Service"},
	HeartRateServiceUUID:         {ServiceHeartRate, "Heart Rate"},
}

// scanServices is the scan and service-discovery filter. Order matches the advertised
// preference: device information, heart rate, battery.
var scanServices = []string{DeviceInformationServiceUUID, HeartRateServiceUUID, BatteryServiceUUID}

// Classify maps a characteristic UUID in any accepted form to its role. Unknown UUIDs map to
// RoleUnknown; Classify never fails.
func Classify(uuid string) Role {
	if e, ok := characteristics[NormalizeUUID(uuid)]; ok {
		return e.role
	}
	return RoleUnknown
}

// ClassifyService maps a service UUID to its kind, ServiceUnknown when unrecognized.
func ClassifyService(uuid string) ServiceKind {
	if e, ok := services[NormalizeUUID(uuid)]; ok {
		return e.kind
	}
	return ServiceUnknown
}

// ScanServices returns the service UUIDs used to filter scanning and service discovery.
func ScanServices() []string {
	out := make([]string, len(scanServices))
	copy(out, scanServices)
	return out
}

// KnownName returns a human-readable name for a known service or characteristic UUID,
// or an empty string.
func KnownName(uuid string) string {
	u := NormalizeUUID(uuid)
	if e, ok := services[u]; ok {
		return e.name
	}
	if e, ok := characteristics[u]; ok {
		return e.name
	}
	return ""
}

// UUID returns the normalized characteristic UUID for the role, empty for RoleUnknown.
func (r Role) UUID() string {
	for uuid, e := range characteristics {
		if e.role == r {
			return uuid
		}
	}
	return ""
}

// Service returns the service the role's characteristic belongs to.
func (r Role) Service() ServiceKind {
	if e, ok := characteristics[r.UUID()]; ok {
		return e.service
	}
	return ServiceUnknown
}

// DefaultProperties returns the capability flags the GATT profile mandates for the role.
// Backends that cannot report characteristic properties use this instead.
func (r Role) DefaultProperties() Property {
	if e, ok := characteristics[r.UUID()]; ok {
		return e.props
	}
	return 0
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{
		RoleDeviceManufacturer,
		RoleDeviceModel,
		RoleBatteryLevel,
		RoleHeartRateMeasurement,
		RoleBodySensorLocation,
	}
}
