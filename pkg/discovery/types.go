// Package discovery finds Aether devices on the local network via
// mDNS. Devices advertise a `_aether._tcp` service whose TXT records
// carry identity and version information.
package discovery

import (
	"errors"
	"fmt"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the mDNS service type Aether devices advertise.
	ServiceType = "_aether._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultControlPort is the framed control session port.
	DefaultControlPort = 9300
)

// TXT record keys.
const (
	// TXTKeyName is the user-visible device name.
	TXTKeyName = "nm"

	// TXTKeyModel is the hardware model tag.
	TXTKeyModel = "md"

	// TXTKeySerial is the device serial number.
	TXTKeySerial = "sn"

	// TXTKeyFirmware is the firmware version.
	TXTKeyFirmware = "fw"

	// TXTKeyAPIPort is the optional HTTP resource API port.
	TXTKeyAPIPort = "api"
)

// BrowseTimeout is the default timeout for browse operations.
const BrowseTimeout = 10 * time.Second

// Discovery errors.
var (
	ErrMissingRequired  = errors.New("missing required TXT field")
	ErrInvalidTXTRecord = errors.New("invalid TXT record format")
	ErrNotFound         = errors.New("device not found")
)

// Device is one Aether device found via mDNS.
type Device struct {
	// InstanceName is the mDNS instance name (e.g. "aether-38f2").
	InstanceName string

	// Host is the advertised hostname (e.g. "aether-38f2.local").
	Host string

	// Port is the framed control session port.
	Port uint16

	// Addresses contains resolved IP addresses from all interfaces.
	Addresses []string

	// Name is the user-visible device name (TXT "nm").
	Name string

	// Model is the hardware model tag (TXT "md").
	Model string

	// Serial is the device serial number (TXT "sn").
	Serial string

	// Firmware is the firmware version (TXT "fw").
	Firmware string

	// APIPort is the HTTP resource API port (TXT "api"), 0 if the
	// device does not expose one.
	APIPort uint16
}

// Endpoint returns a dialable control endpoint for the device,
// preferring a resolved address over the hostname.
func (d *Device) Endpoint() string {
	host := d.Host
	if len(d.Addresses) > 0 {
		host = d.Addresses[0]
	}
	port := d.Port
	if port == 0 {
		port = DefaultControlPort
	}
	return fmt.Sprintf("tcp://%s:%d", host, port)
}
