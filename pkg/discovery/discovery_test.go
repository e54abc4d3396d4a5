package discovery

import (
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTXTRoundTrip(t *testing.T) {
	info := &DeviceInfo{
		Name:     "Studio Aether",
		Model:    "AE-2",
		Serial:   "AE2-00481",
		Firmware: "2.4.1",
		APIPort:  9301,
	}

	txt := EncodeTXT(info)
	decoded, err := DecodeTXT(txt)
	require.NoError(t, err)
	assert.Equal(t, info, decoded)
}

func TestDecodeTXT(t *testing.T) {
	t.Run("MissingName", func(t *testing.T) {
		_, err := DecodeTXT(TXTRecordMap{TXTKeyModel: "AE-2"})
		assert.ErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("MissingModel", func(t *testing.T) {
		_, err := DecodeTXT(TXTRecordMap{TXTKeyName: "x"})
		assert.ErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("OptionalFieldsAbsent", func(t *testing.T) {
		info, err := DecodeTXT(TXTRecordMap{
			TXTKeyName:  "Kitchen",
			TXTKeyModel: "AE-1",
		})
		require.NoError(t, err)
		assert.Empty(t, info.Serial)
		assert.Empty(t, info.Firmware)
		assert.Zero(t, info.APIPort)
	})

	t.Run("BadAPIPort", func(t *testing.T) {
		_, err := DecodeTXT(TXTRecordMap{
			TXTKeyName:    "x",
			TXTKeyModel:   "y",
			TXTKeyAPIPort: "not-a-port",
		})
		assert.ErrorIs(t, err, ErrInvalidTXTRecord)

		_, err = DecodeTXT(TXTRecordMap{
			TXTKeyName:    "x",
			TXTKeyModel:   "y",
			TXTKeyAPIPort: "70000",
		})
		assert.ErrorIs(t, err, ErrInvalidTXTRecord)
	})
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{
		"nm=Studio",
		"md=AE-2",
		"fw=2.4.1",
		"malformed",
		"=novalue",
		"api=9301",
	})

	assert.Equal(t, "Studio", txt["nm"])
	assert.Equal(t, "AE-2", txt["md"])
	assert.Equal(t, "9301", txt["api"])
	assert.NotContains(t, txt, "malformed")
	assert.NotContains(t, txt, "")
}

func TestTXTRecordsToStrings(t *testing.T) {
	strs := TXTRecordsToStrings(TXTRecordMap{"nm": "Studio", "md": "AE-2"})
	assert.Len(t, strs, 2)
	assert.Contains(t, strs, "nm=Studio")
	assert.Contains(t, strs, "md=AE-2")
}

func TestEntryToDevice(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("192.168.4.20")},
		Text: TXTRecordsToStrings(EncodeTXT(&DeviceInfo{
			Name:     "Studio Aether",
			Model:    "AE-2",
			Serial:   "AE2-00481",
			Firmware: "2.4.1",
			APIPort:  9301,
		})),
	}
	entry.Instance = "aether-38f2"
	entry.HostName = "aether-38f2.local"
	entry.Port = 9300

	dev := entryToDevice(entry)
	require.NotNil(t, dev)
	assert.Equal(t, "aether-38f2", dev.InstanceName)
	assert.Equal(t, "Studio Aether", dev.Name)
	assert.Equal(t, uint16(9300), dev.Port)
	assert.Equal(t, uint16(9301), dev.APIPort)
	assert.Equal(t, []string{"192.168.4.20"}, dev.Addresses)
}

func TestEntryToDeviceForeignService(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		Text: []string{"printer=yes"},
	}
	entry.Instance = "not-aether"

	assert.Nil(t, entryToDevice(entry))
}

func TestMergeAddresses(t *testing.T) {
	merged := mergeAddresses(
		[]string{"192.168.4.20", "fe80::1"},
		[]string{"192.168.4.20", "10.0.0.5"},
	)
	assert.Equal(t, []string{"192.168.4.20", "fe80::1", "10.0.0.5"}, merged)
}

func TestRemoveAddresses(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("192.168.4.20")},
	}

	remaining := removeAddresses([]string{"192.168.4.20", "10.0.0.5"}, entry)
	assert.Equal(t, []string{"10.0.0.5"}, remaining)
}

func TestDeviceEndpoint(t *testing.T) {
	t.Run("PrefersAddress", func(t *testing.T) {
		dev := &Device{Host: "aether.local", Port: 9300, Addresses: []string{"192.168.4.20"}}
		assert.Equal(t, "tcp://192.168.4.20:9300", dev.Endpoint())
	})

	t.Run("FallsBackToHost", func(t *testing.T) {
		dev := &Device{Host: "aether.local", Port: 9300}
		assert.Equal(t, "tcp://aether.local:9300", dev.Endpoint())
	})

	t.Run("DefaultPort", func(t *testing.T) {
		dev := &Device{Host: "aether.local"}
		assert.Equal(t, "tcp://aether.local:9300", dev.Endpoint())
	})
}

func TestDefaultBrowserConfig(t *testing.T) {
	cfg := DefaultBrowserConfig()
	assert.Equal(t, BrowseTimeout, cfg.BrowseTimeout)
	assert.Empty(t, cfg.Interface)
}
