package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// DeviceInfo is the identity a device carries in its TXT records.
type DeviceInfo struct {
	Name     string
	Model    string
	Serial   string
	Firmware string
	APIPort  uint16
}

// EncodeTXT builds the TXT record map for a device advertisement.
func EncodeTXT(info *DeviceInfo) TXTRecordMap {
	txt := make(TXTRecordMap)
	txt[TXTKeyName] = info.Name
	txt[TXTKeyModel] = info.Model
	txt[TXTKeySerial] = info.Serial
	txt[TXTKeyFirmware] = info.Firmware
	if info.APIPort > 0 {
		txt[TXTKeyAPIPort] = strconv.FormatUint(uint64(info.APIPort), 10)
	}
	return txt
}

// DecodeTXT parses a device's TXT records.
func DecodeTXT(txt TXTRecordMap) (*DeviceInfo, error) {
	info := &DeviceInfo{}

	var ok bool
	info.Name, ok = txt[TXTKeyName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyName)
	}
	info.Model, ok = txt[TXTKeyModel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyModel)
	}

	// Serial and firmware are informational; absence is tolerated.
	info.Serial = txt[TXTKeySerial]
	info.Firmware = txt[TXTKeyFirmware]

	if raw, ok := txt[TXTKeyAPIPort]; ok {
		port, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: bad api port %q", ErrInvalidTXTRecord, raw)
		}
		info.APIPort = uint16(port)
	}

	return info, nil
}

// StringsToTXTRecords converts "key=value" strings into a map.
// Malformed entries are skipped.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(strs))
	for _, s := range strs {
		key, value, found := strings.Cut(s, "=")
		if !found || key == "" {
			continue
		}
		txt[key] = value
	}
	return txt
}

// TXTRecordsToStrings converts a map into "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	strs := make([]string, 0, len(txt))
	for k, v := range txt {
		strs = append(strs, k+"="+v)
	}
	return strs
}
