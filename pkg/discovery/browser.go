package discovery

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for Find operations.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to browse on.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// Browser finds Aether devices via mDNS.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	return &Browser{config: config}
}

// Browse searches for devices until the context ends. Entries from
// multiple interfaces are aggregated by instance name; each device is
// emitted once, with addresses merged as they resolve. The returned
// channel closes when browsing stops.
func (b *Browser) Browse(ctx context.Context) (<-chan *Device, error) {
	out := make(chan *Device)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		devices := make(map[string]*Device)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				dev := entryToDevice(entry)
				if dev == nil {
					continue
				}

				existing, found := devices[dev.InstanceName]
				if found {
					existing.Addresses = mergeAddresses(existing.Addresses, dev.Addresses)
					continue
				}
				devices[dev.InstanceName] = dev
				select {
				case out <- dev:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := devices[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(devices, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...)
	}()

	return out, nil
}

// Find returns the first device whose name or instance name matches,
// case-insensitively. An empty name matches any device. Bounded by the
// configured browse timeout.
func (b *Browser) Find(ctx context.Context, name string) (*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.BrowseTimeout)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case dev, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if name == "" ||
				strings.EqualFold(dev.Name, name) ||
				strings.EqualFold(dev.InstanceName, name) {
				return dev, nil
			}
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToDevice converts a zeroconf entry, returning nil for entries
// whose TXT records do not parse as an Aether device.
func entryToDevice(entry *zeroconf.ServiceEntry) *Device {
	txt := StringsToTXTRecords(entry.Text)
	info, err := DecodeTXT(txt)
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &Device{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    addrs,
		Name:         info.Name,
		Model:        info.Model,
		Serial:       info.Serial,
		Firmware:     info.Firmware,
		APIPort:      info.APIPort,
	}
}

// mergeAddresses adds new addresses to the existing list, avoiding
// duplicates.
func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range incoming {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses carried by a removal entry.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
