package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aetherlab/aether-go/pkg/aether"
	"github.com/aetherlab/aether-go/pkg/discovery"
	"github.com/aetherlab/aether-go/pkg/rest"
)

// commandContext resolves shared flags into clients. The endpoint can
// come from --endpoint, the config file, or mDNS discovery by name.
type commandContext struct {
	endpointFlag *string
	configFlag   *string
	deviceFlag   *string
	apiFlag      *string

	// Cached discovery result so endpoint and API resolution browse
	// at most once per invocation.
	found *discovery.Device
}

func newCommandContext(endpoint, config, device, api *string) *commandContext {
	return &commandContext{
		endpointFlag: endpoint,
		configFlag:   config,
		deviceFlag:   device,
		apiFlag:      api,
	}
}

// loadConfig loads the config file (or defaults) and applies flags.
func (c *commandContext) loadConfig() (aether.Config, error) {
	cfg, err := aether.LoadConfig(*c.configFlag)
	if err != nil {
		return aether.Config{}, err
	}
	if *c.endpointFlag != "" {
		cfg.Endpoint = *c.endpointFlag
	}
	return cfg, nil
}

// discover finds the named device, browsing once per invocation.
func (c *commandContext) discover(ctx context.Context) (*discovery.Device, error) {
	if c.found != nil {
		return c.found, nil
	}
	browser := discovery.NewBrowser(discovery.DefaultBrowserConfig())
	dev, err := browser.Find(ctx, *c.deviceFlag)
	if err != nil {
		if errors.Is(err, discovery.ErrNotFound) && *c.deviceFlag != "" {
			return nil, fmt.Errorf("device %q not found on the local network", *c.deviceFlag)
		}
		return nil, err
	}
	c.found = dev
	return dev, nil
}

// resolveConfig produces a complete config, discovering the endpoint
// when none is set.
func (c *commandContext) resolveConfig(ctx context.Context) (aether.Config, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return aether.Config{}, err
	}
	if cfg.Endpoint == "" {
		dev, err := c.discover(ctx)
		if err != nil {
			return aether.Config{}, err
		}
		cfg.Endpoint = dev.Endpoint()
	}
	return cfg, nil
}

// openClient opens a control session with the resolved device.
func (c *commandContext) openClient(ctx context.Context) (*aether.Client, error) {
	cfg, err := c.resolveConfig(ctx)
	if err != nil {
		return nil, err
	}
	return aether.Open(ctx, cfg)
}

// restClient builds a client for the device's HTTP resource API.
func (c *commandContext) restClient(ctx context.Context) (*rest.Client, error) {
	if *c.apiFlag != "" {
		return rest.NewClient(*c.apiFlag), nil
	}

	dev, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}
	if dev.APIPort == 0 {
		return nil, fmt.Errorf("device %q does not advertise an HTTP API; use --api", dev.Name)
	}

	host := dev.Host
	if len(dev.Addresses) > 0 {
		host = dev.Addresses[0]
	}
	return rest.NewClient(fmt.Sprintf("http://%s:%d", host, dev.APIPort)), nil
}
