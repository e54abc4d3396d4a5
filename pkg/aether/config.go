package aether

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aetherlab/aether-go/pkg/log"
)

// Configuration defaults.
const (
	DefaultAckTimeout     = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultQueueDepth     = 16
	DefaultStreamBuffer   = 32
	DefaultTelemetryRate  = 2 * time.Second
)

// Duration wraps time.Duration for YAML configs written as "500ms",
// "5s", "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds client configuration.
type Config struct {
	// Endpoint is the device endpoint URL (tcp://, tls://, ws://, wss://).
	Endpoint string `yaml:"endpoint"`

	// ClientID identifies this client in the hello exchange.
	// Defaults to the hostname.
	ClientID string `yaml:"client_id"`

	// SSLVerify controls certificate verification for tls:// and
	// wss:// endpoints.
	SSLVerify bool `yaml:"ssl_verify"`

	// ConnectTimeout bounds dialing and the hello exchange.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// AckTimeout bounds the wait for a command acknowledgment,
	// measured from submission.
	AckTimeout Duration `yaml:"ack_timeout"`

	// TelemetryRate is the default subscription rate hint. It also
	// derives the silence window when SilenceWindow is unset.
	TelemetryRate Duration `yaml:"telemetry_rate"`

	// SilenceWindow overrides the derived liveness window.
	SilenceWindow Duration `yaml:"silence_window"`

	// StreamBuffer is the per-subscription snapshot buffer capacity.
	StreamBuffer int `yaml:"stream_buffer"`

	// QueueDepth bounds the offline command queue.
	QueueDepth int `yaml:"queue_depth"`

	// AutoReconnect enables reconnection with backoff on session loss.
	AutoReconnect bool `yaml:"auto_reconnect"`

	// MaxReconnectAttempts bounds reconnection attempts per outage.
	// Zero means retry forever.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// MaxMessageSize bounds frame sizes in both directions.
	// Zero uses the transport default.
	MaxMessageSize uint32 `yaml:"max_message_size"`

	// LogFile, when set, appends CBOR protocol events to this path.
	LogFile string `yaml:"log_file"`

	// Logger receives protocol events. When nil and LogFile is set, a
	// file logger is created; when both are set they are combined.
	Logger log.Logger `yaml:"-"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		ClientID:       hostname,
		SSLVerify:      true,
		ConnectTimeout: Duration(DefaultConnectTimeout),
		AckTimeout:     Duration(DefaultAckTimeout),
		TelemetryRate:  Duration(DefaultTelemetryRate),
		StreamBuffer:   DefaultStreamBuffer,
		QueueDepth:     DefaultQueueDepth,
		AutoReconnect:  true,
	}
}

// LoadConfig reads a YAML config file and applies environment
// overrides. A .env file in the working directory is loaded first if
// present. Path may be empty for environment-only configuration.
func LoadConfig(path string) (Config, error) {
	// Best effort; absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays AETHER_* environment variables onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AETHER_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("AETHER_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("AETHER_SSL_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SSLVerify = b
		}
	}
	if v := os.Getenv("AETHER_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("AETHER_ACK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AckTimeout = Duration(d)
		}
	}
}

// silenceWindow returns the configured or derived liveness window.
func (c *Config) silenceWindow() time.Duration {
	if c.SilenceWindow > 0 {
		return c.SilenceWindow.Std()
	}
	return 0 // derived from TelemetryRate by the transport
}

// normalized fills zero fields with defaults.
func (c *Config) normalized() Config {
	out := *c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if out.AckTimeout <= 0 {
		out.AckTimeout = Duration(DefaultAckTimeout)
	}
	if out.TelemetryRate <= 0 {
		out.TelemetryRate = Duration(DefaultTelemetryRate)
	}
	if out.StreamBuffer <= 0 {
		out.StreamBuffer = DefaultStreamBuffer
	}
	if out.QueueDepth <= 0 {
		out.QueueDepth = DefaultQueueDepth
	}
	return out
}
