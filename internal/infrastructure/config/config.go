package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Transponder.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Host      HostConfig      `yaml:"host"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Audio     AudioConfig     `yaml:"audio"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Directory DirectoryConfig `yaml:"directory"`
	Version   VersionConfig   `yaml:"version"`

	// Hosts holds per-hostname sections. The section matching Host.Name is
	// merged over the shared values after loading.
	Hosts map[string]HostOverride `yaml:"hosts"`
}

// HostConfig identifies the appliance this process runs on.
type HostConfig struct {
	// Name scopes the MQTT roster and panel topics. Defaults to os.Hostname().
	Name string `yaml:"name"`
}

// HostOverride contains the values a single host may override.
type HostOverride struct {
	Mailboxes []StationConfig `yaml:"mailboxes"`
	Gain      *float64        `yaml:"gain"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains operator HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains operator token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Hardware driver names.
const (
	HardwareDriverMQTT = "mqtt"
	HardwareDriverSim  = "sim"
)

// HardwareConfig selects the button/light driver.
type HardwareConfig struct {
	// Driver is "mqtt" (remote panel over the broker) or "sim" (in-process board).
	Driver string `yaml:"driver"`

	// PixelCount is the number of lights on the strip, used by the boot spinner.
	PixelCount int `yaml:"pixel_count"`

	// SpinnerInterval is the step time of the boot spinner.
	SpinnerInterval time.Duration `yaml:"spinner_interval"`
}

// AudioConfig contains capture, storage and playback settings.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`

	// ChunkBytes is the fixed read size of the capture loop.
	ChunkBytes int `yaml:"chunk_bytes"`

	// Gain is the playback peak target in dBFS (0 = full scale).
	Gain float64 `yaml:"gain"`

	// Compress stores audio blobs zstd-compressed.
	Compress bool `yaml:"compress"`

	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
}

// CaptureConfig describes the capture subprocess producing raw PCM on stdout.
type CaptureConfig struct {
	Binary             string        `yaml:"binary"`
	Args               []string      `yaml:"args"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
}

// PlaybackConfig describes the playback command reading raw PCM on stdin.
type PlaybackConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
}

// MailboxConfig contains the interaction timings.
//
// HoldThreshold and UnlockTTL have differed between deployments
// (0.2s/0.5s and 20s/60s); both are configuration, not constants.
type MailboxConfig struct {
	Tick           time.Duration `yaml:"tick"`
	HoldThreshold  time.Duration `yaml:"hold_threshold"`
	LongPress      time.Duration `yaml:"long_press"`
	PressTimeout   time.Duration `yaml:"press_timeout"`
	UnlockTTL      time.Duration `yaml:"unlock_ttl"`
	Drain          time.Duration `yaml:"drain"`
	UploadAttempts int           `yaml:"upload_attempts"`
	UploadBackoff  time.Duration `yaml:"upload_backoff"`
}

// Directory source names.
const (
	DirectorySourceMQTT   = "mqtt"
	DirectorySourceStatic = "static"
)

// DirectoryConfig selects where the station roster comes from.
type DirectoryConfig struct {
	Source    string          `yaml:"source"`
	Mailboxes []StationConfig `yaml:"mailboxes"`
}

// StationConfig is one roster entry. Field names follow the remote
// roster documents.
type StationConfig struct {
	ID        string `yaml:"id" json:"id,omitempty"`
	LEDIndex  int    `yaml:"led_index" json:"led_index"`
	ButtonPin int    `yaml:"button_pin" json:"button_pin"`
	Pin       string `yaml:"pin" json:"pin"`
}

// VersionConfig controls the remote version watch.
type VersionConfig struct {
	Watch bool `yaml:"watch"`

	// Running overrides the build version used for comparison.
	Running string `yaml:"running"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. The hosts section matching the host name
//
// Environment variables follow the pattern: TRANSPONDER_SECTION_KEY
// For example: TRANSPONDER_DATABASE_PATH, TRANSPONDER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Host.Name == "" {
		name, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving host name: %w", err)
		}
		cfg.Host.Name = name
	}
	cfg.applyHostOverride()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/transponder.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "transponder",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Hardware: HardwareConfig{
			Driver:          HardwareDriverMQTT,
			PixelCount:      20,
			SpinnerInterval: 100 * time.Millisecond,
		},
		Audio: AudioConfig{
			SampleRate: 22050,
			ChunkBytes: 4096 * 2,
			Gain:       0,
			Capture: CaptureConfig{
				Binary: "arecord",
				Args: []string{
					"-D", "plughw:1,0",
					"--channels", "1",
					"--format", "S16_LE",
					"--rate", "22050",
					"--buffer-size", "4096",
					"--file-type", "raw",
				},
				RestartDelay:       2 * time.Second,
				MaxRestartAttempts: 0,
			},
			Playback: PlaybackConfig{
				Binary: "aplay",
				Args: []string{
					"--channels", "1",
					"--format", "S16_LE",
					"--rate", "22050",
					"--file-type", "raw",
				},
			},
		},
		Mailbox: MailboxConfig{
			Tick:           100 * time.Millisecond,
			HoldThreshold:  500 * time.Millisecond,
			LongPress:      500 * time.Millisecond,
			PressTimeout:   2 * time.Second,
			UnlockTTL:      20 * time.Second,
			Drain:          250 * time.Millisecond,
			UploadAttempts: 5,
			UploadBackoff:  time.Second,
		},
		Directory: DirectoryConfig{
			Source: DirectorySourceMQTT,
		},
		Version: VersionConfig{
			Watch: true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TRANSPONDER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRANSPONDER_HOST_NAME"); v != "" {
		cfg.Host.Name = v
	}

	// Database
	if v := os.Getenv("TRANSPONDER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TRANSPONDER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TRANSPONDER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TRANSPONDER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TRANSPONDER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("TRANSPONDER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Operator API tokens
	if v := os.Getenv("TRANSPONDER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// applyHostOverride merges the hosts section for Host.Name, if any.
func (c *Config) applyHostOverride() {
	override, ok := c.Hosts[c.Host.Name]
	if !ok {
		return
	}
	if len(override.Mailboxes) > 0 {
		c.Directory.Mailboxes = override.Mailboxes
	}
	if override.Gain != nil {
		c.Audio.Gain = *override.Gain
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Host.Name == "" {
		errs = append(errs, "host.name is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// Operator tokens are signed with this secret; a weak one lets
		// anyone on the LAN read and retry uploads.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api.enabled (set TRANSPONDER_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	switch c.Hardware.Driver {
	case HardwareDriverMQTT, HardwareDriverSim:
	default:
		errs = append(errs, fmt.Sprintf("hardware.driver %q must be %q or %q", c.Hardware.Driver, HardwareDriverMQTT, HardwareDriverSim))
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, "audio.sample_rate must be positive")
	}
	if c.Audio.ChunkBytes <= 0 || c.Audio.ChunkBytes%2 != 0 {
		errs = append(errs, "audio.chunk_bytes must be a positive multiple of 2")
	}
	if c.Audio.Gain > 0 {
		errs = append(errs, "audio.gain must be <= 0 dBFS")
	}
	if c.Audio.Capture.Binary == "" {
		errs = append(errs, "audio.capture.binary is required")
	}
	if c.Audio.Playback.Binary == "" {
		errs = append(errs, "audio.playback.binary is required")
	}

	m := c.Mailbox
	if m.Tick <= 0 {
		errs = append(errs, "mailbox.tick must be positive")
	}
	if m.HoldThreshold < m.Tick {
		errs = append(errs, "mailbox.hold_threshold must be at least one tick")
	}
	if m.LongPress <= 0 {
		errs = append(errs, "mailbox.long_press must be positive")
	}
	if m.PressTimeout <= 0 {
		errs = append(errs, "mailbox.press_timeout must be positive")
	}
	if m.UnlockTTL < 0 {
		errs = append(errs, "mailbox.unlock_ttl must not be negative")
	}
	if m.Drain < 0 {
		errs = append(errs, "mailbox.drain must not be negative")
	}
	if m.UploadAttempts < 1 {
		errs = append(errs, "mailbox.upload_attempts must be at least 1")
	}

	switch c.Directory.Source {
	case DirectorySourceMQTT, DirectorySourceStatic:
	default:
		errs = append(errs, fmt.Sprintf("directory.source %q must be %q or %q", c.Directory.Source, DirectorySourceMQTT, DirectorySourceStatic))
	}

	seen := make(map[string]bool, len(c.Directory.Mailboxes))
	for i, mb := range c.Directory.Mailboxes {
		if mb.ID == "" {
			errs = append(errs, fmt.Sprintf("directory.mailboxes[%d].id is required", i))
			continue
		}
		if seen[mb.ID] {
			errs = append(errs, fmt.Sprintf("directory.mailboxes[%d].id %q is duplicated", i, mb.ID))
		}
		seen[mb.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
