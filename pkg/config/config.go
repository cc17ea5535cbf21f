// Package config provides configuration structures and loading logic for the gateway.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultNetwork          = "regtest"
	DefaultListen           = "127.0.0.1:50051"
	DefaultServerName       = "cln"
	DefaultService          = "cln.Node"
	DefaultKeyAlgorithm     = "ecdsa-p256"
	DefaultRSABits          = 2048
	DefaultValidity         = Duration(10 * 365 * 24 * time.Hour)
	DefaultHandshakeTimeout = Duration(10 * time.Second)
	DefaultServiceName      = "polis-gateway"

	envPrefix = "POLIS_GATEWAY_"
)

var (
	networks      = []string{"bitcoin", "testnet", "testnet4", "signet", "regtest"}
	keyAlgorithms = []string{"ecdsa-p256", "ecdsa-p384", "rsa"}
	logLevels     = []string{"debug", "info", "warn", "error"}
	logFormats    = []string{"json", "text", "pretty"}
)

// Config holds the global configuration for the gateway.
type Config struct {
	Network string `yaml:"network"`
	DataDir string `yaml:"data_dir"`

	GRPC      GRPCConfig      `yaml:"grpc"`
	PKI       PKIConfig       `yaml:"pki"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GRPCConfig holds configuration for the mutual TLS gRPC listener.
type GRPCConfig struct {
	Listen string `yaml:"listen"`
	// ServerName is the logical name clients verify. It is always present in
	// the server certificate regardless of the listen host.
	ServerName       string   `yaml:"server_name"`
	ExtraDNSNames    []string `yaml:"extra_dns_names,omitempty"`
	ExtraIPs         []string `yaml:"extra_ips,omitempty"`
	Service          string   `yaml:"service"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
}

// PKIConfig holds parameters for newly generated artifacts. Existing files are
// never regenerated because these change.
type PKIConfig struct {
	KeyAlgorithm string   `yaml:"key_algorithm"`
	RSABits      int      `yaml:"rsa_bits"`
	Validity     Duration `yaml:"validity"`
	Organization string   `yaml:"organization,omitempty"`
}

// AdminConfig holds configuration for the plaintext admin listener. An empty
// Listen disables it.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Network: DefaultNetwork,
		DataDir: defaultDataDir(),
		GRPC: GRPCConfig{
			Listen:           DefaultListen,
			ServerName:       DefaultServerName,
			Service:          DefaultService,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		PKI: PKIConfig{
			KeyAlgorithm: DefaultKeyAlgorithm,
			RSABits:      DefaultRSABits,
			Validity:     DefaultValidity,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".polis-gateway"
	}
	return filepath.Join(home, ".polis-gateway")
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ArtifactDir is the directory holding the six TLS artifacts for the
// configured network.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.DataDir, c.Network)
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"NETWORK":       &cfg.Network,
		"DATA_DIR":      &cfg.DataDir,
		"GRPC_LISTEN":   &cfg.GRPC.Listen,
		"SERVER_NAME":   &cfg.GRPC.ServerName,
		"KEY_ALGORITHM": &cfg.PKI.KeyAlgorithm,
		"ADMIN_LISTEN":  &cfg.Admin.Listen,
		"LOG_LEVEL":     &cfg.Logging.Level,
		"LOG_FORMAT":    &cfg.Logging.Format,
		"OTLP_ENDPOINT": &cfg.Telemetry.OTLPEndpoint,
	}
	for name, dst := range strs {
		if val := os.Getenv(envPrefix + name); val != "" {
			*dst = val
		}
	}

	if val := os.Getenv(envPrefix + "EXTRA_DNS_NAMES"); val != "" {
		cfg.GRPC.ExtraDNSNames = splitList(val)
	}
	if val := os.Getenv(envPrefix + "EXTRA_IPS"); val != "" {
		cfg.GRPC.ExtraIPs = splitList(val)
	}
	if val := os.Getenv(envPrefix + "OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv(envPrefix + "RSA_BITS"); val != "" {
		bits, err := strconv.Atoi(val)
		if err != nil {
			return NewConfigValidationError("pki.rsa_bits", val, "must be an integer").
				WithSuggestion("Unset " + envPrefix + "RSA_BITS or set it to e.g. 3072")
		}
		cfg.PKI.RSABits = bits
	}
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if !slices.Contains(networks, c.Network) {
		return NewConfigValidationError("network", c.Network, "unknown network").
			WithSuggestion("Use one of: " + strings.Join(networks, ", "))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return NewConfigMissingError("data_dir")
	}

	if err := c.GRPC.Validate(); err != nil {
		return fmt.Errorf("grpc configuration: %w", err)
	}
	if err := c.PKI.Validate(); err != nil {
		return fmt.Errorf("pki configuration: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin configuration: %w", err)
	}
	if c.Admin.Listen != "" && c.Admin.Listen == c.GRPC.Listen {
		return NewConfigValidationError("admin.listen", c.Admin.Listen, "conflicts with grpc.listen")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}
	return nil
}

// Validate performs validation of the gRPC listener configuration
func (c *GRPCConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return NewConfigValidationError("grpc.listen", c.Listen, err.Error()).
			WithSuggestion("Use host:port, e.g. " + DefaultListen)
	}
	if strings.TrimSpace(c.ServerName) == "" {
		return NewConfigMissingError("grpc.server_name")
	}
	for _, ip := range c.ExtraIPs {
		if net.ParseIP(ip) == nil {
			return NewConfigValidationError("grpc.extra_ips", ip, "not an IP address")
		}
	}
	if strings.TrimSpace(c.Service) == "" {
		c.Service = DefaultService
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return nil
}

// Validate performs validation of key and certificate parameters
func (c *PKIConfig) Validate() error {
	c.KeyAlgorithm = strings.ToLower(strings.TrimSpace(c.KeyAlgorithm))
	if c.KeyAlgorithm == "" {
		c.KeyAlgorithm = DefaultKeyAlgorithm
	}
	if !slices.Contains(keyAlgorithms, c.KeyAlgorithm) {
		return NewConfigValidationError("pki.key_algorithm", c.KeyAlgorithm, "unsupported key algorithm").
			WithSuggestion("Use one of: " + strings.Join(keyAlgorithms, ", "))
	}
	if c.KeyAlgorithm == "rsa" && c.RSABits < DefaultRSABits {
		return NewConfigValidationError("pki.rsa_bits", c.RSABits, "RSA keys must be at least 2048 bits")
	}
	if c.Validity <= 0 {
		return NewConfigValidationError("pki.validity", c.Validity.String(), "must be positive")
	}
	return nil
}

// Validate performs validation of the admin listener configuration
func (c *AdminConfig) Validate() error {
	if c.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return NewConfigValidationError("admin.listen", c.Listen, err.Error())
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	if strings.TrimSpace(c.Format) == "" {
		c.Format = "json"
	}

	c.Level = strings.TrimSpace(strings.ToLower(c.Level))
	if !slices.Contains(logLevels, c.Level) {
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
	c.Format = strings.TrimSpace(strings.ToLower(c.Format))
	if !slices.Contains(logFormats, c.Format) {
		return fmt.Errorf("invalid log format %q, supported formats: json, text, pretty", c.Format)
	}
	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.OTLPEndpoint != "" {
		if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			return NewConfigValidationError("telemetry.otlp_endpoint", c.OTLPEndpoint, "must be host:port")
		}
	}
	return nil
}
