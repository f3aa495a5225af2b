// Package config loads verification configuration from YAML files and
// turns it into verifier settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/pdfverify/keys"
	"github.com/georgepadayatti/pdfverify/verify"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrUnexpectedField    = errors.New("unexpected field in configuration")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// VerificationConfig contains verification configuration.
//
// # Security Defaults
//
// The zero value is secure by default: the signer-asserted signing time is
// not trusted, expired certificates are rejected, and timestamp signer
// certificates are validated.
type VerificationConfig struct {
	// TrustAnchors are paths to trust anchor files. PEM and DER files are
	// read directly; .p12/.pfx files are read as PKCS#12 trust stores.
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// TrustStorePassphrase protects PKCS#12 trust stores, if any.
	TrustStorePassphrase string `yaml:"trust-store-passphrase" json:"trust_store_passphrase,omitempty"`

	// TrustSignatureTime allows the signer-asserted signing time as a
	// fallback when no timestamp token is present.
	TrustSignatureTime bool `yaml:"trust-signature-time" json:"trust_signature_time"`

	// AllowExpiredCerts accepts certificates that were valid at signing time
	// but have since expired.
	AllowExpiredCerts bool `yaml:"allow-expired-certs" json:"allow_expired_certs"`

	// SkipTimestampCertValidation disables validation of the timestamp
	// signer's certificate.
	SkipTimestampCertValidation bool `yaml:"skip-timestamp-cert-validation" json:"skip_timestamp_cert_validation"`

	// VerificationTime pins the "now" half of the temporal checks to a fixed
	// RFC 3339 instant. Empty means the wall clock.
	VerificationTime string `yaml:"verification-time" json:"verification_time,omitempty"`
}

// Validate validates the verification configuration.
func (c *VerificationConfig) Validate() error {
	if c.VerificationTime != "" {
		if _, err := time.Parse(time.RFC3339, c.VerificationTime); err != nil {
			return NewConfigError("verification-time", fmt.Sprintf("not an RFC 3339 timestamp: %v", err))
		}
	}
	return nil
}

// BuildSettings loads the configured trust anchors and produces verifier
// settings.
func (c *VerificationConfig) BuildSettings() (*verify.Settings, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	settings := &verify.Settings{
		TrustSignatureTime:            c.TrustSignatureTime,
		AllowExpiredCerts:             c.AllowExpiredCerts,
		ValidateTimestampCertificates: !c.SkipTimestampCertValidation,
	}

	if len(c.TrustAnchors) > 0 {
		pool, err := keys.NewTrustPool(c.TrustAnchors, c.TrustStorePassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust anchors: %w", err)
		}
		settings.TrustRoots = pool
	}

	if c.VerificationTime != "" {
		t, _ := time.Parse(time.RFC3339, c.VerificationTime)
		settings.VerificationTime = t
	}

	return settings, nil
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Verification contains verification configuration.
	Verification *VerificationConfig `yaml:"verification" json:"verification,omitempty"`
}

// LoadConfig loads a configuration from a YAML file.
func LoadConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML data.
func ParseConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Verification == nil {
		config.Verification = &VerificationConfig{}
	}
	return &config, nil
}

// LoadConfigFromMap loads configuration from a map.
func LoadConfigFromMap(data map[string]any) (*AppConfig, error) {
	// Marshal to YAML then unmarshal to struct
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config map: %w", err)
	}
	return ParseConfig(yamlData)
}

// CheckConfigKeys checks if all provided keys are valid for a given configuration type.
func CheckConfigKeys(configName string, expectedKeys, suppliedKeys []string) error {
	expectedSet := make(map[string]bool)
	for _, k := range expectedKeys {
		// Normalize to use dashes
		expectedSet[normalizeKey(k)] = true
	}

	var unexpected []string
	for _, k := range suppliedKeys {
		normalized := normalizeKey(k)
		if !expectedSet[normalized] {
			unexpected = append(unexpected, k)
		}
	}

	if len(unexpected) > 0 {
		keyWord := "key"
		if len(unexpected) > 1 {
			keyWord = "keys"
		}
		return fmt.Errorf("%w: unexpected %s in configuration for %s: %s",
			ErrUnexpectedField, keyWord, configName, strings.Join(unexpected, ", "))
	}

	return nil
}

// normalizeKey normalizes a configuration key (underscores to dashes).
func normalizeKey(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
