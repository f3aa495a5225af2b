package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfig(t *testing.T) {
	yaml := `
verification:
  trust-anchors:
    - /etc/pki/roots.pem
  trust-signature-time: true
  allow-expired-certs: true
  verification-time: "2024-06-01T00:00:00Z"
`
	cfg, err := ParseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	v := cfg.Verification
	if len(v.TrustAnchors) != 1 || v.TrustAnchors[0] != "/etc/pki/roots.pem" {
		t.Errorf("TrustAnchors = %v", v.TrustAnchors)
	}
	if !v.TrustSignatureTime || !v.AllowExpiredCerts {
		t.Errorf("flags not parsed: %+v", v)
	}
	if v.VerificationTime != "2024-06-01T00:00:00Z" {
		t.Errorf("VerificationTime = %q", v.VerificationTime)
	}
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig([]byte("{}"))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Verification == nil {
		t.Fatal("Verification section should default to an empty config")
	}
}

func TestParseConfigMalformed(t *testing.T) {
	_, err := ParseConfig([]byte(":\n  - not yaml"))
	if err == nil {
		t.Error("ParseConfig() should fail on malformed YAML")
	}
}

func TestValidateBadTime(t *testing.T) {
	c := &VerificationConfig{VerificationTime: "June 1st 2024"}
	err := c.Validate()
	if err == nil {
		t.Fatal("Validate() should reject a non RFC 3339 time")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "verification-time" {
		t.Errorf("error = %v, want ConfigError on verification-time", err)
	}
}

func TestBuildSettingsDefaults(t *testing.T) {
	settings, err := (&VerificationConfig{}).BuildSettings()
	if err != nil {
		t.Fatalf("BuildSettings() error = %v", err)
	}
	if settings.TrustSignatureTime || settings.AllowExpiredCerts {
		t.Error("defaults should be secure")
	}
	if !settings.ValidateTimestampCertificates {
		t.Error("timestamp certificate validation should default to on")
	}
	if settings.TrustRoots != nil {
		t.Error("no trust anchors configured, pool should be nil")
	}
	if !settings.VerificationTime.IsZero() {
		t.Error("verification time should default to the wall clock")
	}
}

func TestBuildSettingsTrustAnchors(t *testing.T) {
	dir := t.TempDir()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Config Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "root.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}

	c := &VerificationConfig{
		TrustAnchors:     []string{path},
		VerificationTime: "2024-06-01T00:00:00Z",
	}
	settings, err := c.BuildSettings()
	if err != nil {
		t.Fatalf("BuildSettings() error = %v", err)
	}
	if settings.TrustRoots == nil {
		t.Error("trust pool should be populated")
	}
	want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if !settings.VerificationTime.Equal(want) {
		t.Errorf("VerificationTime = %v, want %v", settings.VerificationTime, want)
	}
}

func TestCheckConfigKeys(t *testing.T) {
	err := CheckConfigKeys("verification",
		[]string{"trust-anchors", "trust-signature-time"},
		[]string{"trust_anchors", "trust-signature-time"})
	if err != nil {
		t.Errorf("normalized keys should be accepted: %v", err)
	}

	err = CheckConfigKeys("verification",
		[]string{"trust-anchors"},
		[]string{"trust-anchors", "bogus-key"})
	if err == nil {
		t.Error("unexpected key should be rejected")
	}
}
