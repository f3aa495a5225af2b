package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"
)

// newTestIdentity creates a self-signed certificate and key for tests.
func newTestIdentity(t *testing.T, cn string, key crypto.Signer) *x509.Certificate {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func TestSignAndVerify(t *testing.T) {
	key := newRSAKey(t)
	cert := newTestIdentity(t, "Test Signer", key)
	content := []byte("covered document bytes")

	blob, err := NewBuilder(cert, key, SHA256WithRSA).Sign(content)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	sd, err := ParseSignedData(blob)
	if err != nil {
		t.Fatalf("ParseSignedData() error = %v", err)
	}

	if !sd.HasSignedAttributes() {
		t.Error("builder output should carry signed attributes")
	}
	if sd.SigningTime.IsZero() {
		t.Error("signing time attribute missing")
	}
	if sd.SignerCertificate.Subject.CommonName != "Test Signer" {
		t.Errorf("signer certificate CN = %q", sd.SignerCertificate.Subject.CommonName)
	}
	if !sd.VerifyIntegrity(content) {
		t.Error("VerifyIntegrity() = false for untouched content")
	}
	if !sd.VerifyAuthenticity(content) {
		t.Error("VerifyAuthenticity() = false for genuine signature")
	}
}

func TestTamperedContentKeepsAuthenticity(t *testing.T) {
	key := newRSAKey(t)
	cert := newTestIdentity(t, "Test Signer", key)
	content := []byte("original content")

	blob, err := NewBuilder(cert, key, SHA256WithRSA).Sign(content)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sd, err := ParseSignedData(blob)
	if err != nil {
		t.Fatalf("ParseSignedData() error = %v", err)
	}

	tampered := []byte("tampered content!")
	if sd.VerifyIntegrity(tampered) {
		t.Error("VerifyIntegrity() = true for tampered content")
	}
	// The signature over the signed attributes is untouched: the two
	// verdicts must stay independent.
	if !sd.VerifyAuthenticity(tampered) {
		t.Error("VerifyAuthenticity() should not depend on the content when signed attributes are present")
	}
}

func TestMismatchedKey(t *testing.T) {
	signingKey := newRSAKey(t)
	otherKey := newRSAKey(t)
	// Certificate claims otherKey's public key, signature made with signingKey.
	cert := newTestIdentity(t, "Impostor", otherKey)
	content := []byte("some content")

	blob, err := NewBuilder(cert, signingKey, SHA256WithRSA).Sign(content)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sd, err := ParseSignedData(blob)
	if err != nil {
		t.Fatalf("ParseSignedData() error = %v", err)
	}

	if !sd.VerifyIntegrity(content) {
		t.Error("integrity should hold: the committed digest matches the content")
	}
	if sd.VerifyAuthenticity(content) {
		t.Error("authenticity should fail: certificate key does not match the signature")
	}
}

func TestECDSASignature(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate ECDSA key: %v", err)
	}
	cert := newTestIdentity(t, "ECDSA Signer", key)
	content := []byte("ecdsa signed content")

	blob, err := NewBuilder(cert, key, SHA256WithECDSA).Sign(content)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sd, err := ParseSignedData(blob)
	if err != nil {
		t.Fatalf("ParseSignedData() error = %v", err)
	}

	if !sd.VerifyIntegrity(content) || !sd.VerifyAuthenticity(content) {
		t.Error("ECDSA signature should verify")
	}
}

func TestParseSignedDataMalformed(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"garbage", []byte("not asn1 at all")},
		{"empty", nil},
		{"truncated", []byte{0x30, 0x82, 0xff, 0xff, 0x06}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSignedData(tt.blob)
			if !errors.Is(err, ErrMalformedSignedData) {
				t.Errorf("ParseSignedData() error = %v, want ErrMalformedSignedData", err)
			}
		})
	}
}

func TestParseSignedDataNoCertificate(t *testing.T) {
	key := newRSAKey(t)
	cert := newTestIdentity(t, "Test Signer", key)

	builder := NewBuilder(cert, key, SHA256WithRSA)
	builder.OmitCertificates = true
	blob, err := builder.Sign([]byte("content"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	_, err = ParseSignedData(blob)
	if !errors.Is(err, ErrNoSigningCertificate) {
		t.Errorf("ParseSignedData() error = %v, want ErrNoSigningCertificate", err)
	}
}

func TestNewHashUnsupported(t *testing.T) {
	_, err := NewHash([]int{1, 2, 3, 4})
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("NewHash() error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestIsLegacyDigest(t *testing.T) {
	if !IsLegacyDigest(OIDSHA1) {
		t.Error("SHA-1 should be flagged as legacy")
	}
	if IsLegacyDigest(OIDSHA256) {
		t.Error("SHA-256 should not be flagged as legacy")
	}
	if IsLegacyDigest(OIDSHA3_256) {
		t.Error("SHA3-256 should not be flagged as legacy")
	}
}

func TestEmbeddedContent(t *testing.T) {
	key := newRSAKey(t)
	cert := newTestIdentity(t, "Embedder", key)
	content := []byte("embedded payload")

	builder := NewBuilder(cert, key, SHA256WithRSA)
	builder.EmbedContent = true
	blob, err := builder.Sign(content)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	sd, err := ParseSignedData(blob)
	if err != nil {
		t.Fatalf("ParseSignedData() error = %v", err)
	}
	if string(sd.EncapContent) != string(content) {
		t.Errorf("EncapContent = %q, want %q", sd.EncapContent, content)
	}
	if !sd.VerifyIntegrity(sd.EncapContent) {
		t.Error("embedded content should verify against its own container")
	}
}
