package tsa

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/georgepadayatti/pdfverify/verify/cms"
)

// LocalAuthority acts as its own timestamp authority. It accepts every
// request and signs tokens with the configured certificate, which makes it
// suitable for fixtures and offline pipelines, not for production trust.
type LocalAuthority struct {
	// Certificate is the TSA signing certificate.
	Certificate *x509.Certificate

	// PrivateKey is the TSA private key.
	PrivateKey crypto.Signer

	// FixedTime, when non-nil, is used as the token time instead of the
	// current time.
	FixedTime *time.Time

	// Policy is the TSA policy OID.
	Policy asn1.ObjectIdentifier
}

// NewLocalAuthority creates a local TSA with the given identity.
func NewLocalAuthority(cert *x509.Certificate, key crypto.Signer) *LocalAuthority {
	return &LocalAuthority{
		Certificate: cert,
		PrivateKey:  key,
		Policy:      asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 4146, 2, 2},
	}
}

// WithFixedTime pins the token time.
func (a *LocalAuthority) WithFixedTime(t time.Time) *LocalAuthority {
	a.FixedTime = &t
	return a
}

// Token mints an RFC 3161 token over data. The message imprint is the
// SHA-256 digest of data; callers attach the result as an unsigned
// attribute of the signature it attests.
func (a *LocalAuthority) Token(data []byte) ([]byte, error) {
	if a.Certificate == nil || a.PrivateKey == nil {
		return nil, errors.New("local TSA requires a certificate and private key")
	}

	genTime := time.Now().UTC()
	if a.FixedTime != nil {
		genTime = a.FixedTime.UTC()
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	imprint := sha256.Sum256(data)
	info := TSTInfo{
		Version: 1,
		Policy:  a.Policy,
		MessageImprint: MessageImprint{
			HashAlgorithm: cms.AlgorithmIdentifier{
				Algorithm:  cms.OIDSHA256,
				Parameters: asn1.RawValue{Tag: 5}, // NULL
			},
			HashedMessage: imprint[:],
		},
		SerialNumber: serial,
		GenTime:      genTime.Truncate(time.Second),
	}

	infoBytes, err := asn1.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode TSTInfo: %w", err)
	}

	builder := cms.NewBuilder(a.Certificate, a.PrivateKey, cms.SHA256WithRSA)
	builder.SigningTime = genTime
	builder.EncapContentType = cms.OIDTSTInfo
	builder.EmbedContent = true
	return builder.Sign(infoBytes)
}

// GenerateAuthority creates a LocalAuthority backed by a fresh self-signed
// RSA certificate with the timestamping extended key usage.
func GenerateAuthority(name string) (*LocalAuthority, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   name,
			Organization: []string{"Local TSA"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return NewLocalAuthority(cert, key), nil
}
