// Package tsa validates RFC 3161 timestamp tokens attached to PDF
// signatures as unsigned attributes.
//
// A token is a CMS SignedData whose encapsulated content is a TSTInfo. Two
// independent checks apply: the timestamp authority's signature over the
// token must verify, and the token's message imprint must equal the digest
// of the outer signature value it attests. The imprint is what binds the
// timestamp to one specific signature rather than to the document at large.
package tsa

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/georgepadayatti/pdfverify/verify/cms"
)

// Common errors
var (
	// ErrMalformedToken marks a structural parse failure of the token.
	ErrMalformedToken = errors.New("malformed timestamp token")
)

// MessageImprint is the digest of the data the token attests.
type MessageImprint struct {
	HashAlgorithm cms.AlgorithmIdentifier
	HashedMessage []byte
}

// Accuracy represents timestamp accuracy.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,implicit,tag:0"`
	Micros  int `asn1:"optional,implicit,tag:1"`
}

// Extension represents an X.509 extension.
type Extension struct {
	ExtnID    asn1.ObjectIdentifier
	Critical  bool `asn1:"optional,default:false"`
	ExtnValue []byte
}

// TSTInfo is the timestamp token info (RFC 3161 §2.4.2).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       Accuracy      `asn1:"optional"`
	Ordering       bool          `asn1:"optional,default:false"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,explicit,tag:0"`
	Extensions     []Extension   `asn1:"optional,implicit,tag:1"`
}

// TokenVerification is the outcome of verifying one timestamp token.
// Both checks are reported independently; a failure in either downgrades
// the claimed signing time to unverifiable without touching the outer
// signature's own integrity or authenticity.
type TokenVerification struct {
	// SignatureValid reports whether the TSA's signature over the token
	// content verifies against the TSA certificate.
	SignatureValid bool

	// ImprintMatches reports whether the token's message imprint equals the
	// imprint-algorithm digest of the outer signature value.
	ImprintMatches bool

	// GenTime is the time asserted by the token.
	GenTime time.Time

	// TSACertificate is the token signer's certificate.
	TSACertificate *x509.Certificate
}

// Trusted reports whether the token passed both checks.
func (tv *TokenVerification) Trusted() bool {
	return tv.SignatureValid && tv.ImprintMatches
}

// ParseToken parses a timestamp token into its CMS layer and TSTInfo.
func ParseToken(token []byte) (*cms.SignedData, *TSTInfo, error) {
	sd, err := cms.ParseSignedData(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !sd.EncapContentType.Equal(cms.OIDTSTInfo) {
		return nil, nil, fmt.Errorf("%w: content type %v is not TSTInfo", ErrMalformedToken, sd.EncapContentType)
	}
	if len(sd.EncapContent) == 0 {
		return nil, nil, fmt.Errorf("%w: token has no encapsulated TSTInfo", ErrMalformedToken)
	}
	var info TSTInfo
	if _, err := asn1.Unmarshal(sd.EncapContent, &info); err != nil {
		return nil, nil, fmt.Errorf("%w: bad TSTInfo: %v", ErrMalformedToken, err)
	}
	return sd, &info, nil
}

// VerifyToken verifies a timestamp token against the outer signature value
// it is attached to. Cryptographic mismatches are reported in the returned
// TokenVerification, never as errors; only a structurally unparseable token
// fails.
func VerifyToken(token, signatureValue []byte) (*TokenVerification, error) {
	sd, info, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	tv := &TokenVerification{
		GenTime:        info.GenTime,
		TSACertificate: sd.SignerCertificate,
	}

	tv.SignatureValid = sd.VerifyIntegrity(sd.EncapContent) && sd.VerifyAuthenticity(sd.EncapContent)

	h, err := cms.NewHash(info.MessageImprint.HashAlgorithm.Algorithm)
	if err == nil {
		h.Write(signatureValue)
		tv.ImprintMatches = bytes.Equal(h.Sum(nil), info.MessageImprint.HashedMessage)
	}

	return tv, nil
}
