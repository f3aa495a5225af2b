// Package cms parses and verifies CMS (Cryptographic Message Syntax)
// SignedData containers as embedded in PDF signature dictionaries.
//
// Parsing is structural: a malformed container is an error, a container
// whose cryptographic checks fail is not. Integrity (does the recomputed
// content digest match the digest the signer committed to) and authenticity
// (was the signature value produced by the key matching the signer
// certificate) are verified and reported independently.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"time"

	// Registers the SHA3 hash functions with crypto.
	_ "golang.org/x/crypto/sha3"
)

// OIDs for CMS and signature algorithms
var (
	// Content types
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDTSTInfo    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	// Digest algorithms
	OIDSHA1     = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSHA3_256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}
	OIDSHA3_384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 9}
	OIDSHA3_512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10}

	// Signature algorithms
	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	// Signed attributes
	OIDContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}

	// Unsigned attributes
	OIDTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
)

// Common errors
var (
	// ErrMalformedSignedData marks a structural parse failure, as opposed to
	// a cryptographic mismatch (which is a reportable result, never an error).
	ErrMalformedSignedData = errors.New("malformed CMS signed data")

	// ErrNoSigningCertificate means no embedded certificate matches the
	// signer identifier claimed by the SignerInfo.
	ErrNoSigningCertificate = errors.New("no certificate matching the signer identifier")

	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// AlgorithmIdentifier represents an algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo represents a CMS ContentInfo structure.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// EncapsulatedContentInfo represents encapsulated content.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// signedDataRaw captures the SignedData layer while keeping SignerInfos as
// raw DER, so signed attribute bytes survive the round trip.
type signedDataRaw struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// signerInfoRaw captures a SignerInfo with attribute sets as raw DER.
// SID is IssuerAndSerialNumber directly (not wrapped in SignerIdentifier)
// because SignerIdentifier is a CHOICE in ASN.1, not a SEQUENCE.
type signerInfoRaw struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// SignedData is the parsed, verification-ready form of a CMS container.
type SignedData struct {
	// DigestAlgorithm is the digest algorithm OID declared by the signer.
	DigestAlgorithm asn1.ObjectIdentifier

	// SignatureAlgorithm is the signature (encryption) algorithm OID.
	SignatureAlgorithm asn1.ObjectIdentifier

	// Certificates are all certificates embedded in the container.
	Certificates []*x509.Certificate

	// SignerCertificate is the embedded certificate matching the SignerInfo's
	// issuer-and-serial identifier.
	SignerCertificate *x509.Certificate

	// SigningTime is the claimed signing-time attribute; zero when absent.
	// It is asserted by the signer and unverified unless corroborated by a
	// timestamp token.
	SigningTime time.Time

	// Signature is the signature value (the encrypted digest).
	Signature []byte

	// MessageDigest is the digest committed to by the messageDigest signed
	// attribute; nil when the signer used no signed attributes.
	MessageDigest []byte

	// EncapContentType and EncapContent describe the encapsulated content;
	// EncapContent is nil for detached signatures (the PDF case).
	EncapContentType asn1.ObjectIdentifier
	EncapContent     []byte

	// TimestampToken is the raw RFC 3161 token carried as an unsigned
	// attribute, nil when the signer attached none.
	TimestampToken []byte

	// signedAttrsDER holds the signed attributes re-tagged as a SET OF,
	// exactly as they were fed to the signature operation.
	signedAttrsDER []byte
}

// ParseSignedData parses a raw CMS blob into its verification-ready form.
// It fails with ErrMalformedSignedData on structural errors and with
// ErrNoSigningCertificate when the container carries no certificate
// matching the claimed signer.
func ParseSignedData(blob []byte) (*SignedData, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(blob, &contentInfo); err != nil {
		return nil, fmt.Errorf("%w: bad ContentInfo: %v", ErrMalformedSignedData, err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: expected SignedData, got %v", ErrMalformedSignedData, contentInfo.ContentType)
	}

	var raw signedDataRaw
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &raw); err != nil {
		return nil, fmt.Errorf("%w: bad SignedData: %v", ErrMalformedSignedData, err)
	}
	if len(raw.SignerInfos) == 0 {
		return nil, fmt.Errorf("%w: no signer infos", ErrMalformedSignedData)
	}

	var si signerInfoRaw
	if _, err := asn1.Unmarshal(raw.SignerInfos[0].FullBytes, &si); err != nil {
		return nil, fmt.Errorf("%w: bad SignerInfo: %v", ErrMalformedSignedData, err)
	}

	sd := &SignedData{
		DigestAlgorithm:    si.DigestAlgorithm.Algorithm,
		SignatureAlgorithm: si.SignatureAlgorithm.Algorithm,
		Signature:          si.Signature,
		EncapContentType:   raw.EncapContentInfo.EContentType,
	}

	if len(raw.EncapContentInfo.EContent.Bytes) > 0 {
		// The content is an OCTET STRING inside the explicit [0] wrapper;
		// TSTInfo tokens store their payload this way.
		var inner []byte
		if _, err := asn1.Unmarshal(raw.EncapContentInfo.EContent.Bytes, &inner); err == nil {
			sd.EncapContent = inner
		} else {
			sd.EncapContent = raw.EncapContentInfo.EContent.Bytes
		}
	}

	for _, certRaw := range raw.Certificates {
		cert, err := x509.ParseCertificate(certRaw.FullBytes)
		if err != nil {
			continue
		}
		sd.Certificates = append(sd.Certificates, cert)
		if sd.SignerCertificate == nil && si.SID.SerialNumber != nil &&
			cert.SerialNumber.Cmp(si.SID.SerialNumber) == 0 &&
			bytes.Equal(cert.RawIssuer, si.SID.Issuer.FullBytes) {
			sd.SignerCertificate = cert
		}
	}
	if sd.SignerCertificate == nil {
		return nil, fmt.Errorf("%w: serial %v", ErrNoSigningCertificate, si.SID.SerialNumber)
	}

	if len(si.SignedAttrs.FullBytes) > 0 {
		// The signature is computed over the attributes as a SET OF, while
		// the wire encoding uses an implicit [0] tag. Only the identifier
		// octet differs, so retag a copy instead of re-marshalling.
		der := make([]byte, len(si.SignedAttrs.FullBytes))
		copy(der, si.SignedAttrs.FullBytes)
		der[0] = 0x31
		sd.signedAttrsDER = der

		attrs, err := parseAttributes(si.SignedAttrs.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: bad signed attributes: %v", ErrMalformedSignedData, err)
		}
		for _, attr := range attrs {
			switch {
			case attr.Type.Equal(OIDMessageDigest) && len(attr.Values) > 0:
				var digest []byte
				if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &digest); err == nil {
					sd.MessageDigest = digest
				}
			case attr.Type.Equal(OIDSigningTime) && len(attr.Values) > 0:
				var t time.Time
				if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &t); err == nil {
					sd.SigningTime = t
				}
			}
		}
		if sd.MessageDigest == nil {
			return nil, fmt.Errorf("%w: signed attributes without a messageDigest attribute", ErrMalformedSignedData)
		}
	}

	if len(si.UnsignedAttrs.Bytes) > 0 {
		attrs, err := parseAttributes(si.UnsignedAttrs.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: bad unsigned attributes: %v", ErrMalformedSignedData, err)
		}
		for _, attr := range attrs {
			if attr.Type.Equal(OIDTimeStampToken) && len(attr.Values) > 0 {
				sd.TimestampToken = attr.Values[0].FullBytes
				break
			}
		}
	}

	return sd, nil
}

// parseAttributes parses a concatenation of Attribute values.
func parseAttributes(der []byte) ([]Attribute, error) {
	var attrs []Attribute
	rest := der
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// HasSignedAttributes reports whether the signer committed to signed
// attributes. Without them integrity and authenticity collapse into a
// single check over the content digest.
func (sd *SignedData) HasSignedAttributes() bool {
	return sd.signedAttrsDER != nil
}

// VerifyIntegrity recomputes the digest over the covered content and
// compares it byte-for-byte against the digest the signer committed to.
// A mismatch is a normal reportable outcome, not an error.
func (sd *SignedData) VerifyIntegrity(content []byte) bool {
	h, err := NewHash(sd.DigestAlgorithm)
	if err != nil {
		return false
	}
	h.Write(content)
	computed := h.Sum(nil)

	if sd.HasSignedAttributes() {
		return bytes.Equal(computed, sd.MessageDigest)
	}
	// No signed attributes: the signature is directly over the content
	// digest, so integrity is whatever the signature operation says.
	return sd.verifySignature(computed)
}

// VerifyAuthenticity checks that the signature value was produced by the
// private key matching the signer certificate. With signed attributes the
// signature covers the attribute SET, making this independent of content
// integrity; without them it covers the content digest directly.
func (sd *SignedData) VerifyAuthenticity(content []byte) bool {
	h, err := NewHash(sd.DigestAlgorithm)
	if err != nil {
		return false
	}
	if sd.HasSignedAttributes() {
		h.Write(sd.signedAttrsDER)
	} else {
		h.Write(content)
	}
	return sd.verifySignature(h.Sum(nil))
}

// verifySignature verifies sd.Signature over the given digest with the
// signer certificate's public key.
func (sd *SignedData) verifySignature(digest []byte) bool {
	if sd.SignerCertificate == nil {
		return false
	}
	hashType, err := hashTypeForOID(sd.DigestAlgorithm)
	if err != nil {
		return false
	}
	switch pub := sd.SignerCertificate.PublicKey.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, hashType, digest, sd.Signature) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(pub, digest, sd.Signature)
	default:
		return false
	}
}

// NewHash returns a fresh hash for the given digest algorithm OID.
// SHA-1 is accepted for legacy documents; callers decide how to flag it.
func NewHash(oid asn1.ObjectIdentifier) (hash.Hash, error) {
	hashType, err := hashTypeForOID(oid)
	if err != nil {
		return nil, err
	}
	return hashType.New(), nil
}

// hashTypeForOID maps a digest algorithm OID to a crypto.Hash.
func hashTypeForOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, nil
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	case oid.Equal(OIDSHA3_256):
		return crypto.SHA3_256, nil
	case oid.Equal(OIDSHA3_384):
		return crypto.SHA3_384, nil
	case oid.Equal(OIDSHA3_512):
		return crypto.SHA3_512, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
	}
}

// IsLegacyDigest reports whether the digest algorithm is considered weak
// for new signatures (currently SHA-1).
func IsLegacyDigest(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(OIDSHA1)
}
