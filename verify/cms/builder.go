package cms

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"sort"
	"time"
)

// SignatureAlgorithm pairs a digest algorithm with a signature algorithm.
type SignatureAlgorithm struct {
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	Hash               crypto.Hash
}

// Common signature algorithms
var (
	SHA256WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDSHA256WithRSA,
		Hash:               crypto.SHA256,
	}
	SHA384WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDSHA384WithRSA,
		Hash:               crypto.SHA384,
	}
	SHA512WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA512,
		SignatureAlgorithm: OIDSHA512WithRSA,
		Hash:               crypto.SHA512,
	}
	SHA256WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDECDSAWithSHA256,
		Hash:               crypto.SHA256,
	}
	SHA384WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDECDSAWithSHA384,
		Hash:               crypto.SHA384,
	}
)

// signerInfo is the marshalling form of a SignerInfo.
type signerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,implicit,tag:1,set"`
}

// signedData is the marshalling form of a SignedData.
type signedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	SignerInfos      []signerInfo    `asn1:"set"`
}

// Builder assembles CMS SignedData containers. Its main consumers are test
// fixtures and embedders that need well-formed input for the verification
// pipeline.
type Builder struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
	Algorithm   SignatureAlgorithm
	SigningTime time.Time

	// EncapContentType is the declared content type (id-data by default).
	// When EmbedContent is set the signed bytes are embedded as the
	// encapsulated content instead of being left detached, the layout used
	// by RFC 3161 tokens.
	EncapContentType asn1.ObjectIdentifier
	EmbedContent     bool

	// TimestampFunc, when set, is called with the computed signature value
	// and returns an RFC 3161 token to attach as an unsigned attribute.
	TimestampFunc func(signature []byte) ([]byte, error)

	// OmitCertificates leaves the certificate set empty. Verification of
	// such a container fails with ErrNoSigningCertificate.
	OmitCertificates bool
}

// NewBuilder creates a builder with the given signing identity.
func NewBuilder(cert *x509.Certificate, key crypto.Signer, alg SignatureAlgorithm) *Builder {
	return &Builder{
		Certificate:      cert,
		PrivateKey:       key,
		Algorithm:        alg,
		SigningTime:      time.Now().UTC(),
		EncapContentType: OIDData,
	}
}

// Sign produces a DER-encoded ContentInfo wrapping a SignedData over data.
func (b *Builder) Sign(data []byte) ([]byte, error) {
	signedAttrs, signedAttrsDER, err := b.signedAttributes(data)
	if err != nil {
		return nil, err
	}

	h := b.Algorithm.Hash.New()
	h.Write(signedAttrsDER)
	signature, err := b.signDigest(h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	si := signerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			SerialNumber: b.Certificate.SerialNumber,
		},
		DigestAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.DigestAlgorithm,
			Parameters: asn1.RawValue{Tag: 5}, // NULL
		},
		SignedAttrs: signedAttrs,
		SignatureAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.SignatureAlgorithm,
			Parameters: signatureAlgorithmParameters(b.Algorithm.SignatureAlgorithm),
		},
		Signature: signature,
	}

	if b.TimestampFunc != nil {
		token, err := b.TimestampFunc(signature)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain timestamp token: %w", err)
		}
		si.UnsignedAttrs = append(si.UnsignedAttrs, Attribute{
			Type:   OIDTimeStampToken,
			Values: []asn1.RawValue{{FullBytes: token}},
		})
	}

	encap := EncapsulatedContentInfo{EContentType: b.EncapContentType}
	if b.EmbedContent {
		inner, err := asn1.Marshal(data)
		if err != nil {
			return nil, err
		}
		encap.EContent = asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      inner,
		}
	}

	sd := signedData{
		Version: 1,
		DigestAlgorithms: []AlgorithmIdentifier{{
			Algorithm:  b.Algorithm.DigestAlgorithm,
			Parameters: asn1.RawValue{Tag: 5},
		}},
		EncapContentInfo: encap,
		SignerInfos:      []signerInfo{si},
	}

	if !b.OmitCertificates {
		sd.Certificates = append(sd.Certificates, asn1.RawValue{FullBytes: b.Certificate.Raw})
		for _, cert := range b.CertChain {
			sd.Certificates = append(sd.Certificates, asn1.RawValue{FullBytes: cert.Raw})
		}
	}

	sdBytes, err := asn1.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed data: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdBytes},
	}
	return asn1.Marshal(contentInfo)
}

// signedAttributes builds the signed attribute set and its DER encoding as
// fed to the signature operation (SET OF tag, DER order).
func (b *Builder) signedAttributes(data []byte) ([]Attribute, []byte, error) {
	h := b.Algorithm.Hash.New()
	h.Write(data)
	messageDigest := h.Sum(nil)

	contentTypeValue, _ := asn1.Marshal(b.EncapContentType)
	digestValue, _ := asn1.Marshal(messageDigest)
	signingTimeValue, _ := asn1.Marshal(b.SigningTime.UTC().Truncate(time.Second))

	attrs := []Attribute{
		{Type: OIDContentType, Values: []asn1.RawValue{{FullBytes: contentTypeValue}}},
		{Type: OIDMessageDigest, Values: []asn1.RawValue{{FullBytes: digestValue}}},
		{Type: OIDSigningTime, Values: []asn1.RawValue{{FullBytes: signingTimeValue}}},
	}
	attrs = derSortAttributes(attrs)

	der, err := asn1.Marshal(attrs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}
	der[0] = 0x31 // SET OF

	return attrs, der, nil
}

// signDigest signs the digest with the private key.
func (b *Builder) signDigest(digest []byte) ([]byte, error) {
	switch key := b.PrivateKey.(type) {
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, key, b.Algorithm.Hash, digest)
	default:
		return b.PrivateKey.Sign(rand.Reader, digest, b.Algorithm.Hash)
	}
}

// signatureAlgorithmParameters returns the parameter encoding convention
// for the given algorithm (NULL for the RSA family, absent otherwise).
func signatureAlgorithmParameters(oid asn1.ObjectIdentifier) asn1.RawValue {
	switch {
	case oid.Equal(OIDSHA256WithRSA), oid.Equal(OIDSHA384WithRSA), oid.Equal(OIDSHA512WithRSA):
		return asn1.RawValue{Tag: 5}
	default:
		return asn1.RawValue{}
	}
}

// derSortAttributes sorts attributes by their DER encoding, the SET OF
// order the signature must be computed over.
func derSortAttributes(attrs []Attribute) []Attribute {
	type attrWithDER struct {
		attr Attribute
		der  []byte
	}
	withDER := make([]attrWithDER, len(attrs))
	for i, attr := range attrs {
		der, _ := asn1.Marshal(attr)
		withDER[i] = attrWithDER{attr: attr, der: der}
	}
	sort.Slice(withDER, func(i, j int) bool {
		return bytes.Compare(withDER[i].der, withDER[j].der) < 0
	})
	out := make([]Attribute, len(attrs))
	for i, a := range withDER {
		out[i] = a.attr
	}
	return out
}
