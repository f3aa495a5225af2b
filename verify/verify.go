// Package verify orchestrates signature verification for revisioned,
// incrementally-updated documents.
//
// Each signature in a document gets exactly one Record. Structural failures
// (unreadable dictionary, malformed CMS, out-of-range byte range) mark that
// signature's record failed and never abort the document; cryptographic
// mismatches are reported as false results; policy findings (untrusted
// chain, weak digest, unverifiable signing time) are warnings.
package verify

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/georgepadayatti/pdfverify/pdf/document"
	"github.com/georgepadayatti/pdfverify/verify/certs"
	"github.com/georgepadayatti/pdfverify/verify/cms"
	"github.com/georgepadayatti/pdfverify/verify/mdp"
	"github.com/georgepadayatti/pdfverify/verify/tsa"
)

// TimeSource indicates where the signing time used for certificate
// evaluation came from.
type TimeSource string

const (
	// TimeSourceTimestamp is a verified RFC 3161 timestamp token, the only
	// source cryptographically bound to the signature.
	TimeSourceTimestamp TimeSource = "embedded_timestamp"

	// TimeSourceSignature is the signer-asserted signing time, trusted only
	// when Settings.TrustSignatureTime is set.
	TimeSourceSignature TimeSource = "signature_time"

	// TimeSourceCurrent means no usable signing time was available and the
	// verification time stood in for it.
	TimeSourceCurrent TimeSource = "current_time"
)

// IsTrusted reports whether the time source is cryptographically bound to
// the signature.
func (ts TimeSource) IsTrusted() bool {
	return ts == TimeSourceTimestamp
}

// Settings configures a Verifier.
//
// The zero value and DefaultSettings are secure by default: no trust roots,
// no trust in signer-asserted time, expired certificates rejected, and
// timestamp signer certificates checked.
type Settings struct {
	// TrustRoots are the trusted root certificates. When nil, chain trust is
	// not evaluated and every record carries a warning instead.
	TrustRoots *x509.CertPool

	// VerificationTime overrides the wall clock for the "now" half of the
	// temporal checks. Zero means time.Now.
	VerificationTime time.Time

	// TrustSignatureTime allows the signer-asserted signing time as a
	// fallback when no verified timestamp token is present. The signer can
	// backdate it freely, so this defaults to off.
	TrustSignatureTime bool

	// AllowExpiredCerts suppresses the expiry warning for certificates that
	// were valid at signing time but have since expired.
	AllowExpiredCerts bool

	// ValidateTimestampCertificates additionally checks the timestamp
	// signer's certificate: temporal validity at the token time and, when
	// TrustRoots is set, chain trust.
	ValidateTimestampCertificates bool
}

// DefaultSettings returns settings with security-first defaults.
func DefaultSettings() *Settings {
	return &Settings{
		ValidateTimestampCertificates: true,
	}
}

// LenientSettings returns settings that accept the signer-asserted signing
// time as a fallback, suitable for development and for documents where no
// timestamp authority was available.
func LenientSettings() *Settings {
	return &Settings{
		TrustSignatureTime:            true,
		AllowExpiredCerts:             true,
		ValidateTimestampCertificates: true,
	}
}

// Record is the verification outcome for one signature.
type Record struct {
	// SignatureName is the document-unique name of the signature.
	SignatureName string

	// SignerName is the signer certificate's common name, falling back to
	// the name declared in the signature dictionary.
	SignerName string

	// Err is set when the signature could not be structurally processed.
	// When non-nil every other result field is meaningless.
	Err error

	// IntegrityOK reports that the covered bytes still digest to the value
	// the signer committed to.
	IntegrityOK bool

	// AuthenticityOK reports that the signature value was produced by the
	// key matching the signer certificate. Independent of IntegrityOK when
	// the signer used signed attributes.
	AuthenticityOK bool

	// CoversWholeDocument reports that the declared range extends to the
	// current end of file, i.e. no revision was appended after this
	// signature.
	CoversWholeDocument bool

	// RevisionIndex is the 1-based position of this signature's revision:
	// the number of signatures (itself included) whose declared range lies
	// within this one's.
	RevisionIndex int

	// TotalRevisions is the number of signed revisions in the document.
	TotalRevisions int

	// SignerCertificate is the certificate the signature was verified
	// against.
	SignerCertificate *x509.Certificate

	// SigningTime is the signing time used for temporal evaluation; see
	// TimeSource for how much it can be trusted.
	SigningTime time.Time

	// TimeSource states where SigningTime came from.
	TimeSource TimeSource

	// CertValidAtSigning is the certificate's temporal validity at the
	// claimed signing time (the timestamp time when a trusted token is
	// present, else the signer-asserted time). Whether that instant can be
	// trusted is a separate question answered by TimeSource.
	CertValidAtSigning certs.Validity

	// CertValidNow is the certificate's temporal validity at the
	// verification time.
	CertValidNow certs.Validity

	// Timestamp is the outcome of timestamp token verification, nil when
	// the signature carries no token.
	Timestamp *tsa.TokenVerification

	// Permissions is the cumulative permission state after this signature's
	// revision was applied.
	Permissions mdp.Permissions

	// Warnings are policy findings that do not invalidate the signature.
	Warnings []string
}

// Valid reports the overall verdict: structurally sound, both cryptographic
// checks passed, and the certificate was within its validity window at the
// claimed signing time. Callers who require a corroborated signing time
// should additionally check TimeSource and the warnings.
func (r *Record) Valid() bool {
	return r.Err == nil && r.IntegrityOK && r.AuthenticityOK &&
		r.CertValidAtSigning == certs.ValidityValid
}

// warn appends a formatted warning.
func (r *Record) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Verifier verifies all signatures of a document against one Settings.
type Verifier struct {
	settings *Settings
}

// New creates a Verifier. A nil settings means DefaultSettings.
func New(settings *Settings) *Verifier {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Verifier{settings: settings}
}

// VerifyDocument verifies every signature in the document and returns one
// record per signature, in revision order. A document without signatures
// yields an empty, non-nil slice.
func (v *Verifier) VerifyDocument(doc document.Document) []*Record {
	names := doc.SignatureNames()
	records := make([]*Record, 0, len(names))

	// Collect the declared ranges first; revision indices are relative to
	// the whole document, not to the signatures that happen to parse.
	dicts := make([]*document.SignatureDict, len(names))
	for i, name := range names {
		dicts[i], _ = doc.SignatureDictionary(name)
	}

	now := v.settings.VerificationTime
	if now.IsZero() {
		now = time.Now()
	}

	perms := mdp.Unrestricted()
	for i, name := range names {
		rec := v.verifySignature(doc, name, dicts[i], now)
		rec.RevisionIndex = revisionIndex(dicts, i)
		rec.TotalRevisions = len(names)

		if rec.Err == nil && dicts[i] != nil {
			var anomalies []string
			perms, anomalies = perms.Apply(i, dicts[i].Restrictions())
			rec.Warnings = append(rec.Warnings, anomalies...)
		}
		rec.Permissions = perms

		records = append(records, rec)
	}
	return records
}

// revisionIndex counts the signatures (including sig itself) whose declared
// range lies within sig's. Each signature freezes one revision, so the
// count is the 1-based revision number.
func revisionIndex(dicts []*document.SignatureDict, i int) int {
	if dicts[i] == nil {
		return 0
	}
	n := 0
	for _, other := range dicts {
		if other != nil && dicts[i].ByteRange.Contains(other.ByteRange) {
			n++
		}
	}
	return n
}

// verifySignature produces the record for a single signature. Structural
// problems set rec.Err and stop processing for that signature only.
func (v *Verifier) verifySignature(doc document.Document, name string, dict *document.SignatureDict, now time.Time) *Record {
	rec := &Record{SignatureName: name}

	if dict == nil {
		rec.Err = fmt.Errorf("unreadable signature dictionary: %w", document.ErrSignatureNotFound)
		return rec
	}
	rec.SignerName = dict.SignerName

	if err := dict.ByteRange.Validate(); err != nil {
		rec.Err = fmt.Errorf("invalid byte range: %w", err)
		return rec
	}
	content, err := dict.ByteRange.CoveredBytes(doc.Bytes())
	if err != nil {
		rec.Err = fmt.Errorf("byte range not satisfiable: %w", err)
		return rec
	}
	rec.CoversWholeDocument = dict.ByteRange.CoversFile(doc.Length())

	blob, err := doc.SignedDataBlob(name)
	if err != nil {
		rec.Err = fmt.Errorf("unreadable signature contents: %w", err)
		return rec
	}
	sd, err := cms.ParseSignedData(blob)
	if err != nil {
		rec.Err = err
		return rec
	}

	rec.IntegrityOK = sd.VerifyIntegrity(content)
	rec.AuthenticityOK = sd.VerifyAuthenticity(content)

	rec.SignerCertificate = sd.SignerCertificate
	if cn := sd.SignerCertificate.Subject.CommonName; cn != "" {
		rec.SignerName = cn
	}

	if cms.IsLegacyDigest(sd.DigestAlgorithm) {
		rec.warn("signature uses a legacy digest algorithm (%v)", sd.DigestAlgorithm)
	}
	if !sd.HasSignedAttributes() {
		rec.warn("signature has no signed attributes; integrity and authenticity are not independently verifiable")
	}

	v.verifyTimestamp(rec, sd, now)
	v.evaluateTime(rec, sd, dict, now)
	v.evaluateCertificate(rec, sd, dict, now)

	return rec
}

// verifyTimestamp verifies the attached timestamp token, when present.
// Token failures never fail the record; they downgrade the time source.
func (v *Verifier) verifyTimestamp(rec *Record, sd *cms.SignedData, now time.Time) {
	if sd.TimestampToken == nil {
		return
	}
	tv, err := tsa.VerifyToken(sd.TimestampToken, sd.Signature)
	if err != nil {
		rec.warn("timestamp token unusable: %v", err)
		return
	}
	rec.Timestamp = tv
	if !tv.SignatureValid {
		rec.warn("timestamp token signature does not verify")
	}
	if !tv.ImprintMatches {
		rec.warn("timestamp token imprint does not match the signature value")
	}

	if v.settings.ValidateTimestampCertificates && tv.TSACertificate != nil {
		if val := certs.At(tv.TSACertificate, tv.GenTime); val != certs.ValidityValid {
			rec.warn("timestamp signer certificate was %s at token time", val)
		}
		if v.settings.TrustRoots != nil {
			_, err := tv.TSACertificate.Verify(x509.VerifyOptions{
				Roots:       v.settings.TrustRoots,
				CurrentTime: tv.GenTime,
				KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
			})
			if err != nil {
				rec.warn("timestamp signer certificate is not trusted: %v", err)
			}
		}
	}
}

// evaluateTime picks the signing time and its source. Priority: verified
// timestamp, then signer-asserted time when trusted, then the verification
// time as a last resort.
func (v *Verifier) evaluateTime(rec *Record, sd *cms.SignedData, dict *document.SignatureDict, now time.Time) {
	if rec.Timestamp != nil && rec.Timestamp.Trusted() {
		rec.SigningTime = rec.Timestamp.GenTime
		rec.TimeSource = TimeSourceTimestamp
		return
	}

	claimed := claimedSigningTime(sd, dict)
	if v.settings.TrustSignatureTime && !claimed.IsZero() {
		rec.SigningTime = claimed
		rec.TimeSource = TimeSourceSignature
		rec.warn("signing time is signer-asserted and not corroborated by a timestamp")
		return
	}

	rec.SigningTime = now
	rec.TimeSource = TimeSourceCurrent
	if !claimed.IsZero() {
		rec.warn("signer-asserted signing time present but not trusted; evaluating at verification time")
	} else {
		rec.warn("no signing time available; evaluating at verification time")
	}
}

// claimedSigningTime returns the signer-asserted signing time, preferring
// the CMS signingTime attribute over the dictionary's /M entry. Zero when
// the signer asserted none.
func claimedSigningTime(sd *cms.SignedData, dict *document.SignatureDict) time.Time {
	if !sd.SigningTime.IsZero() {
		return sd.SigningTime
	}
	return dict.SigningTime
}

// evaluateCertificate computes the two temporal verdicts and chain trust.
// The at-signing verdict is taken at the claimed signing time whenever one
// exists (the verified timestamp time when the token is trusted): the claim
// itself is unverified, which TimeSource and the warnings already state, but
// the tri-state answers "was the certificate valid when the signer says it
// signed", not "is it valid today".
func (v *Verifier) evaluateCertificate(rec *Record, sd *cms.SignedData, dict *document.SignatureDict, now time.Time) {
	cert := sd.SignerCertificate

	atSigning := now
	if rec.TimeSource == TimeSourceTimestamp {
		atSigning = rec.SigningTime
	} else if claimed := claimedSigningTime(sd, dict); !claimed.IsZero() {
		atSigning = claimed
	}
	rec.CertValidAtSigning = certs.At(cert, atSigning)
	rec.CertValidNow = certs.At(cert, now)

	if rec.CertValidNow == certs.ValidityExpired && rec.CertValidAtSigning == certs.ValidityValid {
		if !v.settings.AllowExpiredCerts {
			rec.warn("signer certificate has expired since signing")
		} else if !rec.TimeSource.IsTrusted() {
			rec.warn("expired certificate accepted on an uncorroborated signing time")
		}
	}

	if v.settings.TrustRoots == nil {
		rec.warn("no trust roots configured; chain trust not evaluated")
		return
	}
	intermediates := x509.NewCertPool()
	for _, c := range sd.Certificates {
		if !c.Equal(cert) {
			intermediates.AddCert(c)
		}
	}
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:         v.settings.TrustRoots,
		Intermediates: intermediates,
		CurrentTime:   rec.SigningTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		rec.warn("signer certificate is not trusted: %v", err)
	}
}
