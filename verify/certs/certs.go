// Package certs provides temporal validity checks for signer certificates.
package certs

import (
	"crypto/x509"
	"time"
)

// Validity is the tri-state outcome of checking a certificate's validity
// window against a reference instant.
type Validity int

const (
	// ValidityValid means the instant falls inside [NotBefore, NotAfter].
	ValidityValid Validity = iota
	// ValidityExpired means the instant falls after NotAfter.
	ValidityExpired
	// ValidityNotYetValid means the instant falls before NotBefore.
	ValidityNotYetValid
)

// String returns the string representation of the validity state.
func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "valid"
	case ValidityExpired:
		return "expired"
	case ValidityNotYetValid:
		return "not_yet_valid"
	default:
		return "unknown"
	}
}

// At checks the certificate's validity window against the given instant.
// It is a pure temporal comparison: chain-of-trust validation against a
// root store is a separate concern (see verify.Settings.TrustRoots).
func At(cert *x509.Certificate, instant time.Time) Validity {
	if instant.Before(cert.NotBefore) {
		return ValidityNotYetValid
	}
	if instant.After(cert.NotAfter) {
		return ValidityExpired
	}
	return ValidityValid
}
