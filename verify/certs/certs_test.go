package certs

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestAt(t *testing.T) {
	notBefore := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cert := &x509.Certificate{NotBefore: notBefore, NotAfter: notAfter}

	tests := []struct {
		name    string
		instant time.Time
		want    Validity
	}{
		{"inside window", time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC), ValidityValid},
		{"exactly not-before", notBefore, ValidityValid},
		{"exactly not-after", notAfter, ValidityValid},
		{"before window", time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), ValidityNotYetValid},
		{"after window", time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC), ValidityExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := At(cert, tt.instant); got != tt.want {
				t.Errorf("At(%v) = %v, want %v", tt.instant, got, tt.want)
			}
		})
	}
}

func TestValidityString(t *testing.T) {
	tests := []struct {
		v    Validity
		want string
	}{
		{ValidityValid, "valid"},
		{ValidityExpired, "expired"},
		{ValidityNotYetValid, "not_yet_valid"},
		{Validity(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Validity(%d).String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}
