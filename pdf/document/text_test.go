package document

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"D:20240615143045+02'00'", time.Date(2024, 6, 15, 14, 30, 45, 0, time.FixedZone("", 2*3600)), false},
		{"D:20240615143045-05'00'", time.Date(2024, 6, 15, 14, 30, 45, 0, time.FixedZone("", -5*3600)), false},
		{"D:20240615143045Z", time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC), false},
		{"D:20240615143045", time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC), false},
		{"D:20240615", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), false},
		{"20240615", time.Time{}, true},
		{"D:", time.Time{}, true},
		{"D:notadate", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatDateRoundTrip(t *testing.T) {
	orig := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)
	parsed, err := ParseDate(FormatDate(orig))
	if err != nil {
		t.Fatalf("ParseDate(FormatDate()) error = %v", err)
	}
	if !parsed.Equal(orig) {
		t.Errorf("round trip = %v, want %v", parsed, orig)
	}
}

func TestDecodeTextString(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"ascii", []byte("Hello"), "Hello"},
		{"latin-1 accent", []byte{'R', 0xE9, 'n', 0xE9}, "Réné"},
		{"utf-16be with bom", []byte{0xFE, 0xFF, 0x00, 'H', 0x00, 'i'}, "Hi"},
		{"utf-16be non-ascii", []byte{0xFE, 0xFF, 0x30, 0x42}, "あ"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeTextString(tt.raw); got != tt.want {
				t.Errorf("DecodeTextString(%v) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeTextStringNormalizes(t *testing.T) {
	// e followed by combining acute accent, UTF-16BE encoded.
	raw := []byte{0xFE, 0xFF, 0x00, 'e', 0x03, 0x01}
	got := DecodeTextString(raw)
	if got != "é" {
		t.Errorf("DecodeTextString() = %q, want NFC-composed %q", got, "é")
	}
}
