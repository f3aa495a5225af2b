package document

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// ParseDate parses a PDF date string (D:YYYYMMDDHHmmSS+HH'mm' and its
// truncated forms).
func ParseDate(s string) (time.Time, error) {
	if len(s) < 2 || s[:2] != "D:" {
		return time.Time{}, fmt.Errorf("invalid PDF date format: %s", s)
	}

	s = s[2:]
	if len(s) == 0 {
		return time.Time{}, fmt.Errorf("invalid PDF date format: empty date")
	}

	// Remove quotes from timezone
	s = strings.ReplaceAll(s, "'", "")

	formats := []string{
		"20060102150405-0700",
		"20060102150405+0700",
		"20060102150405Z",
		"20060102150405",
		"200601021504",
		"2006010215",
		"20060102",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse PDF date: %s", s)
}

// FormatDate formats a time as a PDF date string.
func FormatDate(t time.Time) string {
	_, offset := t.Zone()
	offsetHours := offset / 3600
	offsetMinutes := (offset % 3600) / 60

	sign := "+"
	if offset < 0 {
		sign = "-"
		offsetHours = -offsetHours
		offsetMinutes = -offsetMinutes
	}

	return fmt.Sprintf("D:%04d%02d%02d%02d%02d%02d%s%02d'%02d'",
		t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		sign, offsetHours, offsetMinutes)
}

// DecodeTextString decodes the raw bytes of a PDF text string. Strings with
// a UTF-16BE byte order mark are decoded as UTF-16; everything else is
// treated as a single-byte encoding. The result is NFC-normalized so that
// signer names compare consistently regardless of how the producer composed
// accented characters.
func DecodeTextString(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		units := make([]uint16, 0, (len(raw)-2)/2)
		for i := 2; i+1 < len(raw); i += 2 {
			units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
		}
		return norm.NFC.String(string(utf16.Decode(units)))
	}

	// Single-byte strings map near enough onto Latin-1 for the
	// informational entries verification reports.
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return norm.NFC.String(string(runes))
}
