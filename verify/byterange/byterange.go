// Package byterange extracts the byte regions of a document covered by a
// signature's /ByteRange array.
package byterange

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrRangeOutOfBounds = errors.New("byte range outside file bounds")
	ErrInvalidByteRange = errors.New("invalid byte range")
)

// ByteRange is a flat sequence of offset/length pairs, as declared in a
// signature dictionary's /ByteRange array. The signed region usually
// excludes the /Contents placeholder, so a range has at least two pairs.
type ByteRange []int64

// Validate checks the structural well-formedness of the range: an even,
// non-zero number of entries, all non-negative, with pairs in increasing
// offset order.
func (br ByteRange) Validate() error {
	if len(br) == 0 || len(br)%2 != 0 {
		return fmt.Errorf("%w: expected offset/length pairs, got %d entries", ErrInvalidByteRange, len(br))
	}
	prevEnd := int64(0)
	for i := 0; i < len(br); i += 2 {
		offset, length := br[i], br[i+1]
		if offset < 0 || length < 0 {
			return fmt.Errorf("%w: negative offset or length at pair %d", ErrInvalidByteRange, i/2)
		}
		if offset < prevEnd {
			return fmt.Errorf("%w: overlapping or unordered pair %d", ErrInvalidByteRange, i/2)
		}
		prevEnd = offset + length
	}
	return nil
}

// CoveredBytes returns the exact concatenated byte sequence that was
// digested by a signature declaring this range. Any pair falling outside
// the file is an ErrRangeOutOfBounds: the range is corrupt or adversarially
// crafted and this signature cannot be verified.
func (br ByteRange) CoveredBytes(doc []byte) ([]byte, error) {
	if err := br.Validate(); err != nil {
		return nil, err
	}
	size := int64(len(doc))

	// Bounds-check every pair before allocating anything. The comparison is
	// written so that hostile values near MaxInt64 cannot wrap.
	var total int64
	for i := 0; i < len(br); i += 2 {
		offset, length := br[i], br[i+1]
		if offset > size || length > size-offset {
			return nil, fmt.Errorf("%w: pair [%d %d] exceeds file size %d", ErrRangeOutOfBounds, offset, length, size)
		}
		total += length
	}

	out := make([]byte, 0, total)
	for i := 0; i < len(br); i += 2 {
		offset, length := br[i], br[i+1]
		out = append(out, doc[offset:offset+length]...)
	}
	return out, nil
}

// CoveredLength returns the total number of bytes covered by the range.
func (br ByteRange) CoveredLength() int64 {
	var total int64
	for i := 0; i+1 < len(br); i += 2 {
		total += br[i+1]
	}
	return total
}

// End returns the offset one past the last covered byte.
func (br ByteRange) End() int64 {
	if len(br) < 2 {
		return 0
	}
	return br[len(br)-2] + br[len(br)-1]
}

// CoversFile reports whether the range reaches the end of the current file,
// i.e. whether no later revision was appended after this signature. The gap
// between pairs (the signature placeholder itself) does not count against
// coverage.
func (br ByteRange) CoversFile(size int64) bool {
	return len(br) >= 2 && br.End() == size
}

// Contains reports whether other's covered region is a subset of this
// range's covered span. Signatures over successive revisions cover strictly
// growing prefixes, so the comparison reduces to the end offsets.
func (br ByteRange) Contains(other ByteRange) bool {
	return other.End() <= br.End()
}
