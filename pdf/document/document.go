// Package document provides the document-access layer the verification
// pipeline consumes: an abstraction over "a byte buffer with named
// signature dictionaries", implemented for in-memory documents and for
// signed PDF files.
package document

import (
	"errors"
	"fmt"
	"time"

	"github.com/georgepadayatti/pdfverify/verify/byterange"
	"github.com/georgepadayatti/pdfverify/verify/mdp"
)

// Common errors
var (
	ErrSignatureNotFound = errors.New("signature not found")
)

// Document is what the verifier consumes. SignatureNames returns names in
// document-native physical order, i.e. order of appearance across
// incremental revisions, not display order.
type Document interface {
	// SignatureNames lists the signature names in revision order.
	SignatureNames() []string

	// SignatureDictionary returns the declared fields of a signature.
	SignatureDictionary(name string) (*SignatureDict, error)

	// SignedDataBlob returns the raw CMS blob from the signature's
	// /Contents entry, with hex padding stripped.
	SignedDataBlob(name string) ([]byte, error)

	// Bytes returns the raw document bytes.
	Bytes() []byte

	// Length returns the current total document length.
	Length() int64
}

// SignatureDict carries the declared fields of one signature dictionary.
// Everything here is a claim made by whoever wrote the revision; the
// verifier decides what to believe.
type SignatureDict struct {
	// Name identifies the signature uniquely within the document.
	Name string

	// ByteRange is the declared covered-range descriptor.
	ByteRange byterange.ByteRange

	// Filter and SubFilter identify the signature handler and encoding.
	Filter    string
	SubFilter string

	// SignerName, ContactInfo, Location and Reason are the informational
	// entries of the dictionary.
	SignerName  string
	ContactInfo string
	Location    string
	Reason      string

	// SigningTime is the claimed signing time (the /M entry); zero when
	// absent. Unverified unless corroborated by a timestamp token.
	SigningTime time.Time

	// Certification is true when the signature carries a DocMDP reference.
	Certification bool

	// Perm is the declared DocMDP permission level, mdp.PermUnset if none.
	Perm mdp.MDPPerm

	// FieldLocks are the declared field-lock rules.
	FieldLocks []mdp.FieldLock

	// Extra holds any remaining declared key/value pairs.
	Extra map[string]string
}

// Restrictions converts the dictionary's declared lock entries into the
// permission tracker's transition input.
func (d *SignatureDict) Restrictions() mdp.Restrictions {
	return mdp.Restrictions{
		Certification: d.Certification,
		Perm:          d.Perm,
		FieldLocks:    d.FieldLocks,
	}
}

// MemoryDocument is an in-memory Document, the natural fit for embedders
// that already hold a parsed document, and for tests.
type MemoryDocument struct {
	data  []byte
	names []string
	dicts map[string]*SignatureDict
	blobs map[string][]byte
}

// NewMemoryDocument creates a document over the given raw bytes.
func NewMemoryDocument(data []byte) *MemoryDocument {
	return &MemoryDocument{
		data:  data,
		dicts: make(map[string]*SignatureDict),
		blobs: make(map[string][]byte),
	}
}

// AddSignature registers a signature in revision order. The dictionary's
// Name must be unique within the document.
func (m *MemoryDocument) AddSignature(dict *SignatureDict, blob []byte) error {
	if dict.Name == "" {
		return fmt.Errorf("signature name must not be empty")
	}
	if _, dup := m.dicts[dict.Name]; dup {
		return fmt.Errorf("duplicate signature name %q", dict.Name)
	}
	m.names = append(m.names, dict.Name)
	m.dicts[dict.Name] = dict
	m.blobs[dict.Name] = blob
	return nil
}

// SignatureNames implements Document.
func (m *MemoryDocument) SignatureNames() []string {
	return append([]string(nil), m.names...)
}

// SignatureDictionary implements Document.
func (m *MemoryDocument) SignatureDictionary(name string) (*SignatureDict, error) {
	dict, ok := m.dicts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSignatureNotFound, name)
	}
	return dict, nil
}

// SignedDataBlob implements Document.
func (m *MemoryDocument) SignedDataBlob(name string) ([]byte, error) {
	blob, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSignatureNotFound, name)
	}
	return blob, nil
}

// Bytes implements Document.
func (m *MemoryDocument) Bytes() []byte { return m.data }

// Length implements Document.
func (m *MemoryDocument) Length() int64 { return int64(len(m.data)) }
