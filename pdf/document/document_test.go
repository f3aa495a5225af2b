package document

import (
	"errors"
	"testing"

	"github.com/georgepadayatti/pdfverify/verify/byterange"
)

func TestMemoryDocument(t *testing.T) {
	data := []byte("document bytes")
	doc := NewMemoryDocument(data)

	if got := doc.Length(); got != int64(len(data)) {
		t.Errorf("Length() = %d, want %d", got, len(data))
	}
	if len(doc.SignatureNames()) != 0 {
		t.Error("fresh document should have no signatures")
	}

	dict := &SignatureDict{Name: "Sig1", ByteRange: byterange.ByteRange{0, 10}}
	if err := doc.AddSignature(dict, []byte{0x01}); err != nil {
		t.Fatalf("AddSignature() error = %v", err)
	}

	names := doc.SignatureNames()
	if len(names) != 1 || names[0] != "Sig1" {
		t.Errorf("SignatureNames() = %v", names)
	}

	got, err := doc.SignatureDictionary("Sig1")
	if err != nil {
		t.Fatalf("SignatureDictionary() error = %v", err)
	}
	if got != dict {
		t.Error("SignatureDictionary() returned a different dictionary")
	}

	blob, err := doc.SignedDataBlob("Sig1")
	if err != nil {
		t.Fatalf("SignedDataBlob() error = %v", err)
	}
	if len(blob) != 1 || blob[0] != 0x01 {
		t.Errorf("SignedDataBlob() = %v", blob)
	}
}

func TestMemoryDocumentErrors(t *testing.T) {
	doc := NewMemoryDocument(nil)

	if err := doc.AddSignature(&SignatureDict{}, nil); err == nil {
		t.Error("AddSignature() should reject an empty name")
	}

	if err := doc.AddSignature(&SignatureDict{Name: "Sig1"}, nil); err != nil {
		t.Fatalf("AddSignature() error = %v", err)
	}
	if err := doc.AddSignature(&SignatureDict{Name: "Sig1"}, nil); err == nil {
		t.Error("AddSignature() should reject a duplicate name")
	}

	if _, err := doc.SignatureDictionary("missing"); !errors.Is(err, ErrSignatureNotFound) {
		t.Errorf("SignatureDictionary() error = %v, want ErrSignatureNotFound", err)
	}
	if _, err := doc.SignedDataBlob("missing"); !errors.Is(err, ErrSignatureNotFound) {
		t.Errorf("SignedDataBlob() error = %v, want ErrSignatureNotFound", err)
	}
}
