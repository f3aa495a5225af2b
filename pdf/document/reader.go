package document

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/georgepadayatti/pdfverify/verify/byterange"
	"github.com/georgepadayatti/pdfverify/verify/mdp"
)

// ErrNotPDF reports that the input does not start with a PDF header.
var ErrNotPDF = errors.New("not a PDF file")

// FileDocument is a Document backed by the raw bytes of a signed PDF file.
//
// Signature dictionaries are located by a lexical scan rather than a full
// object-model parse: every entry the verification pipeline consumes (the
// declared byte range, the CMS blob, the informational strings and the MDP
// transform parameters) is written in the clear in the revision that
// introduced it. Encrypted documents are out of scope for this reader.
type FileDocument struct {
	*MemoryDocument
}

// Open reads and scans a signed PDF file.
func Open(path string) (*FileDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(data)
}

// Read scans raw PDF bytes for embedded signatures. Signatures are named
// Signature1, Signature2, ... in revision order, i.e. by how much of the
// file their declared range covers.
func Read(data []byte) (*FileDocument, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	type found struct {
		dict *SignatureDict
		blob []byte
		pos  int
	}
	var sigs []found

	for _, pos := range indexAll(data, []byte("/ByteRange")) {
		start, end, ok := dictBounds(data, pos)
		if !ok {
			continue
		}
		window := data[start:end]

		br, ok := parseIntArray(window, pos-start+len("/ByteRange"))
		if !ok || len(br) == 0 {
			continue
		}

		blob, ok := parseContents(window)
		if !ok {
			continue
		}

		dict := &SignatureDict{
			ByteRange: byterange.ByteRange(br),
			Filter:    nameValue(window, "Filter"),
			SubFilter: nameValue(window, "SubFilter"),
		}
		dict.SignerName = stringValue(window, "Name")
		dict.ContactInfo = stringValue(window, "ContactInfo")
		dict.Location = stringValue(window, "Location")
		dict.Reason = stringValue(window, "Reason")

		if m := stringValue(window, "M"); m != "" {
			if t, err := ParseDate(m); err == nil {
				dict.SigningTime = t
			}
		}

		parseTransforms(window, dict)

		sigs = append(sigs, found{dict: dict, blob: blob, pos: start})
	}

	// Revision order: a later revision's range covers more of the file.
	sort.SliceStable(sigs, func(i, j int) bool {
		ei, ej := sigs[i].dict.ByteRange.End(), sigs[j].dict.ByteRange.End()
		if ei != ej {
			return ei < ej
		}
		return sigs[i].pos < sigs[j].pos
	})

	doc := &FileDocument{MemoryDocument: NewMemoryDocument(data)}
	for i, s := range sigs {
		s.dict.Name = fmt.Sprintf("Signature%d", i+1)
		if err := doc.AddSignature(s.dict, s.blob); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// indexAll returns every occurrence of sep in data.
func indexAll(data, sep []byte) []int {
	var out []int
	off := 0
	for {
		i := bytes.Index(data[off:], sep)
		if i < 0 {
			return out
		}
		out = append(out, off+i)
		off += i + len(sep)
	}
}

// dictBounds finds the balanced << ... >> enclosing position pos.
func dictBounds(data []byte, pos int) (int, int, bool) {
	depth := 0
	start := -1
	for i := pos; i > 0; i-- {
		if data[i-1] == '>' && data[i] == '>' {
			depth++
			i--
		} else if data[i-1] == '<' && data[i] == '<' {
			if depth == 0 {
				start = i - 1
				break
			}
			depth--
			i--
		}
	}
	if start < 0 {
		return 0, 0, false
	}

	depth = 0
	for i := start; i < len(data)-1; i++ {
		if data[i] == '<' && data[i+1] == '<' {
			depth++
			i++
		} else if data[i] == '>' && data[i+1] == '>' {
			depth--
			i++
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return 0, 0, false
}

func isDelim(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0,
		'/', '[', ']', '(', ')', '<', '>', '%':
		return true
	}
	return false
}

func skipWS(data []byte, i int) int {
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\r', '\n', '\f', 0:
			i++
		default:
			return i
		}
	}
	return i
}

// findKey locates the value position of /key within window, or -1. A match
// requires the key name to end at a delimiter so that /P does not match
// /Prop_Build.
func findKey(window []byte, key string) int {
	needle := []byte("/" + key)
	off := 0
	for {
		i := bytes.Index(window[off:], needle)
		if i < 0 {
			return -1
		}
		j := off + i + len(needle)
		if j >= len(window) || isDelim(window[j]) {
			return skipWS(window, j)
		}
		off += i + len(needle)
	}
}

// parseIntArray parses [ n n ... ] starting at or after pos.
func parseIntArray(window []byte, pos int) ([]int64, bool) {
	i := skipWS(window, pos)
	if i >= len(window) || window[i] != '[' {
		return nil, false
	}
	i++
	var out []int64
	for {
		i = skipWS(window, i)
		if i >= len(window) {
			return nil, false
		}
		if window[i] == ']' {
			return out, true
		}
		j := i
		for j < len(window) && !isDelim(window[j]) {
			j++
		}
		n, err := strconv.ParseInt(string(window[i:j]), 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, n)
		i = j
	}
}

// parseContents extracts and decodes the /Contents hex string, trimming the
// zero padding signers leave after the CMS blob.
func parseContents(window []byte) ([]byte, bool) {
	i := findKey(window, "Contents")
	if i < 0 || i >= len(window) || window[i] != '<' {
		return nil, false
	}
	j := bytes.IndexByte(window[i:], '>')
	if j < 0 {
		return nil, false
	}
	raw := make([]byte, 0, j)
	for _, b := range window[i+1 : i+j] {
		switch {
		case b >= '0' && b <= '9', b >= 'a' && b <= 'f', b >= 'A' && b <= 'F':
			raw = append(raw, b)
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
		default:
			return nil, false
		}
	}
	if len(raw)%2 == 1 {
		raw = append(raw, '0')
	}
	blob := make([]byte, len(raw)/2)
	if _, err := hex.Decode(blob, raw); err != nil {
		return nil, false
	}
	return trimToDER(blob), true
}

// trimToDER cuts the hex padding after the CMS container by reading the
// outer element's declared DER length. A byte-value trim would also eat a
// legitimate trailing zero of the container itself. Blobs without a
// readable header are returned untouched.
func trimToDER(blob []byte) []byte {
	if len(blob) < 2 {
		return blob
	}
	i := 1
	var length int
	switch b := blob[i]; {
	case b < 0x80:
		length = int(b)
		i++
	default:
		n := int(b & 0x7f)
		i++
		if n == 0 || n > 4 || i+n > len(blob) {
			return blob
		}
		for k := 0; k < n; k++ {
			length = length<<8 | int(blob[i])
			i++
		}
	}
	if end := i + length; length >= 0 && end <= len(blob) {
		return blob[:end]
	}
	return blob
}

// nameValue reads a name entry (/Key /Value) as a string.
func nameValue(window []byte, key string) string {
	i := findKey(window, key)
	if i < 0 || i >= len(window) || window[i] != '/' {
		return ""
	}
	j := i + 1
	for j < len(window) && !isDelim(window[j]) {
		j++
	}
	return string(window[i+1 : j])
}

// stringValue reads a string entry, literal or hex, decoded as a PDF text
// string.
func stringValue(window []byte, key string) string {
	i := findKey(window, key)
	if i < 0 || i >= len(window) {
		return ""
	}
	switch window[i] {
	case '(':
		raw, ok := parseLiteralString(window, i)
		if !ok {
			return ""
		}
		return DecodeTextString(raw)
	case '<':
		j := bytes.IndexByte(window[i:], '>')
		if j < 0 {
			return ""
		}
		raw, err := hex.DecodeString(string(bytes.Map(dropSpace, window[i+1:i+j])))
		if err != nil {
			return ""
		}
		return DecodeTextString(raw)
	}
	return ""
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\t', '\r', '\n':
		return -1
	}
	return r
}

// parseLiteralString decodes a ( ... ) string starting at i, handling
// balanced parentheses and backslash escapes.
func parseLiteralString(window []byte, i int) ([]byte, bool) {
	var out []byte
	depth := 0
	for ; i < len(window); i++ {
		b := window[i]
		switch b {
		case '\\':
			if i+1 >= len(window) {
				return nil, false
			}
			i++
			switch window[i] {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, window[i])
			default:
				// Octal escape
				if window[i] >= '0' && window[i] <= '7' {
					v := 0
					for k := 0; k < 3 && i < len(window) && window[i] >= '0' && window[i] <= '7'; k++ {
						v = v*8 + int(window[i]-'0')
						i++
					}
					i--
					out = append(out, byte(v))
				} else {
					out = append(out, window[i])
				}
			}
		case '(':
			depth++
			if depth > 1 {
				out = append(out, b)
			}
		case ')':
			depth--
			if depth == 0 {
				return out, true
			}
			out = append(out, b)
		default:
			if depth > 0 {
				out = append(out, b)
			}
		}
	}
	return nil, false
}

// parseTransforms reads the /Reference transform entries: a DocMDP
// transform marks the signature as a certification signature and carries
// the /P permission level, a FieldMDP transform carries field locks.
func parseTransforms(window []byte, dict *SignatureDict) {
	off := 0
	for {
		rel := bytes.Index(window[off:], []byte("/TransformMethod"))
		if rel < 0 {
			return
		}
		i := off + rel
		off = i + len("/TransformMethod")

		method := nameValue(window[i:], "TransformMethod")
		params := window[off:]
		if p := findKey(params, "TransformParams"); p >= 0 {
			if s, e, ok := dictBounds(params, skipWS(params, p)+1); ok {
				params = params[s:e]
			}
		}

		switch method {
		case "DocMDP":
			dict.Certification = true
			dict.Perm = mdp.PermNoChanges
			if p := findKey(params, "P"); p >= 0 {
				j := p
				for j < len(params) && !isDelim(params[j]) {
					j++
				}
				if n, err := strconv.Atoi(string(params[p:j])); err == nil && n >= 1 && n <= 3 {
					dict.Perm = mdp.MDPPerm(n)
				}
			}
		case "FieldMDP":
			lock := mdp.FieldLock{Action: mdp.FieldMDPActionAll}
			switch nameValue(params, "Action") {
			case "Include":
				lock.Action = mdp.FieldMDPActionInclude
			case "Exclude":
				lock.Action = mdp.FieldMDPActionExclude
			}
			lock.Fields = parseStringArray(params, "Fields")
			dict.FieldLocks = append(dict.FieldLocks, lock)
		}
	}
}

// parseStringArray reads [ (a) (b) ... ] for the given key.
func parseStringArray(window []byte, key string) []string {
	i := findKey(window, key)
	if i < 0 || i >= len(window) || window[i] != '[' {
		return nil
	}
	i++
	var out []string
	for i < len(window) {
		i = skipWS(window, i)
		if i >= len(window) || window[i] == ']' {
			return out
		}
		if window[i] != '(' {
			return out
		}
		raw, ok := parseLiteralString(window, i)
		if !ok {
			return out
		}
		out = append(out, DecodeTextString(raw))
		// Advance past the closing paren of the string just read.
		depth := 0
		for ; i < len(window); i++ {
			if window[i] == '\\' {
				i++
				continue
			}
			if window[i] == '(' {
				depth++
			}
			if window[i] == ')' {
				depth--
				if depth == 0 {
					i++
					break
				}
			}
		}
	}
	return out
}
