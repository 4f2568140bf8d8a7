package crypto

import (
	"encoding/binary"
	"fmt"
)

// MandateFields is the subset of an execution mandate's attributes that the
// issuer's signature commits to (spec.md §3, §4.A). It deliberately excludes
// mutable/derived fields (revocation triplet, creation timestamp, signature
// itself).
type MandateFields struct {
	IssuerID        string
	SubjectID       string
	ValidFrom       int64 // UTC unix milliseconds
	ValidUntil      int64 // UTC unix milliseconds
	ResourceScope   []string
	ActionScope     []string
	ParentMandateID string // empty means explicit null
	DelegationDepth int64
	IntentHash      []byte // nil means explicit null
}

// Canonical encoding: a fixed tagged sequence, not a sorted-map encoding,
// since the field set is fixed and known at compile time — a sorted-key
// encoding and a fixed-order encoding are equivalent for a closed schema,
// and the fixed order avoids re-deriving key order at every call site.
// Every implementation that verifies a signature MUST reproduce these bytes
// exactly; changing field order, width, or presence encoding is a breaking
// wire change.
const (
	presentByte byte = 0x01
	nullByte    byte = 0x00
)

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, b...)
	return buf
}

func putInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func putStringSlice(buf []byte, ss []string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ss)))
	buf = append(buf, lenBuf[:]...)
	for _, s := range ss {
		buf = putString(buf, s)
	}
	return buf
}

// CanonicalEncode produces the fixed byte encoding of f that Sign/Verify
// operate over (spec.md §4.A).
func CanonicalEncode(f MandateFields) []byte {
	buf := make([]byte, 0, 256)
	buf = putString(buf, f.IssuerID)
	buf = putString(buf, f.SubjectID)
	buf = putInt64(buf, f.ValidFrom)
	buf = putInt64(buf, f.ValidUntil)
	buf = putStringSlice(buf, f.ResourceScope)
	buf = putStringSlice(buf, f.ActionScope)

	if f.ParentMandateID == "" {
		buf = append(buf, nullByte)
	} else {
		buf = append(buf, presentByte)
		buf = putString(buf, f.ParentMandateID)
	}

	buf = putInt64(buf, f.DelegationDepth)

	if len(f.IntentHash) == 0 {
		buf = append(buf, nullByte)
	} else {
		buf = append(buf, presentByte)
		buf = putBytes(buf, f.IntentHash)
	}

	return buf
}

// DecodeCanonical parses bytes produced by CanonicalEncode back into
// MandateFields. Used only to exercise the round-trip law in tests; the
// signing/verification path never needs to decode, since callers already
// hold the structured mandate.
func DecodeCanonical(buf []byte) (MandateFields, error) {
	var f MandateFields
	var ok bool

	f.IssuerID, buf, ok = readString(buf)
	if !ok {
		return f, fmt.Errorf("canonical: truncated issuer_id")
	}
	f.SubjectID, buf, ok = readString(buf)
	if !ok {
		return f, fmt.Errorf("canonical: truncated subject_id")
	}
	f.ValidFrom, buf, ok = readInt64(buf)
	if !ok {
		return f, fmt.Errorf("canonical: truncated valid_from")
	}
	f.ValidUntil, buf, ok = readInt64(buf)
	if !ok {
		return f, fmt.Errorf("canonical: truncated valid_until")
	}
	f.ResourceScope, buf, ok = readStringSlice(buf)
	if !ok {
		return f, fmt.Errorf("canonical: truncated resource_scope")
	}
	f.ActionScope, buf, ok = readStringSlice(buf)
	if !ok {
		return f, fmt.Errorf("canonical: truncated action_scope")
	}

	if len(buf) < 1 {
		return f, fmt.Errorf("canonical: truncated parent marker")
	}
	marker := buf[0]
	buf = buf[1:]
	if marker == presentByte {
		f.ParentMandateID, buf, ok = readString(buf)
		if !ok {
			return f, fmt.Errorf("canonical: truncated parent_mandate_id")
		}
	}

	f.DelegationDepth, buf, ok = readInt64(buf)
	if !ok {
		return f, fmt.Errorf("canonical: truncated delegation_depth")
	}

	if len(buf) < 1 {
		return f, fmt.Errorf("canonical: truncated intent marker")
	}
	marker = buf[0]
	buf = buf[1:]
	if marker == presentByte {
		f.IntentHash, _, ok = readBytes(buf)
		if !ok {
			return f, fmt.Errorf("canonical: truncated intent_hash")
		}
	}

	return f, nil
}

func readString(buf []byte) (string, []byte, bool) {
	b, rest, ok := readBytes(buf)
	if !ok {
		return "", buf, false
	}
	return string(b), rest, true
}

func readBytes(buf []byte) ([]byte, []byte, bool) {
	if len(buf) < 4 {
		return nil, buf, false
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, buf, false
	}
	return buf[:n], buf[n:], true
}

func readInt64(buf []byte) (int64, []byte, bool) {
	if len(buf) < 8 {
		return 0, buf, false
	}
	v := int64(binary.BigEndian.Uint64(buf[:8]))
	return v, buf[8:], true
}

func readStringSlice(buf []byte) ([]string, []byte, bool) {
	if len(buf) < 4 {
		return nil, buf, false
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, rest, ok := readString(buf)
		if !ok {
			return nil, buf, false
		}
		out = append(out, s)
		buf = rest
	}
	return out, buf, true
}
