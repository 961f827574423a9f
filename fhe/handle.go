package fhe

import (
	"encoding/hex"

	"golang.org/x/xerrors"
)

// HandleLength is the size of a handle in bytes.
const HandleLength = 32

// HandleVersion is stored in the last byte of every handle.
const HandleVersion = 0

// Handle is the public reference to one ciphertext. The first 30 bytes are a
// digest of the ciphertext and its binding, followed by the primitive and
// the handle version.
type Handle [HandleLength]byte

func newHandle(digest []byte, p Primitive) Handle {
	var h Handle
	copy(h[:HandleLength-2], digest)
	h[HandleLength-2] = byte(p)
	h[HandleLength-1] = HandleVersion
	return h
}

// HandleFromBytes copies buf into a handle.
func HandleFromBytes(buf []byte) (Handle, error) {
	var h Handle
	if len(buf) != HandleLength {
		return h, xerrors.Errorf("handle must have %d bytes, got %d",
			HandleLength, len(buf))
	}
	copy(h[:], buf)
	return h, nil
}

// HandleFromHex parses the hexadecimal representation of a handle, with or
// without the 0x prefix.
func HandleFromHex(s string) (Handle, error) {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	buf, err := hex.DecodeString(s)
	if err != nil {
		return Handle{}, xerrors.Errorf("decoding handle: %v", err)
	}
	return HandleFromBytes(buf)
}

// Primitive returns the type of the value behind the handle.
func (h Handle) Primitive() Primitive {
	return Primitive(h[HandleLength-2])
}

// IsZero returns true for the empty handle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Slice returns a copy of the handle as a byte slice.
func (h Handle) Slice() []byte {
	return append([]byte{}, h[:]...)
}

// Hex returns the 0x-prefixed hexadecimal form.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

// Dedup returns the handles in first-seen order without duplicates.
func Dedup(handles []Handle) []Handle {
	seen := make(map[Handle]bool, len(handles))
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
