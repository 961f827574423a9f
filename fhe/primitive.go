package fhe

import (
	"strings"

	"go.dedis.ch/cipherscore"
	"golang.org/x/xerrors"
)

// Primitive identifies an encrypted integer type. The numbering follows the
// type byte embedded in handles.
type Primitive byte

// The primitives known to the runtime. Only the ones up to Uint64 fit into a
// single embedded point and are supported.
const (
	Bool    Primitive = 0
	Uint8   Primitive = 2
	Uint16  Primitive = 3
	Uint32  Primitive = 4
	Uint64  Primitive = 5
	Uint128 Primitive = 6
	Address Primitive = 7
	Uint256 Primitive = 8
)

var primitiveNames = map[Primitive]string{
	Bool:    "ebool",
	Uint8:   "euint8",
	Uint16:  "euint16",
	Uint32:  "euint32",
	Uint64:  "euint64",
	Uint128: "euint128",
	Address: "eaddress",
	Uint256: "euint256",
}

var primitiveBits = map[Primitive]uint{
	Bool:    1,
	Uint8:   8,
	Uint16:  16,
	Uint32:  32,
	Uint64:  64,
	Uint128: 128,
	Address: 160,
	Uint256: 256,
}

func (p Primitive) String() string {
	if n, ok := primitiveNames[p]; ok {
		return n
	}
	return "unknown"
}

// Bits returns the width of the plaintext domain.
func (p Primitive) Bits() uint {
	return primitiveBits[p]
}

// Supported returns true if values of this primitive can be encrypted by the
// runtime.
func (p Primitive) Supported() bool {
	switch p {
	case Bool, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// Fits returns true if value is part of the plaintext domain of p.
func (p Primitive) Fits(value uint64) bool {
	bits := p.Bits()
	if bits == 0 {
		return false
	}
	if bits >= 64 {
		return true
	}
	return value < uint64(1)<<bits
}

// PrimitiveForType returns the primitive matching a solidity internal type,
// as found in the ABI of a contract. Both the external input types
// ("externalEuint32") and the stored types ("euint32") are accepted.
func PrimitiveForType(internalType string) (Primitive, error) {
	name := strings.TrimPrefix(internalType, "external")
	name = strings.ToLower(name)
	for p, n := range primitiveNames {
		if n != name {
			continue
		}
		if !p.Supported() {
			return 0, xerrors.Errorf("%s: %w", internalType,
				cipherscore.ErrUnsupportedParameterType)
		}
		return p, nil
	}
	return 0, xerrors.Errorf("'%s' has no encryption primitive: %w",
		internalType, cipherscore.ErrUnsupportedParameterType)
}
