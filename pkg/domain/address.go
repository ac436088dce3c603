package domain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "custodia/pkg/domain-errors"
)

// AddressLength is the byte length of every identity token in the system.
const AddressLength = 20

// Address is an opaque fixed-length identity token. It identifies owners,
// transfer targets and wallets themselves. The service attaches no network
// semantics to it beyond equality and formatting.
type Address [AddressLength]byte

// ZeroAddress is the all-zeroes address, rejected everywhere an identity is
// required.
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed hex string of exactly AddressLength bytes.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if raw == "" {
		return a, dErrors.New(dErrors.CodeValidation, "address is required")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return a, dErrors.New(dErrors.CodeValidation, "address must be hex encoded")
	}
	if len(b) != AddressLength {
		return a, dErrors.Newf(dErrors.CodeValidation, "address must be %d bytes", AddressLength)
	}
	copy(a[:], b)
	if a.IsZero() {
		return a, dErrors.New(dErrors.CodeValidation, "address must not be the zero address")
	}
	return a, nil
}

// MustAddress parses s or panics. Test helper only.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Equal reports byte equality; provided for readability at call sites.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a[:], other[:])
}

// MarshalText implements encoding.TextMarshaler so addresses render as
// 0x-hex in JSON payloads and map keys.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DeriveWalletAddress produces a deterministic wallet address from the
// creating owner and a per-creator nonce. SHA3-256 truncated to
// AddressLength bytes.
func DeriveWalletAddress(creator Address, nonce uint64) Address {
	buf := make([]byte, AddressLength+8)
	copy(buf, creator[:])
	binary.BigEndian.PutUint64(buf[AddressLength:], nonce)
	sum := sha3.Sum256(buf)

	var a Address
	copy(a[:], sum[:AddressLength])
	return a
}
