package domain

import (
	"github.com/google/uuid"

	dErrors "custodia/pkg/domain-errors"
)

// WalletID identifies a wallet aggregate. A distinct type so wallet and
// owner identifiers cannot be mixed up at compile time.
type WalletID uuid.UUID

// NewWalletID returns a random wallet ID.
func NewWalletID() WalletID {
	return WalletID(uuid.New())
}

// ParseWalletID parses a wallet ID from its string form. IDs must be valid,
// non-nil UUIDs.
func ParseWalletID(s string) (WalletID, error) {
	if s == "" {
		return WalletID{}, dErrors.New(dErrors.CodeValidation, "wallet id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return WalletID{}, dErrors.New(dErrors.CodeValidation, "wallet id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return WalletID{}, dErrors.New(dErrors.CodeValidation, "wallet id must not be nil")
	}
	return WalletID(parsed), nil
}

func (id WalletID) String() string {
	return uuid.UUID(id).String()
}

func (id WalletID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText renders the ID as its canonical UUID string in JSON.
func (id WalletID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical UUID string form.
func (id *WalletID) UnmarshalText(text []byte) error {
	parsed, err := ParseWalletID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
