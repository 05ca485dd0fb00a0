// Package address validates participant identifiers and derives the ledger's
// own vault identity.
//
// Identifiers are 32-byte keys rendered in base58 (Bitcoin alphabet). The vault
// identity is derived program-address style: a hash of the seeds that is
// guaranteed to lie off the ed25519 curve, so no private key can ever sign for it.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"token-stream-ledger/internal/domain"
)

// KeyLength is the decoded length of every identifier.
const KeyLength = 32

// derivationMarker is appended to the hashed seeds when deriving a vault.
const derivationMarker = "StreamVaultAddress"

// Zero is the all-zero identifier. It never designates a real participant.
var Zero = domain.Address(base58.Encode(make([]byte, KeyLength)))

var (
	// ErrMalformed is returned when an identifier is not valid base58.
	ErrMalformed = errors.New("malformed address")

	// ErrBadLength is returned when an identifier does not decode to 32 bytes.
	ErrBadLength = errors.New("address must decode to 32 bytes")

	// ErrNoOffCurveAddress is returned when no bump yields an off-curve point.
	ErrNoOffCurveAddress = errors.New("unable to find off-curve vault address")
)

// Decode returns the raw key bytes of addr.
func Decode(addr domain.Address) ([]byte, error) {
	raw, err := base58.Decode(string(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) != KeyLength {
		return nil, fmt.Errorf("%w: got %d", ErrBadLength, len(raw))
	}
	return raw, nil
}

// Validate reports whether addr is a well-formed identifier.
func Validate(addr domain.Address) error {
	_, err := Decode(addr)
	return err
}

// FromBytes encodes a 32-byte key as an identifier.
func FromBytes(raw []byte) (domain.Address, error) {
	if len(raw) != KeyLength {
		return "", fmt.Errorf("%w: got %d", ErrBadLength, len(raw))
	}
	return domain.Address(base58.Encode(raw)), nil
}

// IsZero reports whether addr is the zero identifier.
func IsZero(addr domain.Address) bool {
	return addr == Zero
}

// DeriveVault derives the ledger's vault identity from seed and owner.
// The result is deterministic and never a valid ed25519 public key.
func DeriveVault(seed string, owner domain.Address) (domain.Address, error) {
	ownerBytes, err := Decode(owner)
	if err != nil {
		return "", fmt.Errorf("decode vault owner: %w", err)
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, len(seed)+1+KeyLength+len(derivationMarker))
		data = append(data, []byte(seed)...)
		data = append(data, bump)
		data = append(data, ownerBytes...)
		data = append(data, []byte(derivationMarker)...)

		hash := sha256.Sum256(data)
		if !IsOnCurve(hash[:]) {
			return domain.Address(base58.Encode(hash[:])), nil
		}
	}

	return "", ErrNoOffCurveAddress
}

// IsOnCurve reports whether point decodes to a valid ed25519 curve point.
func IsOnCurve(point []byte) bool {
	if len(point) != KeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
