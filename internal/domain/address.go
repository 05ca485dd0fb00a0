package domain

// Address identifies a principal: a sender, a recipient, the admin or the vault.
// It is a base58-encoded 32-byte key; see package address for validation.
type Address string

// String returns the base58 form.
func (a Address) String() string {
	return string(a)
}

// TokenInfo describes a token registered with the token registry.
type TokenInfo struct {
	ID       string // registry key, e.g. "cUSDC"
	Symbol   string
	Decimals uint8
}
