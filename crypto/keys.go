package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrWatchOnly is returned when a signature is requested from an identity that has
// no private key attached.
var ErrWatchOnly = errors.New("crypto: identity has no signing key")

// Identity is an address-bearing party able to authorise ledger operations.
type Identity struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

// NewIdentity wraps a secp256k1 private key.
func NewIdentity(key *ecdsa.PrivateKey) Identity {
	return Identity{Address: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

// WatchOnly returns an identity that can be referenced but cannot sign. Test
// ledgers use these since they never verify signatures.
func WatchOnly(address common.Address) Identity {
	return Identity{Address: address}
}

// GenerateIdentity creates a fresh random identity.
func GenerateIdentity() (Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Identity{}, err
	}
	return NewIdentity(key), nil
}

// IdentityFromHex parses a hex encoded private key, with or without 0x prefix.
func IdentityFromHex(raw string) (Identity, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return Identity{}, fmt.Errorf("crypto: empty private key")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return Identity{}, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return NewIdentity(key), nil
}

// PrivateKey returns the signing key or ErrWatchOnly.
func (i Identity) PrivateKey() (*ecdsa.PrivateKey, error) {
	if i.key == nil {
		return nil, ErrWatchOnly
	}
	return i.key, nil
}

// CanSign reports whether the identity carries a private key.
func (i Identity) CanSign() bool { return i.key != nil }

func (i Identity) String() string { return i.Address.Hex() }
