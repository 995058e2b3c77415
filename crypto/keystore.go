package crypto

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// LoadFromKeystore decrypts an Ethereum v3 keystore file using passphrase.
func LoadFromKeystore(path, passphrase string) (Identity, error) {
	if path == "" {
		return Identity{}, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, fmt.Errorf("crypto: read keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return Identity{}, fmt.Errorf("crypto: decrypt keystore %s: %w", path, err)
	}
	return NewIdentity(decrypted.PrivateKey), nil
}
