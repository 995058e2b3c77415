// Package cryptotest writes throwaway v3 keystores for tests. Keys are
// encrypted with the light scrypt parameters so tests stay fast.
package cryptotest

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// WriteKeystore encrypts key under passphrase in a fresh temporary directory and
// returns the path of the keystore file.
func WriteKeystore(tb testing.TB, key *ecdsa.PrivateKey, passphrase string) string {
	tb.Helper()
	ks := keystore.NewKeyStore(tb.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.ImportECDSA(key, passphrase)
	if err != nil {
		tb.Fatalf("import key: %v", err)
	}
	return account.URL.Path
}
