package crypto

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	var addr Address
	addr[0], addr[19] = 0xAB, 0x01

	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, AccountPrefix+"1"))

	fromBech, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr, fromBech)

	fromHex, err := ParseAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, fromHex)

	var text Address
	require.NoError(t, text.UnmarshalText([]byte(encoded)))
	require.Equal(t, addr, text)
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "0x1234", "xyz1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq", "sub1notvalid"} {
		_, err := ParseAddress(input)
		require.Error(t, err, input)
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.keystore")
	require.NoError(t, SaveToKeystore(path, key, "secret"))

	loaded, err := LoadFromKeystore(path, "secret")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), loaded.PubKey().Address())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestKeystoreAccountSkipsDecryption(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "nested", "wallet.keystore")
	require.NoError(t, SaveToKeystore(path, key, "pw"))

	account, err := KeystoreAccount(path)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), account)

	_, err = KeystoreAccount(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
