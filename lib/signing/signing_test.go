package signing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	privateKey, err := GeneratePrivateKey()
	require.NoError(t, err)

	nsec, err := SerializePrivateKey(privateKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(nsec, "nsec1"))

	recovered, _, err := DeserializePrivateKey(nsec)
	require.NoError(t, err)
	assert.Equal(t, privateKey.Serialize(), recovered.Serialize())
}

func TestDeserializeHexPrivateKey(t *testing.T) {
	privateKey, err := GeneratePrivateKey()
	require.NoError(t, err)

	recovered, _, err := DeserializePrivateKey(SerializePrivateKeyHex(privateKey))
	require.NoError(t, err)
	assert.Equal(t, privateKey.Serialize(), recovered.Serialize())
}

func TestPublicKeySerialization(t *testing.T) {
	privateKey, err := GeneratePrivateKey()
	require.NoError(t, err)

	npub, err := SerializePublicKeyBech32(privateKey.PubKey())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(npub, "npub1"))

	hexKey := SerializePublicKeyHex(privateKey.PubKey())
	assert.Len(t, hexKey, 64)
}

func TestDeserializeGarbageFails(t *testing.T) {
	_, _, err := DeserializePrivateKey("not a key at all")
	assert.Error(t, err)
}
