package crypto

import (
	"math/big"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestParseAddressRoundTrip(t *testing.T) {
	addr, err := ParseAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	require.NoError(t, err)
	require.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", addr.String())

	_, err = ParseAddress("0x1234")
	require.Error(t, err)

	var decoded Address
	require.NoError(t, decoded.UnmarshalText([]byte("0x52908400098527886e0f7030069857d2e4169ee7")))
	require.Equal(t, addr, decoded)
	require.False(t, decoded.IsZero())
}

func TestSignRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	msg := []byte("add-market:1700000000")
	sig, err := key.Sign(msg)
	require.NoError(t, err)

	signer, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), signer)

	other, err := RecoverAddress([]byte("tampered"), sig)
	require.NoError(t, err)
	require.NotEqual(t, signer, other)

	_, err = RecoverAddress(msg, sig[:10])
	require.Error(t, err)
}

func TestRecoverRejectsHighS(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	msg := []byte("POST\n/api/v1/admin/mint\n1700000000\n00")
	sig, err := key.Sign(msg)
	require.NoError(t, err)

	flipped := append([]byte(nil), sig...)
	s := new(big.Int).SetBytes(sig[32:64])
	s.Sub(ethcrypto.S256().Params().N, s)
	s.FillBytes(flipped[32:64])
	flipped[64] ^= 1

	_, err = RecoverAddress(msg, flipped)
	require.ErrorIs(t, err, ErrMalleableSignature)

	badV := append([]byte(nil), sig...)
	badV[64] = 27
	_, err = RecoverAddress(msg, badV)
	require.ErrorIs(t, err, ErrMalleableSignature)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "owner.json")

	require.NoError(t, SaveToKeystore(path, key, "secret"))
	loaded, err := LoadFromKeystore(path, "secret")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
