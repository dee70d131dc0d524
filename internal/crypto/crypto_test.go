package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// testKey is a throwaway secp256k1 key used only by tests.
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestDecryptRejectsSwappedAddress(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)

	var kf keyFile
	require.NoError(t, json.Unmarshal(blob, &kf))
	kf.Address = common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex()
	tampered, err := json.Marshal(kf)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "pw")
	assert.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKey)

	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	fromFile, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	fromRaw, err := LoadSigner(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, fromRaw.Address(), fromFile.Address())
}

func TestSignEventVerifies(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	seller := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	evt := domain.Event{
		ID:     "e1",
		Type:   domain.EventListed,
		Actor:  seller,
		Seller: &seller,
		Price:  1000,
		At:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	signed, err := s.SignEvent(evt)
	require.NoError(t, err)
	require.NotNil(t, signed.Signer)
	assert.Equal(t, s.Address(), *signed.Signer)
	require.NoError(t, VerifyEvent(signed))

	tampered := signed
	tampered.Price = 1
	assert.ErrorIs(t, VerifyEvent(tampered), ErrBadSignature)

	assert.ErrorIs(t, VerifyEvent(evt), ErrBadSignature, "unsigned event")
}

func TestRequestSignatureRecovers(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	body := []byte(`{"price":1000}`)

	sig, err := s.SignRequest("post", "/api/listings", 1700000000, body)
	require.NoError(t, err)

	got, err := RecoverAccount(RequestDigest("POST", "/api/listings", 1700000000, body), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	other, err := RecoverAccount(RequestDigest("POST", "/api/listings", 1700000001, body), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other, "timestamp is covered")

	_, err = RecoverAccount(RequestDigest("POST", "/", 1, nil), "0xdead")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestRecoverAcceptsBothVConventions(t *testing.T) {
	pk, err := ethcrypto.HexToECDSA(testKey)
	require.NoError(t, err)
	digest := RequestDigest("GET", "/api/health", 1, nil)
	raw, err := ethcrypto.Sign(digest, pk)
	require.NoError(t, err)

	got, err := RecoverAccount(digest, hexutilEncode(raw))
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(pk.PublicKey), got)
}
