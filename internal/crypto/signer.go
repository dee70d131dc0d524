package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ErrBadSignature is returned when a signature is malformed or does not
// recover to the expected account.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer produces EIP-191 personal_sign signatures with the operator key.
// Published events carry the signature so subscribers can check they came
// from this marketplace.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignEvent fills evt.Signer and evt.Signature. The signed message is the
// JSON encoding of evt with both fields empty.
func (s *Signer) SignEvent(evt domain.Event) (domain.Event, error) {
	digest, err := EventDigest(evt)
	if err != nil {
		return evt, err
	}
	sig, err := s.signDigest(digest)
	if err != nil {
		return evt, err
	}
	evt.Signer = &s.address
	evt.Signature = sig
	return evt, nil
}

// SignRequest signs the request digest that the HTTP signature middleware
// verifies. Clients and tests use it to build X-Signature.
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	return s.signDigest(RequestDigest(method, path, timestamp, body))
}

// EventDigest is the EIP-191 hash of evt without its signature fields.
func EventDigest(evt domain.Event) ([]byte, error) {
	evt.Signer = nil
	evt.Signature = ""
	msg, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: encode event: %w", err)
	}
	return accounts.TextHash(msg), nil
}

// VerifyEvent checks that evt carries a signature by its Signer.
func VerifyEvent(evt domain.Event) error {
	if evt.Signer == nil || evt.Signature == "" {
		return ErrBadSignature
	}
	digest, err := EventDigest(evt)
	if err != nil {
		return err
	}
	got, err := RecoverAccount(digest, evt.Signature)
	if err != nil {
		return err
	}
	if got != *evt.Signer {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, got.Hex())
	}
	return nil
}

// RequestDigest is the EIP-191 hash of
//
//	METHOD \n path \n unix-seconds \n keccak256(body) as 0x-hex
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	msg := strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(timestamp, 10),
		hexutilEncode(ethcrypto.Keccak256(body)),
	}, "\n")
	return accounts.TextHash([]byte(msg))
}

// RecoverAccount returns the address whose key produced sigHex over digest.
// Both v conventions (0/1 and 27/28) are accepted.
func RecoverAccount(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	sig[64] += 27
	return hexutilEncode(sig), nil
}

func hexutilEncode(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
