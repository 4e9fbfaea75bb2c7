// Package crypto signs and verifies player requests with EIP-191 personal
// signatures over secp256k1 keys.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrBadSignature    = errors.New("bad signature")
	ErrStaleRequest    = errors.New("request timestamp outside allowed skew")
	ErrReplayedRequest = errors.New("signed request already used")
)

// RequestDigest is the EIP-191 hash of "<unix timestamp>\n<body>". Binding
// the timestamp into the message lets verifiers reject replays outside a
// skew window.
func RequestDigest(body []byte, timestamp int64) []byte {
	msg := make([]byte, 0, len(body)+21)
	msg = strconv.AppendInt(msg, timestamp, 10)
	msg = append(msg, '\n')
	msg = append(msg, body...)
	return accounts.TextHash(msg)
}

// Signer signs requests on behalf of one player.
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
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the player address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest returns the 0x-prefixed 65-byte signature of body at
// timestamp, with v in {27, 28}.
func (s *Signer) SignRequest(body []byte, timestamp int64) (string, error) {
	sig, err := ethcrypto.Sign(RequestDigest(body, timestamp), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequest returns the address that produced sigHex over body at
// timestamp. Both v encodings ({0,1} and {27,28}) are accepted.
func RecoverRequest(body []byte, timestamp int64, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(body, timestamp), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verifier checks signed requests against a clock.
type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

// NewVerifier returns a Verifier accepting timestamps within maxSkew of the
// wall clock.
func NewVerifier(maxSkew time.Duration) *Verifier {
	return &Verifier{MaxSkew: maxSkew, Now: time.Now}
}

// Verify checks that player signed body at the decimal unix timestamp ts.
func (v *Verifier) Verify(player common.Address, body []byte, ts, sigHex string) error {
	timestamp, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrBadSignature, ts)
	}
	if skew := v.Now().Sub(time.Unix(timestamp, 0)).Abs(); skew > v.MaxSkew {
		return ErrStaleRequest
	}
	signer, err := RecoverRequest(body, timestamp, sigHex)
	if err != nil {
		return err
	}
	if signer != player {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, signer.Hex())
	}
	return nil
}
