package exchange

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/halcyondex/halcyon/pkg/crypto"
)

// ErrBadSignatureEncoding is returned when a 65-byte signature blob cannot be
// parsed into (V, R, S) components.
var ErrBadSignatureEncoding = errors.New("signature must be 65 bytes (V||R||S)")

// Signature is the (v, r, s) triple of a secp256k1 ECDSA signature.
// V below 27 is normalized by adding 27; after normalization only 27 and 28
// are valid recovery values.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// SignatureFromVRS builds a Signature from a 65-byte V||R||S blob, the wire
// encoding used by calldata payloads.
func SignatureFromVRS(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != 65 {
		return sig, ErrBadSignatureEncoding
	}
	sig.V = b[0]
	copy(sig.R[:], b[1:33])
	copy(sig.S[:], b[33:65])
	return sig, nil
}

// SignatureFromRSV builds a Signature from the 65-byte R||S||V layout that
// crypto.Signer emits (V already normalized to 27/28 by SignHash).
func SignatureFromRSV(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != 65 {
		return sig, ErrBadSignatureEncoding
	}
	copy(sig.R[:], b[0:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	return sig, nil
}

// VRSBytes returns the 65-byte V||R||S wire encoding.
func (sig Signature) VRSBytes() []byte {
	out := make([]byte, 65)
	out[0] = sig.V
	copy(out[1:33], sig.R[:])
	copy(out[33:65], sig.S[:])
	return out
}

// normalizedV maps V to {27, 28}, returning false for anything else.
func (sig Signature) normalizedV() (uint8, bool) {
	v := sig.V
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return 0, false
	}
	return v, true
}

// SignatureVerifier checks that a signature over a message hash was produced
// by an expected signer. The message actually recovered against is the
// ERC-191 personal-message digest of the hash; signer hosts that apply the
// prefix internally and ones that do not both end up signing that digest.
type SignatureVerifier struct{}

// IsValidSignature recovers the signer of messageHash from sig and reports
// whether it matches expectedSigner. It returns false, never an error, on
// malformed signature material or recovery failure.
func (SignatureVerifier) IsValidSignature(messageHash common.Hash, sig Signature, expectedSigner common.Address) bool {
	v, ok := sig.normalizedV()
	if !ok {
		return false
	}

	// go-ethereum's Ecrecover wants R||S||recoveryID with recoveryID in {0, 1}.
	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = v - 27

	digest := crypto.PersonalSignHash(messageHash.Bytes())

	pubBytes, err := ethcrypto.Ecrecover(digest, raw)
	if err != nil {
		return false
	}
	pub, err := ethcrypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == expectedSigner
}
