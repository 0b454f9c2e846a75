package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	// Check address is valid
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}

	// Check private key hex is 64 chars (32 bytes)
	privHex := signer.PrivateKeyHex()
	if len(privHex) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(privHex))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	// Generate a key and use it for round-trip testing
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()
	expectedAddr := signer1.Address()

	// Load from hex (no prefix)
	signer2, err := FromPrivateKeyHex(privHex)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}

	if signer2.Address() != expectedAddr {
		t.Errorf("address = %s, want %s", signer2.Address().Hex(), expectedAddr.Hex())
	}

	if signer2.PrivateKeyHex() != privHex {
		t.Errorf("private key mismatch after reload")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()

	digest := eth_crypto.Keccak256([]byte("settle this"))
	signature, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	// Signature should be 65 bytes [R || S || V]
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestSignHashAppliesPrefix(t *testing.T) {
	signer, _ := GenerateKey()

	hash := eth_crypto.Keccak256([]byte("an order hash"))
	signature, err := signer.SignHash(hash)
	if err != nil {
		t.Fatalf("failed to sign hash: %v", err)
	}

	v := signature[64]
	if v != 27 && v != 28 {
		t.Errorf("V = %d, want 27 or 28", v)
	}

	// Recovery runs against the ERC-191 prefixed digest, not the raw hash
	raw := append([]byte(nil), signature...)
	raw[64] -= 27
	recovered, err := RecoverAddress(PersonalSignHash(hash), raw)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestSignRejectsBadDigestLength(t *testing.T) {
	signer, _ := GenerateKey()

	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("signed a non-32-byte digest")
	}
	if _, err := signer.SignHash([]byte("short")); err == nil {
		t.Error("sign-hashed a non-32-byte hash")
	}
}
