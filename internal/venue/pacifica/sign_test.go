package pacifica

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
)

func testKeypair(t *testing.T) (*Keypair, ed25519.PublicKey) {
	seed := bytes.Repeat([]byte{7}, ed25519.SeedSize)
	kp, err := KeypairFromBase58(base58.Encode(seed))
	if err != nil {
		t.Fatal(err)
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return kp, pub
}

func TestSignCoversCanonicalMessage(t *testing.T) {
	kp, pub := testKeypair(t)

	payload := map[string]any{
		"symbol":      "BTC",
		"side":        "bid",
		"amount":      "0.001",
		"reduce_only": false,
	}
	sig, err := kp.Sign(signHeader{Timestamp: 1700000000000, ExpiryWindow: 5000, Type: "create_market_order"}, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rawSig, err := base58.Decode(sig)
	if err != nil {
		t.Fatalf("signature is not base58: %v", err)
	}

	// Compact JSON, keys sorted at every level, header fields around the
	// payload under "data".
	message := `{"data":{"amount":"0.001","reduce_only":false,"side":"bid","symbol":"BTC"},` +
		`"expiry_window":5000,"timestamp":1700000000000,"type":"create_market_order"}`
	if !ed25519.Verify(pub, []byte(message), rawSig) {
		t.Fatal("signature does not verify against the canonical message")
	}
}

func TestAccountIsBase58PublicKey(t *testing.T) {
	kp, pub := testKeypair(t)
	if kp.Account() != base58.Encode(pub) {
		t.Fatalf("account %q is not the base58 public key", kp.Account())
	}
}

func TestKeypairAcceptsFullPrivateKey(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, ed25519.SeedSize)
	full := ed25519.NewKeyFromSeed(seed)
	kp, err := KeypairFromBase58(base58.Encode(full))
	if err != nil {
		t.Fatal(err)
	}
	fromSeed, _ := testKeypair(t)
	if kp.Account() != fromSeed.Account() {
		t.Fatal("seed and full key forms must derive the same account")
	}
}

func TestKeypairFromBase58Rejects(t *testing.T) {
	if _, err := KeypairFromBase58(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := KeypairFromBase58("0OIl"); err == nil {
		t.Fatal("expected error for invalid base58")
	}
	if _, err := KeypairFromBase58(base58.Encode([]byte{1, 2, 3})); err == nil {
		t.Fatal("expected error for wrong key length")
	}
}
