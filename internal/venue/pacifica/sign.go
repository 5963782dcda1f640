package pacifica

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Keypair is the Solana-style ed25519 identity used to authenticate
// Pacifica requests. The account id is the base58 public key.
type Keypair struct {
	priv    ed25519.PrivateKey
	account string
}

func KeypairFromBase58(secret string) (*Keypair, error) {
	if secret == "" {
		return nil, errors.New("pacifica private key is required")
	}
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{priv: priv, account: base58.Encode(pub)}, nil
}

func (k *Keypair) Account() string { return k.account }

type signHeader struct {
	Timestamp    int64
	ExpiryWindow int64
	Type         string
}

// Sign produces the base58 signature over the canonical message: the
// header fields plus the payload under "data", serialized as compact
// JSON with keys sorted at every level. The venue rebuilds the same
// message server-side, so any formatting drift invalidates the
// signature.
func (k *Keypair) Sign(header signHeader, payload any) (string, error) {
	data, err := toSortedMap(payload)
	if err != nil {
		return "", err
	}
	message := map[string]any{
		"timestamp":     header.Timestamp,
		"expiry_window": header.ExpiryWindow,
		"type":          header.Type,
		"data":          data,
	}
	canonical, err := canonicalJSON(message)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(k.priv, canonical)
	return base58.Encode(sig), nil
}

// toSortedMap round-trips payload through JSON so every nested object
// becomes a map, which Go's encoder serializes with sorted keys.
func toSortedMap(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
