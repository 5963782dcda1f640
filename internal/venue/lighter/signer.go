package lighter

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// createOrderTx is the signed body of a Lighter market order. Field
// order in the msgpack encoding is part of the signature payload, so
// the encoder writes keys explicitly rather than reflecting a struct.
type createOrderTx struct {
	AccountIndex     int
	ApiKeyIndex      int
	MarketIndex      int
	ClientOrderIndex int64
	BaseAmount       int64
	Price            int64
	IsAsk            bool
	ReduceOnly       bool
}

// Signer holds the API secp256k1 key and produces transaction
// signatures over the msgpack payload hash.
type Signer struct {
	privKey *ecdsa.PrivateKey
}

func NewSigner(hexKey string) (*Signer, error) {
	clean := strings.TrimSpace(hexKey)
	if clean == "" {
		return nil, errors.New("lighter api private key is required")
	}
	clean = strings.TrimPrefix(clean, "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	return &Signer{privKey: key}, nil
}

// SignCreateOrder hashes the encoded tx together with the nonce and
// signs the digest. The signature is hex with the recovery byte last.
func (s *Signer) SignCreateOrder(tx createOrderTx, nonce uint64) (string, error) {
	payload, err := encodeCreateOrder(tx)
	if err != nil {
		return "", err
	}
	digest := txHash(payload, nonce)
	sig, err := crypto.Sign(digest, s.privKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func txHash(payload []byte, nonce uint64) []byte {
	buf := bytes.NewBuffer(payload)
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	buf.Write(nonceBytes[:])
	return crypto.Keccak256(buf.Bytes())
}

func encodeCreateOrder(tx createOrderTx) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(8); err != nil {
		return nil, err
	}
	fields := []struct {
		key    string
		encode func() error
	}{
		{"account_index", func() error { return enc.EncodeInt(int64(tx.AccountIndex)) }},
		{"api_key_index", func() error { return enc.EncodeInt(int64(tx.ApiKeyIndex)) }},
		{"market_index", func() error { return enc.EncodeInt(int64(tx.MarketIndex)) }},
		{"client_order_index", func() error { return enc.EncodeInt(tx.ClientOrderIndex) }},
		{"base_amount", func() error { return enc.EncodeInt(tx.BaseAmount) }},
		{"price", func() error { return enc.EncodeInt(tx.Price) }},
		{"is_ask", func() error { return enc.EncodeBool(tx.IsAsk) }},
		{"reduce_only", func() error { return enc.EncodeBool(tx.ReduceOnly) }},
	}
	for _, f := range fields {
		if err := enc.EncodeString(f.key); err != nil {
			return nil, err
		}
		if err := f.encode(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
