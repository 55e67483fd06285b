// Package envelope implements Mostro's three-layer gift-wrap scheme:
// Rumor (the unsigned message), Seal (the rumor signed by its real author
// and encrypted to the recipient), and GiftWrap (the seal re-encrypted
// under a disposable one-time key, so the wire-level sender is unlinkable
// from the real author). Each encryption layer uses secp256k1 ECDH +
// HKDF-SHA256 + ChaCha20-Poly1305.
package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mostro-exchange/mostrod/internal/keys"
)

// maxJitter bounds the random backdating applied to the seal's and the gift
// wrap's timestamps, so that two gift-wraps sent seconds apart can't be
// correlated by time alone.
const maxJitter = 48 * time.Hour

// Rumor is the plaintext message: a JSON payload plus the claimed author
// and a timestamp. It is never transmitted on its own.
type Rumor struct {
	ID        string          `json:"id"`
	PubKey    string          `json:"pubkey"`
	CreatedAt int64           `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Seal is a Rumor signed by its real author and encrypted to a single
// recipient. The seal's own pubkey/sig is the cryptographic anchor for
// authorship; the outer GiftWrap carries no information about who wrote it.
type Seal struct {
	PubKey     string `json:"pubkey"`
	CreatedAt  int64  `json:"created_at"`
	Sig        string `json:"sig"`
	Ciphertext []byte `json:"ciphertext"`
}

// GiftWrap is the transmitted envelope: a Seal encrypted under a fresh,
// single-use key so the wire sender reveals nothing about the real author.
type GiftWrap struct {
	ID           string `json:"id"`
	RecipientP   string `json:"p"`
	EphemeralKey string `json:"ephemeral_key"`
	CreatedAt    int64  `json:"created_at"`
	Ciphertext   []byte `json:"ciphertext"`
}

func jitteredNow() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxJitter.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("envelope: jitter: %w", err)
	}
	return time.Now().Unix() - n.Int64(), nil
}

func seal(key []byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: cipher init: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("envelope: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key []byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: cipher init: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("envelope: ciphertext too short")
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("envelope: decrypt: %w", err)
	}
	return plaintext, nil
}

// Wrap builds a GiftWrap carrying payload, authored and signed by author,
// addressed to recipient. payload is embedded as raw JSON in the rumor, so
// it must be valid JSON. A fresh disposable key is generated for the outer
// layer on every call.
func Wrap(author *keys.PrivateKey, recipient *keys.PublicKey, id string, payload []byte) (*GiftWrap, error) {
	rumorTS := time.Now().Unix()
	rumor := Rumor{ID: id, PubKey: author.Public().Hex(), CreatedAt: rumorTS, Payload: payload}
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal rumor: %w", err)
	}

	sig, err := author.Sign(rumorJSON)
	if err != nil {
		return nil, fmt.Errorf("envelope: sign rumor: %w", err)
	}

	sealKey, err := keys.SharedSecret(author, recipient)
	if err != nil {
		return nil, fmt.Errorf("envelope: seal key: %w", err)
	}
	sealPlain, err := json.Marshal(struct {
		Rumor json.RawMessage `json:"rumor"`
		Sig   string          `json:"sig"`
	}{Rumor: rumorJSON, Sig: hex.EncodeToString(sig)})
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal seal body: %w", err)
	}
	sealCipher, err := seal(sealKey, sealPlain)
	if err != nil {
		return nil, fmt.Errorf("envelope: seal: %w", err)
	}

	sealTS, err := jitteredNow()
	if err != nil {
		return nil, err
	}
	s := Seal{PubKey: author.Public().Hex(), CreatedAt: sealTS, Sig: hex.EncodeToString(sig), Ciphertext: sealCipher}
	sealJSON, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal seal: %w", err)
	}

	ephemeral, err := keys.Generate()
	if err != nil {
		return nil, fmt.Errorf("envelope: ephemeral key: %w", err)
	}
	wrapKey, err := keys.SharedSecret(ephemeral, recipient)
	if err != nil {
		return nil, fmt.Errorf("envelope: wrap key: %w", err)
	}
	wrapCipher, err := seal(wrapKey, sealJSON)
	if err != nil {
		return nil, fmt.Errorf("envelope: wrap: %w", err)
	}

	wrapTS, err := jitteredNow()
	if err != nil {
		return nil, err
	}
	return &GiftWrap{
		ID:           id,
		RecipientP:   recipient.Hex(),
		EphemeralKey: ephemeral.Public().Hex(),
		CreatedAt:    wrapTS,
		Ciphertext:   wrapCipher,
	}, nil
}

// Open unwraps gw for recipient, verifying the inner seal's signature and
// returning the original rumor payload along with the verified author.
func Open(recipient *keys.PrivateKey, gw *GiftWrap) (*keys.PublicKey, []byte, error) {
	ephemeralPub, err := keys.PublicFromHex(gw.EphemeralKey)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: ephemeral key: %w", err)
	}
	wrapKey, err := keys.SharedSecret(recipient, ephemeralPub)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: wrap key: %w", err)
	}
	sealJSON, err := open(wrapKey, gw.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: open wrap: %w", err)
	}

	var s Seal
	if err := json.Unmarshal(sealJSON, &s); err != nil {
		return nil, nil, fmt.Errorf("envelope: decode seal: %w", err)
	}
	author, err := keys.PublicFromHex(s.PubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: author key: %w", err)
	}

	sealKey, err := keys.SharedSecret(recipient, author)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: seal key: %w", err)
	}
	sealPlain, err := open(sealKey, s.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: open seal: %w", err)
	}

	var body struct {
		Rumor json.RawMessage `json:"rumor"`
		Sig   string          `json:"sig"`
	}
	if err := json.Unmarshal(sealPlain, &body); err != nil {
		return nil, nil, fmt.Errorf("envelope: decode seal body: %w", err)
	}

	sigBytes, err := hex.DecodeString(body.Sig)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: decode sig: %w", err)
	}
	ok, err := keys.VerifySchnorr(author, body.Rumor, sigBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: verify: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("envelope: signature does not match rumor author")
	}

	var rumor Rumor
	if err := json.Unmarshal(body.Rumor, &rumor); err != nil {
		return nil, nil, fmt.Errorf("envelope: decode rumor: %w", err)
	}
	return author, rumor.Payload, nil
}
