// Package keys manages the daemon's identity keypair and the per-message
// ECDH shared-secret derivation used to encrypt gift-wrap envelopes, using
// the secp256k1 keys Mostro uses natively for both BIP340 signing and ECDH.
package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

// PrivateKey wraps a secp256k1 scalar used both for BIP340 Schnorr signing
// and as the local half of an ECDH key agreement.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// PublicKey wraps a secp256k1 point, serialized x-only per BIP340.
type PublicKey struct {
	key *btcec.PublicKey
}

// Generate creates a new random identity key.
func Generate() (*PrivateKey, error) {
	k, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return &PrivateKey{key: k}, nil
}

// FromMnemonic derives an identity key deterministically from a BIP39
// mnemonic and passphrase, so an operator can recover the daemon's identity
// without storing the raw key on disk.
func FromMnemonic(mnemonic, passphrase string) (*PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("keys: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	sum := sha256.Sum256(seed)
	priv, _ := btcec.PrivKeyFromBytes(sum[:])
	return &PrivateKey{key: priv}, nil
}

// FromHex parses a 32-byte hex-encoded private scalar.
func FromHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keys: decode hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("keys: private key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &PrivateKey{key: priv}, nil
}

// Bytes returns the 32-byte scalar.
func (p *PrivateKey) Bytes() []byte { return p.key.Serialize() }

// Hex returns the hex-encoded 32-byte scalar.
func (p *PrivateKey) Hex() string { return hex.EncodeToString(p.Bytes()) }

// Public returns the corresponding x-only public key.
func (p *PrivateKey) Public() *PublicKey { return &PublicKey{key: p.key.PubKey()} }

// Sign produces a BIP340 Schnorr signature over the SHA-256 digest of msg.
func (p *PrivateKey) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := schnorr.Sign(p.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("keys: sign: %w", err)
	}
	return sig.Serialize(), nil
}

// ECDH derives the shared x-coordinate between p and peer, as used by
// SharedSecret in the gift-wrap envelope scheme.
func (p *PrivateKey) ECDH(peer *PublicKey) []byte {
	var point btcec.JacobianPoint
	peer.key.AsJacobian(&point)
	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&p.key.Key, &point, &result)
	result.ToAffine()
	x := result.X.Bytes()
	return x[:]
}

// SharedSecret derives a 32-byte ChaCha20-Poly1305 key from the ECDH shared
// x-coordinate via HKDF-SHA256, with info binding the two public keys in a
// fixed, lexicographic order so priv's own side of the pair doesn't matter:
// SharedSecret(a, B) and SharedSecret(b, A) must derive the same key, since
// one side calls it from its PrivateKey while the other only ever holds the
// first side's PublicKey.
func SharedSecret(priv *PrivateKey, peer *PublicKey) ([]byte, error) {
	ecdh := priv.ECDH(peer)
	ownPub := priv.Public().Bytes()
	peerPub := peer.Bytes()
	var info []byte
	if bytes.Compare(ownPub, peerPub) <= 0 {
		info = append(append([]byte{}, ownPub...), peerPub...)
	} else {
		info = append(append([]byte{}, peerPub...), ownPub...)
	}
	r := hkdf.New(sha256.New, ecdh, nil, info)
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("keys: hkdf: %w", err)
	}
	return out, nil
}

// Bytes returns the 32-byte x-only serialization of the public key.
func (p *PublicKey) Bytes() []byte { return schnorr.SerializePubKey(p.key) }

// Hex returns the hex-encoded x-only public key.
func (p *PublicKey) Hex() string { return hex.EncodeToString(p.Bytes()) }

// PublicFromHex parses a 32-byte hex-encoded x-only public key.
func PublicFromHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keys: decode hex: %w", err)
	}
	pub, err := schnorr.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("keys: parse pubkey: %w", err)
	}
	return &PublicKey{key: pub}, nil
}

// VerifySchnorr checks a BIP340 signature over the SHA-256 digest of msg.
func VerifySchnorr(pub *PublicKey, msg, sig []byte) (bool, error) {
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false, fmt.Errorf("keys: parse signature: %w", err)
	}
	digest := sha256.Sum256(msg)
	return s.Verify(digest[:], pub.key), nil
}
