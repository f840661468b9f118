package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// did:key for Ed25519: multibase base58btc ('z') over the multicodec
// ed25519-pub prefix (0xed 0x01) followed by the raw public key.
const (
	didKeyPrefix = "did:key:"
	multibaseB58 = "z"
)

var ed25519Multicodec = []byte{0xed, 0x01}

// ErrInvalidDID is returned when a DID cannot be decoded to an Ed25519 key.
var ErrInvalidDID = errors.New("invalid did:key")

// Identity is an Ed25519 keypair and the did:key derived from its public
// key. The private key never leaves this package.
type Identity struct {
	did     string
	pubKey  ed25519.PublicKey
	privKey ed25519.PrivateKey
}

// GenerateIdentity creates a fresh identity.
func GenerateIdentity() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return IdentityFromPrivateKey(priv)
}

// IdentityFromPrivateKey wraps an existing Ed25519 private key.
func IdentityFromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: %d", len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		did:     DIDFromPublicKey(pub),
		pubKey:  pub,
		privKey: priv,
	}, nil
}

// DID returns the did:key identifier of the identity.
func (i *Identity) DID() string { return i.did }

// PublicKey returns a copy of the public key.
func (i *Identity) PublicKey() ed25519.PublicKey {
	return bytes.Clone(i.pubKey)
}

// Sign returns the hex encoded Ed25519 signature over payload.
func (i *Identity) Sign(payload []byte) (string, error) {
	if len(i.privKey) != ed25519.PrivateKeySize {
		return "", &SignatureError{Op: "sign", Err: errors.New("identity has no private key")}
	}
	return hex.EncodeToString(ed25519.Sign(i.privKey, payload)), nil
}

// DIDFromPublicKey encodes pub as a did:key.
func DIDFromPublicKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	buf = append(buf, ed25519Multicodec...)
	buf = append(buf, pub...)
	return didKeyPrefix + multibaseB58 + base58.Encode(buf)
}

// PublicKeyFromDID decodes a did:key produced by DIDFromPublicKey.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	rest, ok := strings.CutPrefix(did, didKeyPrefix+multibaseB58)
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDID, did)
	}
	raw, err := base58.Decode(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if !bytes.HasPrefix(raw, ed25519Multicodec) {
		return nil, fmt.Errorf("%w: not an ed25519 key", ErrInvalidDID)
	}
	key := raw[len(ed25519Multicodec):]
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidDID, len(key))
	}
	return ed25519.PublicKey(key), nil
}
