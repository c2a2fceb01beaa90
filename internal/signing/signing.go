// Package signing generates and stores the artifact signing key and
// signs artifact manifests with it. The private key never touches disk
// in the clear: it is sealed in a passphrase-encrypted envelope.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Keypair is an Ed25519 signing key pair.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// keyMaterial is the plaintext JSON payload inside the keystore envelope.
type keyMaterial struct {
	Pub  []byte `json:"pub"`
	Priv []byte `json:"priv"`
}

// Generate returns a new Ed25519 signing key pair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// SignManifest signs the manifest bytes and returns the signature.
func (k *Keypair) SignManifest(manifest []byte) []byte {
	return ed25519.Sign(k.Private, manifest)
}

// VerifyManifest verifies sig over the manifest bytes with pub.
func VerifyManifest(pub ed25519.PublicKey, manifest, sig []byte) bool {
	return ed25519.Verify(pub, manifest, sig)
}

// Fingerprint returns a short hex fingerprint of a public key.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}

// PublicBase64 returns the public key in standard base64.
func (k *Keypair) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(k.Public)
}

// Save seals the key pair with the passphrase and writes it to path.
// The parent directory is created if needed.
func (k *Keypair) Save(path, passphrase string) error {
	raw, err := json.Marshal(keyMaterial{Pub: k.Public, Priv: k.Private})
	if err != nil {
		return fmt.Errorf("failed to encode key material: %w", err)
	}
	sealed, err := encrypt(passphrase, raw)
	zero(raw)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// Load reads the key file at path and unseals it with the passphrase.
func Load(path, passphrase string) (*Keypair, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	raw, err := decrypt(passphrase, sealed)
	if err != nil {
		return nil, err
	}
	defer zero(raw)

	var material keyMaterial
	if err := json.Unmarshal(raw, &material); err != nil {
		return nil, fmt.Errorf("failed to decode key material: %w", err)
	}
	if len(material.Pub) != ed25519.PublicKeySize || len(material.Priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file holds malformed key material")
	}
	return &Keypair{
		Public:  ed25519.PublicKey(material.Pub),
		Private: ed25519.PrivateKey(material.Priv),
	}, nil
}
