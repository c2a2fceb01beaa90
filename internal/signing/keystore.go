package signing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// The current supported version of the encrypted key file format.
	keystoreFormatVersion = 1

	saltSize = 16
)

// ErrWrongPassphrase is returned when the passphrase is incorrect or
// the key file has been modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

// envelope is the on-disk JSON structure holding the ciphertext and
// the Argon2id parameters that sealed it.
type envelope struct {
	V       int    `json:"v"`
	Salt    []byte `json:"salt"`
	Time    uint32 `json:"argon2_time"`
	Memory  uint32 `json:"argon2_memory"`
	Threads uint8  `json:"argon2_threads"`
	Nonce   []byte `json:"nonce"`
	Cipher  []byte `json:"cipher"`
}

// Argon2id tunables.
func argon2ParamsDefault() (time, memory uint32, threads uint8) {
	return 1, 64 * 1024, 4
}

// encrypt derives a key from the passphrase and seals raw into a JSON envelope.
func encrypt(passphrase string, raw []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	kdfTime, kdfMemory, kdfThreads := argon2ParamsDefault()

	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, raw, salt)

	return json.Marshal(envelope{
		V:       keystoreFormatVersion,
		Salt:    salt,
		Time:    kdfTime,
		Memory:  kdfMemory,
		Threads: kdfThreads,
		Nonce:   nonce,
		Cipher:  ct,
	})
}

// decrypt opens the JSON envelope using a key derived from the passphrase.
func decrypt(passphrase string, data []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	if env.V > keystoreFormatVersion {
		return nil, fmt.Errorf("unsupported key file version %d", env.V)
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSize {
		return nil, ErrWrongPassphrase
	}

	key := argon2.IDKey([]byte(passphrase), env.Salt, env.Time, env.Memory, env.Threads, chacha20poly1305.KeySize)
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, env.Nonce, env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

// zero overwrites b with zeros in a constant-time friendly way.
func zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
