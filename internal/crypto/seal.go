package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyLen is the byte length of X25519 keys and of session keys
	KeyLen = 32

	sessionInfo = "github.com/optable/apsi 2024 result session"
	// label length prefix
	lengthLen = 2
)

var (
	ErrLabelTooLong = errors.New("label longer than the label byte count")
	ErrOpen         = errors.New("message authentication failed")
)

// KeyPair is an X25519 key pair
type KeyPair struct {
	Private [KeyLen]byte
	Public  [KeyLen]byte
}

// NewKeyPair generates a fresh X25519 key pair
func NewKeyPair() (*KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SessionKeys derives the result sealing key and the item tag key
// shared by the owner of private and the owner of peer.
func SessionKeys(private [KeyLen]byte, peer []byte, salt []byte) (sealKey, tagKey [KeyLen]byte, err error) {
	shared, err := curve25519.X25519(private[:], peer)
	if err != nil {
		return sealKey, tagKey, err
	}

	kdf := hkdf.New(sha256.New, shared, salt, []byte(sessionInfo))
	if _, err = io.ReadFull(kdf, sealKey[:]); err != nil {
		return
	}
	_, err = io.ReadFull(kdf, tagKey[:])
	return
}

// PartSealer seals and opens the result parts of one query
type PartSealer struct {
	key [KeyLen]byte
}

// NewPartSealer returns a sealer keyed with a session key
func NewPartSealer(key [KeyLen]byte) *PartSealer {
	return &PartSealer{key: key}
}

func partNonce(index uint32) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint32(nonce[chacha20poly1305.NonceSize-4:], index)
	return nonce
}

// Seal seals the payload of the part at index. A session key never
// seals two parts with the same index.
func (s *PartSealer) Seal(index uint32, additional, payload []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, partNonce(index), payload, additional), nil
}

// Open authenticates and decrypts the part at index
func (s *PartSealer) Open(index uint32, additional, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	payload, err := aead.Open(nil, partNonce(index), sealed, additional)
	if err != nil {
		return nil, ErrOpen
	}
	return payload, nil
}

// SealLabel pads label to size bytes and seals it under key with a
// random nonce. Every sealed label of a database has the same length.
func SealLabel(key [32]byte, label []byte, size int) ([]byte, error) {
	if len(label) > size || len(label) > 0xffff {
		return nil, fmt.Errorf("%w: %d > %d", ErrLabelTooLong, len(label), size)
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	padded := make([]byte, lengthLen+size)
	binary.BigEndian.PutUint16(padded, uint16(len(label)))
	copy(padded[lengthLen:], label)

	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(padded)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out, padded, nil), nil
}

// OpenLabel reverses SealLabel
func OpenLabel(key [32]byte, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+lengthLen+aead.Overhead() {
		return nil, ErrOpen
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	padded, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpen
	}

	n := int(binary.BigEndian.Uint16(padded))
	if n > len(padded)-lengthLen {
		return nil, ErrOpen
	}
	return padded[lengthLen : lengthLen+n], nil
}
