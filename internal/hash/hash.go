package hash

import (
	"fmt"

	"github.com/minio/highwayhash"
	"github.com/shivakar/metrohash"
	"github.com/twmb/murmur3"
)

const (
	SaltLength = 32

	Murmur3 = iota
	Metro
	Highway
)

var (
	ErrUnknownHash        = fmt.Errorf("cannot create a hasher of unknown hash type")
	ErrSaltLengthMismatch = fmt.Errorf("provided salt is not %d length", SaltLength)
)

// Hasher implements different non cryptographic hashing functions
type Hasher interface {
	Hash64([]byte) uint64
}

// New creates a hasher of type t
func New(t int, salt []byte) (Hasher, error) {
	switch t {
	case Murmur3:
		return NewMurmur3Hasher(salt)
	case Metro:
		return NewMetroHasher(salt)
	case Highway:
		return NewHighwayHasher(salt)
	default:
		return nil, ErrUnknownHash
	}
}

// ByName returns the hash type registered under name, as
// spelled in a parameter document
func ByName(name string) (int, error) {
	switch name {
	case "murmur3":
		return Murmur3, nil
	case "metro":
		return Metro, nil
	case "highway":
		return Highway, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownHash, name)
	}
}

// Murmur3 implementation of Hasher
type murmur64 struct {
	salt []byte
}

// NewMurmur3Hasher returns a Murmur3 hasher that uses salt as a prefix to the
// bytes being summed
func NewMurmur3Hasher(salt []byte) (murmur64, error) {
	if len(salt) != SaltLength {
		return murmur64{}, ErrSaltLengthMismatch
	}

	return murmur64{salt: salt}, nil
}

func (t murmur64) Hash64(p []byte) uint64 {
	// prepend the salt in m and then Sum
	b := make([]byte, 0, len(t.salt)+len(p))
	return murmur3.Sum64(append(append(b, t.salt...), p...))
}

// Metro Hash implementation of Hasher
type metro struct {
	salt []byte
}

// NewMetroHasher returns a metro64 hasher that uses salt as a
// prefix to the bytes being summed
func NewMetroHasher(salt []byte) (metro, error) {
	if len(salt) != SaltLength {
		return metro{}, ErrSaltLengthMismatch
	}

	return metro{salt: salt}, nil
}

func (m metro) Hash64(p []byte) uint64 {
	h := metrohash.NewMetroHash64()
	h.Write(m.salt)
	h.Write(p)
	return h.Sum64()
}

// Highway Hash implementation of Hasher
type highway struct {
	key []byte
}

// NewHighwayHasher returns a highwayhash hasher keyed with salt
func NewHighwayHasher(salt []byte) (highway, error) {
	if len(salt) != SaltLength {
		return highway{}, ErrSaltLengthMismatch
	}

	return highway{key: salt}, nil
}

func (h highway) Hash64(p []byte) uint64 {
	return highwayhash.Sum64(p, h.key)
}
