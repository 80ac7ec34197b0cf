package crypto

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

const (
	oprfOutputContext   = "github.com/optable/apsi 2024 oprf output"
	epochContext        = "github.com/optable/apsi 2024 oprf epoch"
	locationSeedContext = "github.com/optable/apsi 2024 location seed"

	// TagLen is the byte length of a keyed item tag
	TagLen = 16
)

// OPRFOutput splits the final OPRF element in an item hash
// and a label key
func OPRFOutput(point [EncodedLen]byte) (hashed [16]byte, labelKey [32]byte) {
	h := blake3.NewDeriveKey(oprfOutputContext)
	h.Write(point[:])
	d := h.Digest()
	d.Read(hashed[:])
	d.Read(labelKey[:])
	return
}

// Epoch identifies the public key of an OPRF key
func Epoch(public [EncodedLen]byte) (epoch [8]byte) {
	h := blake3.NewDeriveKey(epochContext)
	h.Write(public[:])
	copy(epoch[:], h.Sum(nil))
	return
}

// LocationSeed derives the salt of the j-th table location hasher
// from a parameter set fingerprint
func LocationSeed(fingerprint []byte, j int, size int) []byte {
	h := blake3.NewDeriveKey(locationSeedContext)
	h.Write(fingerprint)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(j))
	h.Write(b[:])
	seed := make([]byte, size)
	h.Digest().Read(seed)
	return seed
}

// Tagger computes the keyed tag of hashed items for one query session.
// It is safe for concurrent use.
type Tagger struct {
	key [32]byte
}

// NewTagger returns a Tagger keyed with key
func NewTagger(key [32]byte) *Tagger {
	return &Tagger{key: key}
}

// Tag returns the tag of item
func (t *Tagger) Tag(item []byte) (tag [TagLen]byte) {
	// a 32 bytes key never fails
	h, _ := blake3.NewKeyed(t.key[:])
	h.Write(item)
	h.Digest().Read(tag[:])
	return
}
