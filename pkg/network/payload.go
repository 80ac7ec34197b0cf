package network

import (
	"fmt"

	"github.com/optable/apsi/pkg/psi"
	"github.com/ugorji/go/codec"
)

// Entry is one Sender item in one bin of a bin bundle
type Entry struct {
	// Bin is the location of the item relative to the bundle
	Bin uint32
	// Tag is the keyed tag of the hashed item
	Tag []byte
	// Label is the sealed label, empty for unlabeled databases
	Label []byte
}

// PartPayload is the plaintext of a sealed ResultPart. Exactly one of
// Entries or Bloom is used, depending on the result encoding.
type PartPayload struct {
	Entries []Entry
	// Bloom is a JSON encoded bloomfilter of bin and tag pairs
	Bloom []byte
}

// EncodePayload encodes the plaintext of a result part
func EncodePayload(p *PartPayload) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, handle).Encode(p); err != nil {
		return nil, fmt.Errorf("could not encode result payload: %w", err)
	}
	return b, nil
}

// DecodePayload decodes the plaintext of a result part
func DecodePayload(b []byte) (*PartPayload, error) {
	var p PartPayload
	if err := codec.NewDecoderBytes(b, handle).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: could not decode result payload: %v", psi.ErrMalformedMessage, err)
	}
	return &p, nil
}

// BinTag is the bloomfilter key of a tag in a bin
func BinTag(bin uint32, tag []byte) []byte {
	b := make([]byte, 4, 4+len(tag))
	b[0], b[1], b[2], b[3] = byte(bin>>24), byte(bin>>16), byte(bin>>8), byte(bin)
	return append(b, tag...)
}
