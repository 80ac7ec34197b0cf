package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	gr "github.com/bwesterb/go-ristretto"
	r255 "github.com/gtank/ristretto255"
)

// EncodedLen is the byte length of an encoded scalar or group element
const EncodedLen = 32

const (
	// RistrettoTypeGR is github.com/bwesterb/go-ristretto
	RistrettoTypeGR = "go-ristretto"
	// RistrettoTypeR255 is github.com/gtank/ristretto255
	RistrettoTypeR255 = "ristretto255"
)

var (
	ErrUnknownRistretto = errors.New("unsupported ristretto type")
	ErrInvalidPoint     = errors.New("invalid ristretto255 element encoding")
	ErrInvalidScalar    = errors.New("invalid ristretto255 scalar encoding")
)

// Ristretto multiplies group elements by a secret scalar.
type Ristretto interface {
	// DeriveMultiply maps identifier to the group and multiplies it by the scalar
	DeriveMultiply(identifier []byte) [EncodedLen]byte
	// Multiply decodes an element and multiplies it by the scalar
	Multiply(encoded [EncodedLen]byte) ([EncodedLen]byte, error)
	// Base is the scalar times the group generator
	Base() [EncodedLen]byte
	// Inverse returns a Ristretto keyed with the inverse scalar
	Inverse() Ristretto
	// Bytes is the encoding of the scalar
	Bytes() [EncodedLen]byte
}

type GR struct {
	key *gr.Scalar
}

type R255 struct {
	key *r255.Scalar
}

// NewRistretto returns a Ristretto of type t keyed with a random scalar
func NewRistretto(t string) (Ristretto, error) {
	switch t {
	case RistrettoTypeGR:
		var key gr.Scalar
		return &GR{key: key.Rand()}, nil
	case RistrettoTypeR255:
		var key = r255.NewScalar()
		var uniformBytes = make([]byte, 64)
		if _, err := rand.Read(uniformBytes); err != nil {
			return nil, fmt.Errorf("could not generate uniform bytes to seed r255: %w", err)
		}
		key.FromUniformBytes(uniformBytes)
		return &R255{key: key}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownRistretto, t)
	}
}

// RistrettoFromBytes returns a Ristretto of type t keyed with the
// canonical scalar encoding b
func RistrettoFromBytes(t string, b []byte) (Ristretto, error) {
	if len(b) != EncodedLen {
		return nil, ErrInvalidScalar
	}
	// both implementations share the scalar encoding, r255 rejects
	// non canonical ones
	var key = r255.NewScalar()
	if err := key.Decode(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScalar, err)
	}

	switch t {
	case RistrettoTypeGR:
		var buf [EncodedLen]byte
		copy(buf[:], b)
		var s gr.Scalar
		return &GR{key: s.SetBytes(&buf)}, nil
	case RistrettoTypeR255:
		return &R255{key: key}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownRistretto, t)
	}
}

// "github.com/bwesterb/go-ristretto"
func (g *GR) DeriveMultiply(identifier []byte) [EncodedLen]byte {
	var p gr.Point
	// derive
	p.DeriveDalek(identifier)
	// multiply
	var q gr.Point
	q.ScalarMult(&p, g.key)
	// return
	var out [EncodedLen]byte
	q.BytesInto(&out)
	return out
}

func (g *GR) Multiply(encoded [EncodedLen]byte) ([EncodedLen]byte, error) {
	var out [EncodedLen]byte
	var p gr.Point
	if !p.SetBytes(&encoded) {
		return out, ErrInvalidPoint
	}
	p.ScalarMult(&p, g.key)
	p.BytesInto(&out)
	return out, nil
}

func (g *GR) Base() [EncodedLen]byte {
	var p gr.Point
	p.ScalarMultBase(g.key)
	var out [EncodedLen]byte
	p.BytesInto(&out)
	return out
}

func (g *GR) Inverse() Ristretto {
	var inv gr.Scalar
	return &GR{key: inv.Inverse(g.key)}
}

func (g *GR) Bytes() [EncodedLen]byte {
	var out [EncodedLen]byte
	g.key.BytesInto(&out)
	return out
}

// "github.com/gtank/ristretto255"
func (r *R255) DeriveMultiply(identifier []byte) [EncodedLen]byte {
	var p = r255.NewElement()
	// derive
	hash := sha512.Sum512(identifier)
	p.FromUniformBytes(hash[:])
	// multiply
	p.ScalarMult(r.key, p)
	return encodeElement(p)
}

func (r *R255) Multiply(encoded [EncodedLen]byte) ([EncodedLen]byte, error) {
	var p = r255.NewElement()
	if err := p.Decode(encoded[:]); err != nil {
		return [EncodedLen]byte{}, ErrInvalidPoint
	}
	p.ScalarMult(r.key, p)
	return encodeElement(p), nil
}

func (r *R255) Base() [EncodedLen]byte {
	var p = r255.NewElement()
	p.ScalarBaseMult(r.key)
	return encodeElement(p)
}

func (r *R255) Inverse() Ristretto {
	var inv = r255.NewScalar()
	inv.Invert(r.key)
	return &R255{key: inv}
}

func (r *R255) Bytes() [EncodedLen]byte {
	var out [EncodedLen]byte
	copy(out[:], r.key.Encode(nil))
	return out
}

func encodeElement(p *r255.Element) [EncodedLen]byte {
	var out [EncodedLen]byte
	copy(out[:], p.Encode(nil))
	return out
}
