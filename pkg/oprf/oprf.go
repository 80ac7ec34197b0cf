// Package oprf runs the oblivious pseudo random function both parties
// hash items with. The Receiver blinds its items with one random scalar
// each, the Sender multiplies the blinded elements by its key and the
// Receiver unblinds them: it obtains k·H(x) without the Sender learning
// x and without learning k.
package oprf

import (
	"context"
	"fmt"

	"github.com/optable/apsi/internal/crypto"
	"github.com/optable/apsi/pkg/network"
	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/pkg/pool"
	"github.com/optable/apsi/pkg/psi"
)

// Key is the Sender's OPRF secret. It is never transmitted.
type Key struct {
	group string
	r     crypto.Ristretto
	epoch psi.Epoch
}

// NewKey generates a random key in group
func NewKey(group string) (*Key, error) {
	r, err := crypto.NewRistretto(group)
	if err != nil {
		return nil, err
	}
	return newKey(group, r), nil
}

// KeyFromBytes restores a key from the encoding returned by Bytes
func KeyFromBytes(group string, b []byte) (*Key, error) {
	r, err := crypto.RistrettoFromBytes(group, b)
	if err != nil {
		return nil, err
	}
	return newKey(group, r), nil
}

func newKey(group string, r crypto.Ristretto) *Key {
	return &Key{group: group, r: r, epoch: crypto.Epoch(r.Base())}
}

// Group is the name of the group of the key
func (k *Key) Group() string {
	return k.group
}

// Epoch identifies the key. Hashed items are only meaningful
// to the database of the key of their epoch.
func (k *Key) Epoch() psi.Epoch {
	return k.epoch
}

// Bytes is the secret scalar encoding
func (k *Key) Bytes() []byte {
	b := k.r.Bytes()
	return b[:]
}

// Evaluate multiplies every blinded element by the key. It is a pure
// function of the request and the key.
func (k *Key) Evaluate(ctx context.Context, p *pool.Pool, blinded [][]byte) ([][]byte, error) {
	evaluated := make([][]byte, len(blinded))
	err := p.ForEach(ctx, len(blinded), func(i int) error {
		if len(blinded[i]) != crypto.EncodedLen {
			return fmt.Errorf("%w: blinded item %d has %d bytes", psi.ErrMalformedMessage, i, len(blinded[i]))
		}
		var in [crypto.EncodedLen]byte
		copy(in[:], blinded[i])
		out, err := k.r.Multiply(in)
		if err != nil {
			return fmt.Errorf("%w: blinded item %d: %v", psi.ErrMalformedMessage, i, err)
		}
		evaluated[i] = out[:]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evaluated, nil
}

// HashItems computes the OPRF output of items directly
func (k *Key) HashItems(ctx context.Context, p *pool.Pool, items []psi.Item) ([]psi.HashedItem, []psi.LabelKey, error) {
	hashed := make([]psi.HashedItem, len(items))
	keys := make([]psi.LabelKey, len(items))
	err := p.ForEach(ctx, len(items), func(i int) error {
		h, lk := crypto.OPRFOutput(k.r.DeriveMultiply(items[i][:]))
		hashed[i], keys[i] = psi.HashedItem(h), psi.LabelKey(lk)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return hashed, keys, nil
}

// Receiver holds the blinding scalars of one OPRF request
type Receiver struct {
	blinds  []crypto.Ristretto
	blinded [][crypto.EncodedLen]byte
}

// NewReceiver blinds items with one fresh random scalar each
func NewReceiver(group string, items []psi.Item) (*Receiver, error) {
	r := &Receiver{
		blinds:  make([]crypto.Ristretto, len(items)),
		blinded: make([][crypto.EncodedLen]byte, len(items)),
	}
	for i := range items {
		blind, err := crypto.NewRistretto(group)
		if err != nil {
			return nil, err
		}
		r.blinds[i] = blind
		r.blinded[i] = blind.DeriveMultiply(items[i][:])
	}
	return r, nil
}

// Len is the number of blinded items
func (r *Receiver) Len() int {
	return len(r.blinds)
}

// Request returns the OPRF request for the parameter set p
func (r *Receiver) Request(p *params.PSIParams) *network.OPRFRequest {
	fp := p.Fingerprint()
	req := &network.OPRFRequest{Fingerprint: fp[:], Blinded: make([][]byte, len(r.blinded))}
	for i := range r.blinded {
		req.Blinded[i] = r.blinded[i][:]
	}
	return req
}

// Extract unblinds the evaluated items of resp, in the order of the
// items the Receiver was built with
func (r *Receiver) Extract(resp *network.OPRFResponse) (psi.HashedItems, []psi.LabelKey, error) {
	var hashed psi.HashedItems
	if len(resp.Epoch) != psi.EpochLen {
		return hashed, nil, fmt.Errorf("%w: epoch of %d bytes", psi.ErrMalformedMessage, len(resp.Epoch))
	}
	if len(resp.Evaluated) != len(r.blinds) {
		return hashed, nil, fmt.Errorf("%w: %d evaluated items for %d blinded items", psi.ErrMalformedMessage, len(resp.Evaluated), len(r.blinds))
	}

	copy(hashed.Epoch[:], resp.Epoch)
	hashed.Items = make([]psi.HashedItem, len(r.blinds))
	keys := make([]psi.LabelKey, len(r.blinds))
	for i, e := range resp.Evaluated {
		if len(e) != crypto.EncodedLen {
			return psi.HashedItems{}, nil, fmt.Errorf("%w: evaluated item %d has %d bytes", psi.ErrMalformedMessage, i, len(e))
		}
		var in [crypto.EncodedLen]byte
		copy(in[:], e)
		out, err := r.blinds[i].Inverse().Multiply(in)
		if err != nil {
			return psi.HashedItems{}, nil, fmt.Errorf("%w: evaluated item %d: %v", psi.ErrMalformedMessage, i, err)
		}
		h, lk := crypto.OPRFOutput(out)
		hashed.Items[i], keys[i] = psi.HashedItem(h), psi.LabelKey(lk)
	}
	return hashed, keys, nil
}
