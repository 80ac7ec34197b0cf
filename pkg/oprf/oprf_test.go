package oprf

import (
	"context"
	"testing"

	"github.com/optable/apsi/pkg/network"
	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/pkg/pool"
	"github.com/optable/apsi/pkg/psi"
	"github.com/optable/apsi/test/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groups = []string{params.GroupRistretto255, params.GroupGoRistretto}

func exchange(t *testing.T, key *Key, items []psi.Item) (psi.HashedItems, []psi.LabelKey) {
	t.Helper()
	ctx := context.Background()
	p := fixtures.Params(t)

	r, err := NewReceiver(key.Group(), items)
	require.NoError(t, err)
	req := r.Request(p)
	require.True(t, p.Matches(req.Fingerprint))
	require.Len(t, req.Blinded, len(items))

	evaluated, err := key.Evaluate(ctx, pool.New(2), req.Blinded)
	require.NoError(t, err)
	epoch := key.Epoch()
	hashed, keys, err := r.Extract(&network.OPRFResponse{Epoch: epoch[:], Evaluated: evaluated})
	require.NoError(t, err)
	return hashed, keys
}

func TestOPRF(t *testing.T) {
	ctx := context.Background()
	items := psi.Items(fixtures.SenderSet...)

	for _, g := range groups {
		t.Run(g, func(t *testing.T) {
			key, err := NewKey(g)
			require.NoError(t, err)

			hashed, keys := exchange(t, key, items)
			assert.Equal(t, key.Epoch(), hashed.Epoch)

			direct, directKeys, err := key.HashItems(ctx, nil, items)
			require.NoError(t, err)
			assert.Equal(t, direct, hashed.Items, "unblinded outputs must match the direct evaluation, in order")
			assert.Equal(t, directKeys, keys)

			// fresh blinding, same outputs
			again, _ := exchange(t, key, items)
			assert.Equal(t, hashed.Items, again.Items)
		})
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	items := psi.Items("Eve")

	for _, g := range groups {
		k1, _ := NewKey(g)
		k2, _ := NewKey(g)
		assert.NotEqual(t, k1.Epoch(), k2.Epoch())

		h1, _, _ := k1.HashItems(ctx, nil, items)
		h2, _, _ := k2.HashItems(ctx, nil, items)
		assert.NotEqual(t, h1, h2, "outputs must depend on the key")

		restored, err := KeyFromBytes(g, k1.Bytes())
		require.NoError(t, err)
		assert.Equal(t, k1.Epoch(), restored.Epoch())
		h3, _, _ := restored.HashItems(ctx, nil, items)
		assert.Equal(t, h1, h3)
	}

	_, err := NewKey("p256")
	assert.Error(t, err)
}

func TestEmpty(t *testing.T) {
	key, _ := NewKey(params.GroupRistretto255)
	hashed, keys := exchange(t, key, nil)
	assert.Zero(t, hashed.Len())
	assert.Empty(t, keys)
}

func TestMalformed(t *testing.T) {
	ctx := context.Background()
	key, _ := NewKey(params.GroupRistretto255)

	_, err := key.Evaluate(ctx, nil, [][]byte{{1, 2, 3}})
	assert.ErrorIs(t, err, psi.ErrMalformedMessage)

	var bad = make([]byte, 32)
	for i := range bad {
		bad[i] = 0xff
	}
	_, err = key.Evaluate(ctx, nil, [][]byte{bad})
	assert.ErrorIs(t, err, psi.ErrMalformedMessage)

	r, _ := NewReceiver(params.GroupRistretto255, psi.Items("Amir", "Eve"))
	epoch := key.Epoch()
	_, _, err = r.Extract(&network.OPRFResponse{Epoch: epoch[:], Evaluated: [][]byte{bad}})
	assert.ErrorIs(t, err, psi.ErrMalformedMessage, "count mismatch")
	_, _, err = r.Extract(&network.OPRFResponse{Epoch: epoch[:], Evaluated: [][]byte{bad, bad}})
	assert.ErrorIs(t, err, psi.ErrMalformedMessage, "undecodable element")
	_, _, err = r.Extract(&network.OPRFResponse{Epoch: []byte{1}})
	assert.ErrorIs(t, err, psi.ErrMalformedMessage, "short epoch")
}
