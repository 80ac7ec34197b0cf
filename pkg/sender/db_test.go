package sender

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/optable/apsi/pkg/oprf"
	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/pkg/pool"
	"github.com/optable/apsi/pkg/psi"
	"github.com/optable/apsi/test/emails"
	"github.com/optable/apsi/test/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertOrAssign(t *testing.T) {
	ctx := context.Background()
	db, err := NewSenderDB(fixtures.Params(t), WithDBPool(pool.New(2)))
	require.NoError(t, err)
	assert.False(t, db.IsLabeled())
	assert.Zero(t, db.ItemCount())

	items := psi.Items(fixtures.SenderSet...)
	require.NoError(t, db.InsertOrAssign(ctx, items))
	assert.Equal(t, len(items), db.ItemCount())

	// idempotent
	before := db.snapshot()
	require.NoError(t, db.InsertOrAssign(ctx, items))
	assert.Equal(t, len(items), db.ItemCount())
	assert.Equal(t, before.packageCount(), db.BinBundleCount())

	for _, v := range fixtures.SenderSet {
		ok, err := db.HasItem(ctx, psi.ItemFromString(v))
		require.NoError(t, err)
		assert.True(t, ok, v)
	}
	ok, err := db.HasItem(ctx, psi.ItemFromString("Amir"))
	require.NoError(t, err)
	assert.False(t, ok)

	// labels are refused
	err = db.InsertOrAssignLabeled(ctx, items[:1], []psi.Label{psi.Label("x")})
	assert.ErrorIs(t, err, ErrNotLabeled)
}

func TestInsertOrAssignLabeled(t *testing.T) {
	ctx := context.Background()
	db, err := NewSenderDB(fixtures.Params(t), WithLabelByteCount(10))
	require.NoError(t, err)
	assert.True(t, db.IsLabeled())
	assert.Equal(t, 10, db.LabelByteCount())

	items := psi.Items("Alice", "Bob")
	labels := []psi.Label{psi.Label("alice"), psi.Label("bob")}
	require.NoError(t, db.InsertOrAssignLabeled(ctx, items, labels))

	hashed, _, err := db.OPRFKey().HashItems(ctx, nil, items)
	require.NoError(t, err)
	first := db.snapshot().items[hashed[0]].label
	require.NotEmpty(t, first)

	// reassigning replaces the label
	require.NoError(t, db.InsertOrAssignLabeled(ctx, items[:1], []psi.Label{psi.Label("ALICE")}))
	assert.NotEqual(t, first, db.snapshot().items[hashed[0]].label)
	assert.Equal(t, 2, db.ItemCount())

	assert.ErrorIs(t, db.InsertOrAssign(ctx, items), ErrLabeled)
	assert.ErrorIs(t, db.InsertOrAssignLabeled(ctx, items, labels[:1]), ErrLabelCount)
	assert.ErrorIs(t, db.InsertOrAssignLabeled(ctx, items[:1], []psi.Label{make(psi.Label, 11)}), ErrLabelTooBig)
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	db, err := NewSenderDB(fixtures.Params(t))
	require.NoError(t, err)
	require.NoError(t, db.InsertOrAssign(ctx, psi.Items(fixtures.SenderSet...)))

	require.NoError(t, db.Remove(ctx, psi.Items("Eve", "Nobody")))
	assert.Equal(t, len(fixtures.SenderSet)-1, db.ItemCount())
	ok, _ := db.HasItem(ctx, psi.ItemFromString("Eve"))
	assert.False(t, ok)

	db.Clear()
	assert.Zero(t, db.ItemCount())
	assert.Equal(t, int(db.Params().BundleIdxCount()), db.BinBundleCount())
}

func TestBinBundles(t *testing.T) {
	ctx := context.Background()
	p := fixtures.Load(t, fixtures.MultiBundleJSON)
	db, err := NewSenderDB(p)
	require.NoError(t, err)

	// an empty database streams one part per bundle
	assert.Equal(t, int(p.BundleIdxCount()), db.BinBundleCount())

	values := emails.Strings(nil, 1000)
	require.NoError(t, db.InsertOrAssign(ctx, psi.Items(values...)))

	s := db.snapshot()
	maxPerBin := int(p.Table().MaxItemsPerBin)
	var count int
	for _, b := range s.bundles {
		for bin, hs := range b.bins {
			assert.Less(t, bin, p.ItemsPerBundle())
			assert.LessOrEqual(t, len(hs), b.partitions*maxPerBin)
			// every partition of the bin holds at most maxPerBin items
			var total int
			for part := 0; part < b.partitions; part++ {
				n := len(b.partition(bin, part, maxPerBin))
				assert.LessOrEqual(t, n, maxPerBin)
				total += n
			}
			assert.Equal(t, len(hs), total)
		}
		count += b.partitions
	}
	assert.Equal(t, count, db.BinBundleCount())
	// 3000 insertions in 1024 bins of 2 spill over
	assert.Greater(t, db.BinBundleCount(), int(p.BundleIdxCount()))
}

func TestTryInsertBusy(t *testing.T) {
	ctx := context.Background()
	db, err := NewSenderDB(fixtures.Params(t))
	require.NoError(t, err)

	db.mu.Lock()
	err = db.TryInsertOrAssign(ctx, psi.Items("Eve"))
	assert.ErrorIs(t, err, psi.ErrDatabaseBusy)
	db.mu.Unlock()

	require.NoError(t, db.TryInsertOrAssign(ctx, psi.Items("Eve")))
	assert.Equal(t, 1, db.ItemCount())
}

// queries pinned before a batch do not see it
func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	db, err := NewSenderDB(fixtures.Params(t))
	require.NoError(t, err)
	require.NoError(t, db.InsertOrAssign(ctx, psi.Items("Alice")))

	pinned := db.snapshot()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, db.InsertOrAssign(ctx, psi.Items(emails.Strings(nil, 50)...)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, pinned.items, 1)
	assert.Equal(t, 201, db.ItemCount())
}

func TestNewSenderDB(t *testing.T) {
	key, err := oprf.NewKey(params.GroupGoRistretto)
	require.NoError(t, err)

	_, err = NewSenderDB(fixtures.Params(t), WithOPRFKey(key))
	assert.ErrorIs(t, err, psi.ErrProtocolMismatch)

	db, err := NewSenderDB(fixtures.Load(t, fixtures.MultiBundleJSON), WithOPRFKey(key))
	require.NoError(t, err)
	assert.Equal(t, key.Epoch(), db.OPRFKey().Epoch())

	_, err = NewSenderDB(fixtures.Load(t, fixtures.BloomJSON), WithLabelByteCount(4))
	assert.True(t, errors.Is(err, params.ErrInvalidParams))

	_, err = NewSenderDB(fixtures.Params(t), WithLabelByteCount(-1))
	assert.Error(t, err)
}
