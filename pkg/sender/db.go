package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/optable/apsi/internal/crypto"
	"github.com/optable/apsi/internal/cuckoo"
	"github.com/optable/apsi/pkg/oprf"
	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/pkg/pool"
	"github.com/optable/apsi/pkg/psi"
)

var (
	ErrLabelCount  = errors.New("number of labels does not match the number of items")
	ErrNotLabeled  = errors.New("labels inserted in an unlabeled sender database")
	ErrLabeled     = errors.New("unlabeled items inserted in a labeled sender database")
	ErrLabelTooBig = crypto.ErrLabelTooLong
)

// record is the value a hashed item is stored with
type record struct {
	// sealed label, nil for an unlabeled database
	label []byte
	// distinct table locations of the hashed item
	locations []uint32
}

// bundle is one bin bundle of a snapshot: the items in the bins
// of a range of ItemsPerBundle table locations
type bundle struct {
	// bin (relative to the bundle) -> sorted hashed items
	bins map[uint32][]psi.HashedItem
	// number of parts the bundle is streamed in
	partitions int
}

// snapshot is an immutable state of the database. Queries pin
// the snapshot current when they start.
type snapshot struct {
	items   map[psi.HashedItem]record
	bundles []bundle
}

// SenderDB holds the Sender's (optionally labeled) items, keyed by
// their OPRF output under the database OPRF key. Insertions are batch
// atomic: a new snapshot is built copy-on-write and swapped in once the
// whole batch is applied. Writers are serialized.
type SenderDB struct {
	params         *params.PSIParams
	key            *oprf.Key
	labelByteCount int
	pool           *pool.Pool
	locator        *cuckoo.Locator

	mu   sync.Mutex
	snap atomic.Value
}

// DBOption configures a SenderDB
type DBOption func(*SenderDB)

// WithLabelByteCount makes the database labeled, with labels of
// at most n bytes
func WithLabelByteCount(n int) DBOption {
	return func(db *SenderDB) {
		db.labelByteCount = n
	}
}

// WithOPRFKey sets the OPRF key of the database. By default a
// random key is generated.
func WithOPRFKey(key *oprf.Key) DBOption {
	return func(db *SenderDB) {
		db.key = key
	}
}

// WithDBPool sets the worker pool items are hashed on
func WithDBPool(p *pool.Pool) DBOption {
	return func(db *SenderDB) {
		db.pool = p
	}
}

// NewSenderDB returns an empty database for the parameter set p.
// The parameter set and the OPRF key are fixed for the database lifetime.
func NewSenderDB(p *params.PSIParams, opts ...DBOption) (*SenderDB, error) {
	db := &SenderDB{params: p}
	for _, opt := range opts {
		opt(db)
	}

	if db.labelByteCount < 0 || db.labelByteCount > 0xffff {
		return nil, fmt.Errorf("label byte count %d out of range", db.labelByteCount)
	}
	if db.labelByteCount > 0 && p.ResultEncoding() == params.EncodingBloom {
		return nil, fmt.Errorf("%w: the bloom result encoding carries no label", params.ErrInvalidParams)
	}

	if db.key == nil {
		key, err := oprf.NewKey(p.OPRFGroup())
		if err != nil {
			return nil, err
		}
		db.key = key
	} else if db.key.Group() != p.OPRFGroup() {
		return nil, fmt.Errorf("%w: OPRF key in group %s, parameters use %s", psi.ErrProtocolMismatch, db.key.Group(), p.OPRFGroup())
	}
	if db.pool == nil {
		db.pool = pool.New(0)
	}

	locator, err := cuckoo.NewLocator(p)
	if err != nil {
		return nil, err
	}
	db.locator = locator
	db.snap.Store(db.newSnapshot(map[psi.HashedItem]record{}))

	return db, nil
}

// Params is the parameter set of the database
func (db *SenderDB) Params() *params.PSIParams {
	return db.params
}

// OPRFKey is the OPRF key of the database
func (db *SenderDB) OPRFKey() *oprf.Key {
	return db.key
}

// IsLabeled reports whether the database stores labels
func (db *SenderDB) IsLabeled() bool {
	return db.labelByteCount > 0
}

// LabelByteCount is the maximum label length, 0 when unlabeled
func (db *SenderDB) LabelByteCount() int {
	return db.labelByteCount
}

// ItemCount is the number of items in the current snapshot
func (db *SenderDB) ItemCount() int {
	return len(db.snapshot().items)
}

// BinBundleCount is the number of bin bundles of the current snapshot,
// which is the number of result parts of a non empty query
func (db *SenderDB) BinBundleCount() int {
	return db.snapshot().packageCount()
}

// HasItem reports whether item is in the current snapshot
func (db *SenderDB) HasItem(ctx context.Context, item psi.Item) (bool, error) {
	hashed, _, err := db.key.HashItems(ctx, db.pool, []psi.Item{item})
	if err != nil {
		return false, err
	}
	_, ok := db.snapshot().items[hashed[0]]
	return ok, nil
}

// InsertOrAssign inserts unlabeled items. Items already present are left
// unchanged. The database must be unlabeled.
func (db *SenderDB) InsertOrAssign(ctx context.Context, items []psi.Item) error {
	return db.insert(ctx, items, nil, false)
}

// InsertOrAssignLabeled inserts items with their labels, replacing the
// label of items already present. The database must be labeled.
func (db *SenderDB) InsertOrAssignLabeled(ctx context.Context, items []psi.Item, labels []psi.Label) error {
	return db.insert(ctx, items, labels, false)
}

// TryInsertOrAssign is InsertOrAssign, failing with psi.ErrDatabaseBusy
// instead of waiting when another batch is being applied
func (db *SenderDB) TryInsertOrAssign(ctx context.Context, items []psi.Item) error {
	return db.insert(ctx, items, nil, true)
}

// TryInsertOrAssignLabeled is InsertOrAssignLabeled, failing with
// psi.ErrDatabaseBusy instead of waiting when another batch is being applied
func (db *SenderDB) TryInsertOrAssignLabeled(ctx context.Context, items []psi.Item, labels []psi.Label) error {
	return db.insert(ctx, items, labels, true)
}

// Remove removes items from the database. Absent items are ignored.
func (db *SenderDB) Remove(ctx context.Context, items []psi.Item) error {
	hashed, _, err := db.key.HashItems(ctx, db.pool, items)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	old := db.snapshot()
	next := make(map[psi.HashedItem]record, len(old.items))
	for h, r := range old.items {
		next[h] = r
	}
	for _, h := range hashed {
		delete(next, h)
	}
	db.snap.Store(db.newSnapshot(next))
	logr.FromContextOrDiscard(ctx).V(1).Info("removed items", "requested", len(items), "items", len(next))
	return nil
}

// Clear removes every item from the database
func (db *SenderDB) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.snap.Store(db.newSnapshot(map[psi.HashedItem]record{}))
}

func (db *SenderDB) insert(ctx context.Context, items []psi.Item, labels []psi.Label, try bool) error {
	switch {
	case labels != nil && !db.IsLabeled():
		return ErrNotLabeled
	case labels == nil && db.IsLabeled():
		return ErrLabeled
	case labels != nil && len(labels) != len(items):
		return fmt.Errorf("%w: %d items, %d labels", ErrLabelCount, len(items), len(labels))
	}
	for i, l := range labels {
		if len(l) > db.labelByteCount {
			return fmt.Errorf("%w: label %d has %d bytes, at most %d", ErrLabelTooBig, i, len(l), db.labelByteCount)
		}
	}

	// hashing and sealing run outside of the writer lock
	hashed, keys, err := db.key.HashItems(ctx, db.pool, items)
	if err != nil {
		return err
	}
	records := make([]record, len(items))
	if err := db.pool.ForEach(ctx, len(items), func(i int) error {
		records[i].locations = db.locator.Locations(hashed[i][:])
		if labels != nil {
			sealed, err := crypto.SealLabel(keys[i], labels[i], db.labelByteCount)
			if err != nil {
				return err
			}
			records[i].label = sealed
		}
		return nil
	}); err != nil {
		return err
	}

	if try {
		if !db.mu.TryLock() {
			return psi.ErrDatabaseBusy
		}
	} else {
		db.mu.Lock()
	}
	defer db.mu.Unlock()

	old := db.snapshot()
	next := make(map[psi.HashedItem]record, len(old.items)+len(items))
	for h, r := range old.items {
		next[h] = r
	}
	for i, h := range hashed {
		if _, ok := next[h]; ok && labels == nil {
			continue
		}
		next[h] = records[i]
	}
	db.snap.Store(db.newSnapshot(next))

	logr.FromContextOrDiscard(ctx).V(1).Info("inserted items", "batch", len(items), "items", len(next), "labeled", labels != nil)
	return nil
}

func (db *SenderDB) snapshot() *snapshot {
	return db.snap.Load().(*snapshot)
}

// newSnapshot lays items out in bin bundles
func (db *SenderDB) newSnapshot(items map[psi.HashedItem]record) *snapshot {
	perBundle := db.params.ItemsPerBundle()
	maxPerBin := int(db.params.Table().MaxItemsPerBin)

	s := &snapshot{items: items, bundles: make([]bundle, db.params.BundleIdxCount())}
	for i := range s.bundles {
		s.bundles[i].bins = make(map[uint32][]psi.HashedItem)
	}
	for h, r := range items {
		for _, loc := range r.locations {
			b := &s.bundles[loc/perBundle]
			b.bins[loc%perBundle] = append(b.bins[loc%perBundle], h)
		}
	}

	for i := range s.bundles {
		b := &s.bundles[i]
		load := 0
		for bin, hs := range b.bins {
			sort.Slice(hs, func(i, j int) bool { return bytes.Compare(hs[i][:], hs[j][:]) < 0 })
			b.bins[bin] = hs
			if len(hs) > load {
				load = len(hs)
			}
		}
		// an empty bundle is still streamed, in one part
		b.partitions = (load + maxPerBin - 1) / maxPerBin
		if b.partitions == 0 {
			b.partitions = 1
		}
	}
	return s
}

// packageCount is the number of result parts of a non empty query
func (s *snapshot) packageCount() int {
	var n int
	for _, b := range s.bundles {
		n += b.partitions
	}
	return n
}

// sortedBins returns the occupied bins of a bundle in ascending order
func (b *bundle) sortedBins() []uint32 {
	bins := make([]uint32, 0, len(b.bins))
	for bin := range b.bins {
		bins = append(bins, bin)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i] < bins[j] })
	return bins
}

// partition returns the items of bin in partition p
func (b *bundle) partition(bin uint32, p, maxPerBin int) []psi.HashedItem {
	hs := b.bins[bin]
	start, end := p*maxPerBin, (p+1)*maxPerBin
	if start >= len(hs) {
		return nil
	}
	if end > len(hs) {
		end = len(hs)
	}
	return hs[start:end]
}
