package cuckoo

import (
	"bytes"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"github.com/optable/apsi/internal/crypto"
	"github.com/optable/apsi/internal/hash"
	"github.com/optable/apsi/pkg/params"
)

// ReInsertLimit is the maximum number of reinsertions.
// Each reinsertion kicks off 1 egg (item) and replace it
// with the item being reinserted, and then reinserts the
// kicked off egg
const ReInsertLimit = 200

var (
	// ErrHomeless is returned when an item cannot be placed in the table
	ErrHomeless = errors.New("cuckoo insertion results in a homeless item")
	// ErrFull is returned when more items than the table was sized
	// for are inserted
	ErrFull = errors.New("cuckoo hash table is full")
)

// Locator computes the candidate table locations of a hashed item.
// Both parties derive the same locator from the same parameter set.
type Locator struct {
	// table_size
	tableSize uint64
	// one seeded hasher per hash function
	hashers []hash.Hasher
}

// NewLocator instantiates the locator of a parameter set. The hasher
// seeds are derived from the parameter fingerprint.
func NewLocator(p *params.PSIParams) (*Locator, error) {
	tp := p.Table()
	t, err := hash.ByName(tp.LocationHash)
	if err != nil {
		return nil, err
	}

	fp := p.Fingerprint()
	hashers := make([]hash.Hasher, tp.HashFuncCount)
	for j := range hashers {
		if hashers[j], err = hash.New(t, crypto.LocationSeed(fp[:], j, hash.SaltLength)); err != nil {
			return nil, err
		}
	}

	return &Locator{tableSize: uint64(tp.TableSize), hashers: hashers}, nil
}

// HashFuncCount is the number of candidate locations of an item
func (l *Locator) HashFuncCount() int {
	return len(l.hashers)
}

// TableSize is the number of locations of the table
func (l *Locator) TableSize() uint64 {
	return l.tableSize
}

// Location returns the j-th candidate location of item
func (l *Locator) Location(item []byte, j int) uint32 {
	return uint32(l.hashers[j].Hash64(item) % l.tableSize)
}

// Locations returns the distinct candidate locations of item,
// in hash function order
func (l *Locator) Locations(item []byte) []uint32 {
	locs := make([]uint32, 0, len(l.hashers))
next:
	for j := range l.hashers {
		loc := l.Location(item, j)
		for _, seen := range locs {
			if seen == loc {
				continue next
			}
		}
		locs = append(locs, loc)
	}
	return locs
}

// Cuckoo is a cuckoo hash table holding at most one item per
// location. The bucket lookup is a lookup table on items which
// tells us which item is in the bucket at that location. Upon
// construction the items slice has an additional nil value prepended
// so the index of the Cuckoo.items slice is +1 compared to the
// insertion order.
type Cuckoo struct {
	items        [][]byte
	inserted     uint64
	hashIndices  []byte
	bucketLookup []uint64
	rnd          *rand.Rand
	*Locator
}

// NewCuckoo instantiates a table over the locations of l that
// can hold up to size items.
func NewCuckoo(l *Locator, size uint64) *Cuckoo {
	// get randombyte from crypto/rand
	var rb [8]byte
	if _, err := crand.Read(rb[:]); err != nil {
		panic(err)
	}

	return &Cuckoo{
		// extra element is "keeper" to which the bucketLookup can be directed
		// when there is no element present in the bucket.
		items:        make([][]byte, size+1),
		hashIndices:  make([]byte, size+1),
		bucketLookup: make([]uint64, l.tableSize),
		rnd:          rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(rb[:])))),
		Locator:      l,
	}
}

// Exists returns true and the hash function index if an item is
// inserted in cuckoo, false otherwise
func (c *Cuckoo) Exists(item []byte) (bool, uint8) {
	for j := range c.hashers {
		bIdx := c.Location(item, j)
		if bytes.Equal(c.items[c.bucketLookup[bIdx]], item) {
			return true, uint8(j)
		}
	}
	return false, 0
}

// Insert tries to insert a given item at the next index to the bucket
// in available slots, otherwise, it evicts a random occupied slot,
// and reinserts evicted item.
// Inserting an item twice is a no-op. The table must not be used
// after an ErrHomeless failure.
func (c *Cuckoo) Insert(item []byte) error {
	if found, _ := c.Exists(item); found {
		return nil
	}
	if int(c.inserted) == len(c.items)-1 {
		return fmt.Errorf("%w: %v of %v items have already been inserted", ErrFull, c.inserted, len(c.items)-1)
	}

	idx := c.inserted + 1
	c.items[idx] = item
	bucketIndices := c.bucketIndices(item)

	// add to free slots
	if c.tryAdd(idx, bucketIndices, false, 0) {
		c.inserted++
		return nil
	}

	// force insert by cuckoo (eviction)
	if homeless, added := c.tryGreedyAdd(idx, bucketIndices); !added {
		return fmt.Errorf("%w: item #%d", ErrHomeless, homeless-1)
	}

	c.inserted++
	return nil
}

func (c *Cuckoo) bucketIndices(item []byte) []uint64 {
	idxs := make([]uint64, len(c.hashers))
	for j := range idxs {
		idxs[j] = uint64(c.Location(item, j))
	}
	return idxs
}

// tryAdd finds a free slot and inserts the item (at index, idx)
// if ignore is true, it will not insert into exceptBIdx
func (c *Cuckoo) tryAdd(idx uint64, bucketIndices []uint64, ignore bool, exceptBIdx uint64) (added bool) {
	for hIdx, bIdx := range bucketIndices {
		if ignore && exceptBIdx == bIdx {
			continue
		}

		if c.isEmpty(bIdx) {
			// this is a free slot
			c.bucketLookup[bIdx] = idx
			c.hashIndices[idx] = uint8(hIdx)
			return true
		}
	}
	return false
}

// tryGreedyAdd evicts a random occupied slot, inserts the item to the evicted slot
// and reinserts the evicted item. If reinsertions fail after ReInsertLimit tries
// return false and the last evicted item.
func (c *Cuckoo) tryGreedyAdd(idx uint64, bucketIndices []uint64) (homeLessItem uint64, added bool) {
	for i := 1; i < ReInsertLimit; i++ {
		// select a random slot to be evicted
		evictedHIdx := c.rnd.Intn(len(bucketIndices))
		evictedBIdx := bucketIndices[evictedHIdx]
		evictedIdx := c.bucketLookup[evictedBIdx]
		// insert the item in the evicted slot
		c.bucketLookup[evictedBIdx] = idx
		c.hashIndices[idx] = byte(evictedHIdx)

		evictedBucketIndices := c.bucketIndices(c.items[evictedIdx])
		// try to reinsert the evicted items
		// ignore the evictedBIdx since we just inserted there
		if c.tryAdd(evictedIdx, evictedBucketIndices, true, evictedBIdx) {
			return 0, true
		}

		// insertion of evicted item unsuccessful, recurse
		idx = evictedIdx
		bucketIndices = evictedBucketIndices
	}

	return idx, false
}

// Occupied calls f for every occupied location with the
// insertion index of the item it holds, in location order
func (c *Cuckoo) Occupied(f func(location uint32, idx int)) {
	for bIdx, v := range c.bucketLookup {
		if v != 0 {
			f(uint32(bIdx), int(v-1))
		}
	}
}

// LoadFactor returns the ratio of occupied buckets with the table size
func (c *Cuckoo) LoadFactor() (factor float64) {
	return float64(c.inserted) / float64(c.tableSize)
}

// Len returns the number of inserted items
func (c *Cuckoo) Len() int {
	return int(c.inserted)
}

// isEmpty returns true if bucket at bidx does not contain the index
// of an identifier
func (c *Cuckoo) isEmpty(bidx uint64) bool {
	return c.bucketLookup[bidx] == 0
}
