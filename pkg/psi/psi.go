package psi

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

const (
	// ItemLen is the byte length of an Item and of a HashedItem
	ItemLen = 16
	// LabelKeyLen is the byte length of a LabelKey
	LabelKeyLen = 32
	// EpochLen is the byte length of an OPRF key epoch
	EpochLen = 8

	itemContext = "github.com/optable/apsi 2024 item"
)

// Item is the hashed identity of a raw input value. Sender and Receiver
// only need to agree on the hash domain, not on the raw encoding.
type Item [ItemLen]byte

// HashedItem is the OPRF output for an Item. It is what the Sender
// database is keyed on.
type HashedItem [ItemLen]byte

// LabelKey is the part of the OPRF output that decrypts the label
// associated with a HashedItem.
type LabelKey [LabelKeyLen]byte

// Epoch identifies the OPRF key that produced a set of hashed items.
type Epoch [EpochLen]byte

// Label is the optional data a labeled Sender associates with an item.
type Label []byte

// HashedItems are OPRF outputs in the order of the original
// Receiver input, tagged with the epoch of the key that produced them.
type HashedItems struct {
	Epoch Epoch
	Items []HashedItem
}

// MatchRecord is the verdict for one original Receiver input item.
type MatchRecord struct {
	Found bool
	Label Label
}

// NewItem derives an Item from a raw value
func NewItem(value []byte) Item {
	var item Item
	h := blake3.NewDeriveKey(itemContext)
	h.Write(value)
	copy(item[:], h.Sum(nil))
	return item
}

// ItemFromString derives an Item from a string value
func ItemFromString(value string) Item {
	return NewItem([]byte(value))
}

// Items derives one Item per string value, preserving order
func Items(values ...string) []Item {
	items := make([]Item, len(values))
	for i, v := range values {
		items[i] = ItemFromString(v)
	}
	return items
}

func (i Item) String() string {
	return hex.EncodeToString(i[:])
}

func (h HashedItem) String() string {
	return hex.EncodeToString(h[:])
}

func (e Epoch) String() string {
	return hex.EncodeToString(e[:])
}

// Len is the number of hashed items
func (h HashedItems) Len() int {
	return len(h.Items)
}
