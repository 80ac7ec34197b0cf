package receiver

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/optable/apsi/internal/crypto"
	"github.com/optable/apsi/internal/cuckoo"
	"github.com/optable/apsi/pkg/network"
	"github.com/optable/apsi/pkg/oprf"
	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/pkg/pool"
	"github.com/optable/apsi/pkg/psi"
)

// Receiver drives the query side of a PSI session: it blinds its items,
// builds queries from the unblinded hashes and turns result parts back
// into one match record per original input item.
type Receiver struct {
	params  *params.PSIParams
	pool    *pool.Pool
	locator *cuckoo.Locator
}

// Option configures a Receiver
type Option func(*Receiver)

// WithPool sets the worker pool result parts are opened on
func WithPool(p *pool.Pool) Option {
	return func(r *Receiver) {
		r.pool = p
	}
}

// New returns a Receiver for the parameter set p
func New(p *params.PSIParams, opts ...Option) (*Receiver, error) {
	locator, err := cuckoo.NewLocator(p)
	if err != nil {
		return nil, err
	}

	r := &Receiver{params: p, locator: locator}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = pool.New(0)
	}
	return r, nil
}

// Params is the parameter set of the Receiver
func (r *Receiver) Params() *params.PSIParams {
	return r.params
}

// CreateOPRFReceiver blinds items for the OPRF group of p
func CreateOPRFReceiver(p *params.PSIParams, items []psi.Item) (*oprf.Receiver, error) {
	return oprf.NewReceiver(p.OPRFGroup(), items)
}

// CreateOPRFRequest returns the request carrying the blinded items of st
func CreateOPRFRequest(st *oprf.Receiver, p *params.PSIParams) *network.OPRFRequest {
	return st.Request(p)
}

// ExtractHashes unblinds the Sender's response. Hashed items and label
// keys are in the order of the items st was created with.
func ExtractHashes(resp *network.OPRFResponse, st *oprf.Receiver) (psi.HashedItems, []psi.LabelKey, error) {
	return st.Extract(resp)
}

// slot is one occupied table location of a query
type slot struct {
	item psi.HashedItem
	// original input positions
	positions []int
}

// IndexTranslationTable maps the table locations of a query back to
// the positions of the original input. It is only valid for the results
// of the query it was created with.
type IndexTranslationTable struct {
	queryID   []byte
	itemCount int
	// table location -> slot
	slots      map[uint32]*slot
	loadFactor float64
	private    [crypto.KeyLen]byte
}

// ItemCount is the number of original input items
func (itt *IndexTranslationTable) ItemCount() int {
	return itt.itemCount
}

// SlotCount is the number of distinct items queried
func (itt *IndexTranslationTable) SlotCount() int {
	return len(itt.slots)
}

// LoadFactor is the share of table locations the query occupies
func (itt *IndexTranslationTable) LoadFactor() float64 {
	return itt.loadFactor
}

// QueryID identifies the query of the table
func (itt *IndexTranslationTable) QueryID() []byte {
	return itt.queryID
}

// Positions returns the original positions the slot at location stands for
func (itt *IndexTranslationTable) Positions(location uint32) []int {
	if s, ok := itt.slots[location]; ok {
		return s.positions
	}
	return nil
}

// CreateQuery builds the query of hashed. Identical hashed items are
// queried once; every distinct item is placed at one of its table
// locations. No hashed item is part of the request.
func (r *Receiver) CreateQuery(hashed psi.HashedItems) (*network.QueryRequest, *IndexTranslationTable, error) {
	id := uuid.New()
	fp := r.params.Fingerprint()
	req := &network.QueryRequest{
		Fingerprint: fp[:],
		Epoch:       append([]byte(nil), hashed.Epoch[:]...),
		QueryID:     id[:],
	}
	itt := &IndexTranslationTable{queryID: req.QueryID, itemCount: hashed.Len(), slots: map[uint32]*slot{}}

	if hashed.Len() == 0 {
		req.Empty = true
		return req, itt, nil
	}

	// dedup, keeping first occurrence order
	var unique []psi.HashedItem
	positions := make(map[psi.HashedItem][]int, hashed.Len())
	for i, h := range hashed.Items {
		if _, ok := positions[h]; !ok {
			unique = append(unique, h)
		}
		positions[h] = append(positions[h], i)
	}

	if n := uint64(len(unique)); n > r.locator.TableSize() {
		return nil, nil, fmt.Errorf("%w: %d distinct items do not fit a table of %d", cuckoo.ErrFull, n, r.locator.TableSize())
	}
	table := cuckoo.NewCuckoo(r.locator, uint64(len(unique)))
	for i := range unique {
		if err := table.Insert(unique[i][:]); err != nil {
			return nil, nil, fmt.Errorf("could not place %d distinct items in a table of %d: %w", len(unique), r.locator.TableSize(), err)
		}
	}
	table.Occupied(func(location uint32, idx int) {
		h := unique[idx]
		itt.slots[location] = &slot{item: h, positions: positions[h]}
	})
	itt.loadFactor = table.LoadFactor()

	kp, err := crypto.NewKeyPair()
	if err != nil {
		return nil, nil, err
	}
	itt.private = kp.Private
	req.PublicKey = kp.Public[:]

	return req, itt, nil
}
