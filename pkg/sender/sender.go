package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	bloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/optable/apsi/internal/crypto"
	"github.com/optable/apsi/pkg/log"
	"github.com/optable/apsi/pkg/network"
	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/pkg/pool"
	"github.com/optable/apsi/pkg/psi"
)

// operations
// RunOPRF: evaluates the blinded items of the receiver under the database key
// RunQuery: streams the bin bundles of a pinned snapshot, one sealed result part per partition

// Sender answers the requests of Receivers against a SenderDB.
// It learns nothing about the Receiver items.
type Sender struct {
	db   *SenderDB
	pool *pool.Pool
}

// Option configures a Sender
type Option func(*Sender)

// WithPool sets the worker pool OPRF evaluation and result
// sealing run on. By default the database pool is used.
func WithPool(p *pool.Pool) Option {
	return func(s *Sender) {
		s.pool = p
	}
}

// New returns a Sender answering queries against db
func New(db *SenderDB, opts ...Option) *Sender {
	s := &Sender{db: db, pool: db.pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB is the database the Sender answers from
func (s *Sender) DB() *SenderDB {
	return s.db
}

// RunOPRF evaluates req under the database OPRF key and writes the
// response on ch. A request built with another parameter set fails with
// psi.ErrProtocolMismatch before any evaluation.
func (s *Sender) RunOPRF(ctx context.Context, req *network.OPRFRequest, ch network.Channel) error {
	if !s.db.params.Matches(req.Fingerprint) {
		return fmt.Errorf("%w: OPRF request built with different parameters", psi.ErrProtocolMismatch)
	}

	logger := log.GetLoggerFromContextWithName(ctx, "sender").WithValues("stage", "oprf")
	start := time.Now()
	logger.V(1).Info("Starting OPRF evaluation", "items", len(req.Blinded))

	evaluated, err := s.db.key.Evaluate(ctx, s.pool, req.Blinded)
	if err != nil {
		return err
	}
	epoch := s.db.key.Epoch()
	if err := ch.Send(ctx, &network.OPRFResponse{Epoch: epoch[:], Evaluated: evaluated}); err != nil {
		return err
	}

	log.StageStats(logger, "oprf", start, start, 0)
	logger.V(1).Info("Finished OPRF evaluation")
	return nil
}

// Query is a query request bound to the database snapshot current
// when it was created
type Query struct {
	req  *network.QueryRequest
	snap *snapshot
}

// NewQuery checks req against db and pins the current snapshot of db.
// A query built with other parameters or with hashes of another OPRF
// key fails with psi.ErrProtocolMismatch.
func NewQuery(req *network.QueryRequest, db *SenderDB) (*Query, error) {
	if !db.params.Matches(req.Fingerprint) {
		return nil, fmt.Errorf("%w: query built with different parameters", psi.ErrProtocolMismatch)
	}
	epoch := db.key.Epoch()
	if string(req.Epoch) != string(epoch[:]) {
		return nil, fmt.Errorf("%w: query hashed under OPRF epoch %x, database epoch is %s", psi.ErrProtocolMismatch, req.Epoch, epoch)
	}
	if len(req.QueryID) == 0 {
		return nil, fmt.Errorf("%w: query without id", psi.ErrMalformedMessage)
	}
	if !req.Empty && len(req.PublicKey) != crypto.KeyLen {
		return nil, fmt.Errorf("%w: public key of %d bytes", psi.ErrMalformedMessage, len(req.PublicKey))
	}

	return &Query{req: req, snap: db.snapshot()}, nil
}

// PackageCount is the number of result parts the query is answered with
func (q *Query) PackageCount() int {
	if q.req.Empty {
		return 0
	}
	return q.snap.packageCount()
}

// partRef locates the partition a result part carries
type partRef struct {
	bundleIdx uint32
	partition int
}

// RunQuery writes the query response then exactly PackageCount result
// parts on ch. Parts are sealed on the worker pool and sent as soon as
// they are ready, in any order.
func (s *Sender) RunQuery(ctx context.Context, q *Query, ch network.Channel) error {
	logger := log.GetLoggerFromContextWithName(ctx, "sender").WithValues("stage", "query")
	start := time.Now()
	logger.V(1).Info("Starting query evaluation")

	count := q.PackageCount()
	if err := ch.Send(ctx, &network.QueryResponse{QueryID: q.req.QueryID, PackageCount: uint32(count)}); err != nil {
		return err
	}
	if count == 0 {
		logger.V(1).Info("Finished query evaluation", "parts", 0)
		return nil
	}

	// ephemeral key of this query
	kp, err := crypto.NewKeyPair()
	if err != nil {
		return err
	}
	sealKey, tagKey, err := crypto.SessionKeys(kp.Private, q.req.PublicKey, q.req.QueryID)
	if err != nil {
		return fmt.Errorf("%w: %v", psi.ErrMalformedMessage, err)
	}
	sealer, tagger := crypto.NewPartSealer(sealKey), crypto.NewTagger(tagKey)

	refs := make([]partRef, 0, count)
	for b := range q.snap.bundles {
		for p := 0; p < q.snap.bundles[b].partitions; p++ {
			refs = append(refs, partRef{bundleIdx: uint32(b), partition: p})
		}
	}

	maxPerBin := int(s.db.params.Table().MaxItemsPerBin)
	err = s.pool.ForEach(ctx, len(refs), func(i int) error {
		ref := refs[i]
		payload, err := s.payload(&q.snap.bundles[ref.bundleIdx], ref.partition, maxPerBin, q.snap, tagger)
		if err != nil {
			return err
		}
		part := &network.ResultPart{
			QueryID:         q.req.QueryID,
			Index:           uint32(i),
			Count:           uint32(count),
			BundleIdx:       ref.bundleIdx,
			Partition:       uint32(ref.partition),
			SenderPublicKey: kp.Public[:],
		}
		if part.Sealed, err = sealer.Seal(part.Index, part.Header(), payload); err != nil {
			return err
		}
		return ch.Send(ctx, part)
	})
	if err != nil {
		return err
	}

	log.StageStats(logger, "query", start, start, 0)
	logger.V(1).Info("Finished query evaluation", "parts", count)
	return nil
}

// payload encodes one partition of a bin bundle
func (s *Sender) payload(b *bundle, partition, maxPerBin int, snap *snapshot, tagger *crypto.Tagger) ([]byte, error) {
	var out network.PartPayload
	var entries []network.Entry
	for _, bin := range b.sortedBins() {
		for _, h := range b.partition(bin, partition, maxPerBin) {
			tag := tagger.Tag(h[:])
			entries = append(entries, network.Entry{Bin: bin, Tag: tag[:], Label: snap.items[h].label})
		}
	}

	switch s.db.params.ResultEncoding() {
	case params.EncodingBloom:
		n := uint(len(entries))
		if n == 0 {
			n = 1
		}
		filter := bloom.NewWithEstimates(n, s.db.params.FalsePositiveRate())
		for _, e := range entries {
			filter.Add(network.BinTag(e.Bin, e.Tag))
		}
		bf, err := filter.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out.Bloom = bf
	default:
		out.Entries = entries
	}

	return network.EncodePayload(&out)
}

// Serve answers the requests read from ch until the peer disconnects.
// It is the simple API of the Sender: one session per channel.
func (s *Sender) Serve(ctx context.Context, ch network.Channel) error {
	logger := log.GetLoggerFromContextWithName(ctx, "sender")
	for {
		req, err := ch.ReceiveOperation(ctx, s.db.params)
		if err != nil {
			if errors.Is(err, psi.ErrTransport) && errors.Is(err, io.EOF) {
				logger.V(1).Info("peer disconnected", "sent", ch.BytesSent(), "received", ch.BytesReceived())
				return nil
			}
			return err
		}

		switch r := req.(type) {
		case *network.OPRFRequest:
			err = s.RunOPRF(ctx, r, ch)
		case *network.QueryRequest:
			var q *Query
			if q, err = NewQuery(r, s.db); err == nil {
				err = s.RunQuery(ctx, q, ch)
			}
		default:
			err = fmt.Errorf("%w: unexpected %s", psi.ErrMalformedMessage, req.Kind())
		}
		if err != nil {
			return err
		}
	}
}
