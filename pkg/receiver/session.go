package receiver

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/optable/apsi/pkg/log"
	"github.com/optable/apsi/pkg/network"
	"github.com/optable/apsi/pkg/psi"
)

// operations
// stage1: OPRF round trip, blinded items out, evaluated items in
// stage2: query round trip, query out, result parts in and decoded into match records

// RequestOPRF runs the OPRF round trip for items on ch and returns the
// hashed items and their label keys, in the order of items
func (r *Receiver) RequestOPRF(ctx context.Context, ch network.Channel, items []psi.Item) (psi.HashedItems, []psi.LabelKey, error) {
	st, err := CreateOPRFReceiver(r.params, items)
	if err != nil {
		return psi.HashedItems{}, nil, err
	}
	if err := ch.Send(ctx, CreateOPRFRequest(st, r.params)); err != nil {
		return psi.HashedItems{}, nil, err
	}

	resp, err := ch.ReceiveResponse(ctx)
	if err != nil {
		return psi.HashedItems{}, nil, err
	}
	oprfResp, err := network.ToOPRFResponse(resp)
	if err != nil {
		return psi.HashedItems{}, nil, err
	}
	return ExtractHashes(oprfResp, st)
}

// RequestQuery queries hashed on ch and returns one match record
// per hashed item, in order
func (r *Receiver) RequestQuery(ctx context.Context, ch network.Channel, hashed psi.HashedItems, labelKeys []psi.LabelKey) ([]psi.MatchRecord, error) {
	req, itt, err := r.CreateQuery(hashed)
	if err != nil {
		return nil, err
	}
	log.GetLoggerFromContextWithName(ctx, "receiver").V(1).Info("created query",
		"slots", itt.SlotCount(), "load factor", itt.LoadFactor())
	if err := ch.Send(ctx, req); err != nil {
		return nil, err
	}

	resp, err := ch.ReceiveResponse(ctx)
	if err != nil {
		return nil, err
	}
	queryResp, err := network.ToQueryResponse(resp)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(queryResp.QueryID, itt.QueryID()) {
		return nil, fmt.Errorf("%w: response to another query", psi.ErrProtocolMismatch)
	}

	parts, err := CollectResults(ctx, ch, r.params, queryResp)
	if err != nil {
		return nil, err
	}
	return r.ProcessResult(labelKeys, itt, parts)
}

// Query runs a whole session for items on ch: the OPRF round trip
// completes before the query is sent.
func (r *Receiver) Query(ctx context.Context, ch network.Channel, items []psi.Item) ([]psi.MatchRecord, error) {
	logger := log.GetLoggerFromContextWithName(ctx, "receiver").WithValues("items", len(items))
	start := time.Now()

	logger.V(1).Info("Starting stage 1")
	hashed, labelKeys, err := r.RequestOPRF(ctx, ch, items)
	if err != nil {
		return nil, fmt.Errorf("stage1: %w", err)
	}
	timer, mem := log.StageStats(logger, "1", start, start, 0)
	logger.V(1).Info("Finished stage 1")

	logger.V(1).Info("Starting stage 2")
	records, err := r.RequestQuery(ctx, ch, hashed, labelKeys)
	if err != nil {
		return nil, fmt.Errorf("stage2: %w", err)
	}
	log.StageStats(logger, "2", timer, start, mem)
	logger.V(1).Info("Finished stage 2", "sent", ch.BytesSent(), "received", ch.BytesReceived())

	return records, nil
}
