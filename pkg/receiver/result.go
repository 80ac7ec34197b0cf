package receiver

import (
	"bytes"
	"context"
	"fmt"

	bloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/optable/apsi/internal/crypto"
	"github.com/optable/apsi/pkg/network"
	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/pkg/psi"
)

// hit is a slot found in a result part
type hit struct {
	location uint32
	label    []byte
}

// CollectResults reads the PackageCount result parts announced by resp.
// A stream ending early fails with psi.ErrIncompleteResult.
func CollectResults(ctx context.Context, ch network.Channel, p *params.PSIParams, resp *network.QueryResponse) ([]*network.ResultPart, error) {
	parts := make([]*network.ResultPart, 0, resp.PackageCount)
	for i := uint32(0); i < resp.PackageCount; i++ {
		part, err := ch.ReceiveResult(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("%w: received %d of %d result parts: %w", psi.ErrIncompleteResult, i, resp.PackageCount, err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// ProcessResult decodes the result parts of the query of itt into one
// match record per original input item, in input order. labelKeys are
// the label keys returned with the hashed items of the query.
// No record is returned unless every part was received and decoded.
func (r *Receiver) ProcessResult(labelKeys []psi.LabelKey, itt *IndexTranslationTable, parts []*network.ResultPart) ([]psi.MatchRecord, error) {
	for _, part := range parts {
		if !bytes.Equal(part.QueryID, itt.queryID) {
			return nil, fmt.Errorf("%w: result part of another query", psi.ErrProtocolMismatch)
		}
	}
	records := make([]psi.MatchRecord, itt.itemCount)
	if itt.itemCount == 0 {
		return records, nil
	}
	if len(labelKeys) != itt.itemCount {
		return nil, fmt.Errorf("%w: %d label keys for %d items", psi.ErrInternal, len(labelKeys), itt.itemCount)
	}
	if err := checkComplete(parts); err != nil {
		return nil, err
	}

	// every part of a query is sealed under the same session
	sealKey, tagKey, err := crypto.SessionKeys(itt.private, parts[0].SenderPublicKey, itt.queryID)
	if err != nil {
		return nil, fmt.Errorf("%w: sender public key: %v", psi.ErrMalformedMessage, err)
	}
	sealer, tagger := crypto.NewPartSealer(sealKey), crypto.NewTagger(tagKey)

	// slots by bundle, with their tags
	perBundle := r.params.ItemsPerBundle()
	type tagged struct {
		location uint32
		key      string
	}
	bundles := make(map[uint32][]tagged)
	for loc, s := range itt.slots {
		tag := tagger.Tag(s.item[:])
		bundles[loc/perBundle] = append(bundles[loc/perBundle], tagged{location: loc, key: string(network.BinTag(loc%perBundle, tag[:]))})
	}

	hits := make([][]hit, len(parts))
	err = r.pool.ForEach(context.Background(), len(parts), func(i int) error {
		part := parts[i]
		if !bytes.Equal(part.SenderPublicKey, parts[0].SenderPublicKey) {
			return fmt.Errorf("%w: result parts sealed under different sessions", psi.ErrMalformedMessage)
		}
		plain, err := sealer.Open(part.Index, part.Header(), part.Sealed)
		if err != nil {
			return fmt.Errorf("%w: result part %d: %v", psi.ErrMalformedMessage, part.Index, err)
		}
		payload, err := network.DecodePayload(plain)
		if err != nil {
			return err
		}

		slots := bundles[part.BundleIdx]
		if len(slots) == 0 {
			return nil
		}
		if payload.Bloom != nil {
			var filter bloom.BloomFilter
			if err := filter.UnmarshalJSON(payload.Bloom); err != nil {
				return fmt.Errorf("%w: result part %d bloomfilter: %v", psi.ErrMalformedMessage, part.Index, err)
			}
			for _, s := range slots {
				if filter.Test([]byte(s.key)) {
					hits[i] = append(hits[i], hit{location: s.location})
				}
			}
			return nil
		}

		entries := make(map[string][]byte, len(payload.Entries))
		for _, e := range payload.Entries {
			entries[string(network.BinTag(e.Bin, e.Tag))] = e.Label
		}
		for _, s := range slots {
			if label, ok := entries[s.key]; ok {
				hits[i] = append(hits[i], hit{location: s.location, label: label})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// scatter the verdicts of every slot to its original positions
	covered := make([]bool, itt.itemCount)
	for loc := range itt.slots {
		for _, pos := range itt.Positions(loc) {
			if pos < 0 || pos >= itt.itemCount || covered[pos] {
				return nil, fmt.Errorf("%w: slot %d maps to position %d", psi.ErrInternal, loc, pos)
			}
			covered[pos] = true
		}
	}
	for pos, ok := range covered {
		if !ok {
			return nil, fmt.Errorf("%w: input position %d is in no query slot", psi.ErrInternal, pos)
		}
	}

	for _, hs := range hits {
		for _, h := range hs {
			positions := itt.Positions(h.location)
			var label psi.Label
			if len(h.label) != 0 {
				// every position of a slot has the same label key
				opened, err := crypto.OpenLabel(labelKeys[positions[0]], h.label)
				if err != nil {
					return nil, fmt.Errorf("%w: label of input position %d: %v", psi.ErrMalformedMessage, positions[0], err)
				}
				label = opened
			}
			for _, pos := range positions {
				records[pos] = psi.MatchRecord{Found: true, Label: label}
			}
		}
	}

	return records, nil
}

// checkComplete verifies parts hold every index of the declared count once
func checkComplete(parts []*network.ResultPart) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: no result part", psi.ErrIncompleteResult)
	}
	count := parts[0].Count
	if uint32(len(parts)) != count {
		return fmt.Errorf("%w: %d of %d result parts", psi.ErrIncompleteResult, len(parts), count)
	}
	seen := make([]bool, count)
	for _, part := range parts {
		if part.Count != count || part.Index >= count || seen[part.Index] {
			return fmt.Errorf("%w: result part %d/%d", psi.ErrIncompleteResult, part.Index, part.Count)
		}
		seen[part.Index] = true
	}
	return nil
}
