package network

import (
	"fmt"

	"github.com/optable/apsi/pkg/psi"
	"github.com/ugorji/go/codec"
)

// codecHandle encodes message payloads
func codecHandle() codec.Handle {
	h := codec.BincHandle{}
	h.StructToArray = true
	h.OptimumSize = true
	return &h
}

var handle = codecHandle()

// Encode returns the payload of m
func Encode(m Message) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, handle).Encode(m); err != nil {
		return nil, fmt.Errorf("could not encode %s: %w", m.Kind(), err)
	}
	return b, nil
}

// Decode decodes the payload of a message of kind k
func Decode(k Kind, payload []byte) (Message, error) {
	var m Message
	switch k {
	case KindOPRFRequest:
		m = &OPRFRequest{}
	case KindQueryRequest:
		m = &QueryRequest{}
	case KindOPRFResponse:
		m = &OPRFResponse{}
	case KindQueryResponse:
		m = &QueryResponse{}
	case KindResultPart:
		m = &ResultPart{}
	default:
		return nil, fmt.Errorf("%w: %s", psi.ErrMalformedMessage, k)
	}

	if err := codec.NewDecoderBytes(payload, handle).Decode(m); err != nil {
		return nil, fmt.Errorf("%w: could not decode %s: %v", psi.ErrMalformedMessage, k, err)
	}
	return m, nil
}
