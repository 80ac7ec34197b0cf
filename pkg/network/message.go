package network

import (
	"fmt"

	"github.com/optable/apsi/pkg/psi"
)

// Kind is the type tag leading every message on the wire
type Kind byte

const (
	KindOPRFRequest Kind = iota + 1
	KindQueryRequest
	KindOPRFResponse
	KindQueryResponse
	KindResultPart
)

func (k Kind) String() string {
	switch k {
	case KindOPRFRequest:
		return "oprf request"
	case KindQueryRequest:
		return "query request"
	case KindOPRFResponse:
		return "oprf response"
	case KindQueryResponse:
		return "query response"
	case KindResultPart:
		return "result part"
	default:
		return fmt.Sprintf("unknown kind %d", byte(k))
	}
}

// Message is anything that can be sent on a Channel
type Message interface {
	Kind() Kind
}

// Request is sent by the Receiver: *OPRFRequest or *QueryRequest.
// It carries the fingerprint of the parameter set it was built with.
type Request interface {
	Message
	ParamsFingerprint() []byte
}

// Response is sent by the Sender: *OPRFResponse or *QueryResponse
type Response interface {
	Message
	response()
}

// OPRFRequest holds the blinded items of the Receiver
type OPRFRequest struct {
	Fingerprint []byte
	Blinded     [][]byte
}

// QueryRequest asks the Sender to match its database against the
// Receiver's hashed items. It carries no item: the Receiver only sends
// its ephemeral public key and a query id both parties bind the result
// parts to.
type QueryRequest struct {
	Fingerprint []byte
	Epoch       []byte
	QueryID     []byte
	PublicKey   []byte
	// Empty is set when the Receiver has no item to query
	Empty bool
}

// OPRFResponse holds the evaluated items, in request order
type OPRFResponse struct {
	Epoch     []byte
	Evaluated [][]byte
}

// QueryResponse declares how many result parts follow
type QueryResponse struct {
	QueryID      []byte
	PackageCount uint32
}

// ResultPart is one sealed unit of the answer to a query.
// Parts of one query can be received in any order.
type ResultPart struct {
	QueryID         []byte
	Index           uint32
	Count           uint32
	BundleIdx       uint32
	Partition       uint32
	SenderPublicKey []byte
	Sealed          []byte
}

func (*OPRFRequest) Kind() Kind   { return KindOPRFRequest }
func (*QueryRequest) Kind() Kind  { return KindQueryRequest }
func (*OPRFResponse) Kind() Kind  { return KindOPRFResponse }
func (*QueryResponse) Kind() Kind { return KindQueryResponse }
func (*ResultPart) Kind() Kind    { return KindResultPart }

func (r *OPRFRequest) ParamsFingerprint() []byte  { return r.Fingerprint }
func (r *QueryRequest) ParamsFingerprint() []byte { return r.Fingerprint }

func (*OPRFResponse) response()  {}
func (*QueryResponse) response() {}

// Header is the authenticated header of the part: the sealed payload
// cannot be moved to another query, index or bundle.
func (p *ResultPart) Header() []byte {
	b := make([]byte, 0, len(p.QueryID)+16)
	b = append(b, p.QueryID...)
	for _, v := range []uint32{p.Index, p.Count, p.BundleIdx, p.Partition} {
		b = append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return b
}

// ToOPRFRequest returns r as an OPRF request
func ToOPRFRequest(r Request) (*OPRFRequest, error) {
	if req, ok := r.(*OPRFRequest); ok && req != nil {
		return req, nil
	}
	return nil, unexpected(KindOPRFRequest, r)
}

// ToQueryRequest returns r as a query request
func ToQueryRequest(r Request) (*QueryRequest, error) {
	if req, ok := r.(*QueryRequest); ok && req != nil {
		return req, nil
	}
	return nil, unexpected(KindQueryRequest, r)
}

// ToOPRFResponse returns r as an OPRF response
func ToOPRFResponse(r Response) (*OPRFResponse, error) {
	if resp, ok := r.(*OPRFResponse); ok && resp != nil {
		return resp, nil
	}
	return nil, unexpected(KindOPRFResponse, r)
}

// ToQueryResponse returns r as a query response
func ToQueryResponse(r Response) (*QueryResponse, error) {
	if resp, ok := r.(*QueryResponse); ok && resp != nil {
		return resp, nil
	}
	return nil, unexpected(KindQueryResponse, r)
}

func unexpected(want Kind, got Message) error {
	if got == nil {
		return fmt.Errorf("%w: expected %s, got nothing", psi.ErrMalformedMessage, want)
	}
	return fmt.Errorf("%w: expected %s, got %s", psi.ErrMalformedMessage, want, got.Kind())
}
