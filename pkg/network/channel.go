package network

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/optable/apsi/internal/util"
	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/pkg/psi"
)

const (
	headerLen = 5
	// MaxPayload bounds the payload size announced by a frame header
	MaxPayload = 1 << 30
)

// ErrClosed is returned by operations on a channel that was poisoned
// by a canceled operation
var ErrClosed = errors.New("channel closed after a canceled operation")

// Channel transports whole protocol messages between the Receiver and
// the Sender. Messages are delivered in send order per direction.
type Channel interface {
	// Send writes m on the channel. The caller must not mutate m
	// until Send returns.
	Send(ctx context.Context, m Message) error
	// ReceiveOperation reads the next request and checks that it was
	// built with p
	ReceiveOperation(ctx context.Context, p *params.PSIParams) (Request, error)
	// ReceiveResponse reads the next response
	ReceiveResponse(ctx context.Context) (Response, error)
	// ReceiveResult reads the next result part of a query built with p
	ReceiveResult(ctx context.Context, p *params.PSIParams) (*ResultPart, error)
	BytesSent() uint64
	BytesReceived() uint64
}

// StreamChannel is a Channel over a byte stream. Every message is
// framed as
//
//	kind(1) | payload length(4, big endian) | payload
//
// and written with a single call to Write.
type StreamChannel struct {
	r        *bufio.Reader
	w        io.Writer
	rmu, wmu sync.Mutex

	sent, received uint64
	poisoned       int32
}

// NewStreamChannel returns a channel reading and writing rw. rw can be
// a net.Conn, or a bytes.Buffer when both parties run on one goroutine.
func NewStreamChannel(rw io.ReadWriter) *StreamChannel {
	return NewStreamChannelRW(rw, rw)
}

// NewStreamChannelRW returns a channel reading r and writing w
func NewStreamChannelRW(r io.Reader, w io.Writer) *StreamChannel {
	return &StreamChannel{r: bufio.NewReader(r), w: w}
}

// Send frames and writes m. When ctx is done before the write completes
// the channel is poisoned: a half written frame cannot be recovered.
func (c *StreamChannel) Send(ctx context.Context, m Message) error {
	if err := c.check(); err != nil {
		return err
	}

	payload, err := Encode(m)
	if err != nil {
		return err
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %s payload of %d bytes", psi.ErrMalformedMessage, m.Kind(), len(payload))
	}
	frame := make([]byte, headerLen+len(payload))
	frame[0] = byte(m.Kind())
	binary.BigEndian.PutUint32(frame[1:headerLen], uint32(len(payload)))
	copy(frame[headerLen:], payload)

	err = util.Sel(ctx, func() error {
		c.wmu.Lock()
		defer c.wmu.Unlock()
		_, err := c.w.Write(frame)
		return err
	})
	return c.transport(err, func() { atomic.AddUint64(&c.sent, uint64(len(frame))) })
}

// ReceiveOperation reads the next request. A request built with another
// parameter set is reported with psi.ErrProtocolMismatch.
func (c *StreamChannel) ReceiveOperation(ctx context.Context, p *params.PSIParams) (Request, error) {
	m, err := c.receive(ctx)
	if err != nil {
		return nil, err
	}

	req, ok := m.(Request)
	if !ok {
		return nil, fmt.Errorf("%w: expected a request, got %s", psi.ErrMalformedMessage, m.Kind())
	}
	if !p.Matches(req.ParamsFingerprint()) {
		return nil, fmt.Errorf("%w: %s built with different parameters", psi.ErrProtocolMismatch, req.Kind())
	}
	return req, nil
}

// ReceiveResponse reads the next response
func (c *StreamChannel) ReceiveResponse(ctx context.Context) (Response, error) {
	m, err := c.receive(ctx)
	if err != nil {
		return nil, err
	}

	resp, ok := m.(Response)
	if !ok {
		return nil, fmt.Errorf("%w: expected a response, got %s", psi.ErrMalformedMessage, m.Kind())
	}
	return resp, nil
}

// ReceiveResult reads the next result part
func (c *StreamChannel) ReceiveResult(ctx context.Context, p *params.PSIParams) (*ResultPart, error) {
	m, err := c.receive(ctx)
	if err != nil {
		return nil, err
	}

	part, ok := m.(*ResultPart)
	if !ok {
		return nil, fmt.Errorf("%w: expected a result part, got %s", psi.ErrMalformedMessage, m.Kind())
	}
	if part.BundleIdx >= p.BundleIdxCount() || part.Index >= part.Count {
		return nil, fmt.Errorf("%w: result part %d/%d of bundle %d", psi.ErrMalformedMessage, part.Index, part.Count, part.BundleIdx)
	}
	return part, nil
}

// BytesSent is the number of bytes written so far
func (c *StreamChannel) BytesSent() uint64 {
	return atomic.LoadUint64(&c.sent)
}

// BytesReceived is the number of bytes read so far
func (c *StreamChannel) BytesReceived() uint64 {
	return atomic.LoadUint64(&c.received)
}

func (c *StreamChannel) receive(ctx context.Context) (Message, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	var kind Kind
	var payload []byte
	err := util.Sel(ctx, func() error {
		c.rmu.Lock()
		defer c.rmu.Unlock()

		var header [headerLen]byte
		if _, err := io.ReadFull(c.r, header[:]); err != nil {
			return err
		}
		n := binary.BigEndian.Uint32(header[1:])
		if n > MaxPayload {
			return fmt.Errorf("%w: frame of %d bytes", psi.ErrMalformedMessage, n)
		}
		// grow with the bytes actually read, not the announced length
		var buf bytes.Buffer
		if _, err := io.CopyN(&buf, c.r, int64(n)); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		payload = buf.Bytes()
		kind = Kind(header[0])
		atomic.AddUint64(&c.received, uint64(headerLen+n))
		return nil
	})
	if errors.Is(err, psi.ErrMalformedMessage) {
		return nil, err
	}
	if err := c.transport(err, nil); err != nil {
		return nil, err
	}

	return Decode(kind, payload)
}

// transport maps I/O errors to psi.ErrTransport and poisons the
// channel on cancellation. ok runs on success.
func (c *StreamChannel) transport(err error, ok func()) error {
	switch {
	case err == nil:
		if ok != nil {
			ok()
		}
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		atomic.StoreInt32(&c.poisoned, 1)
		return fmt.Errorf("%w: %w", psi.ErrTransport, err)
	default:
		return fmt.Errorf("%w: %w", psi.ErrTransport, err)
	}
}

func (c *StreamChannel) check() error {
	if atomic.LoadInt32(&c.poisoned) != 0 {
		return fmt.Errorf("%w: %w", psi.ErrTransport, ErrClosed)
	}
	return nil
}
