// Package session runs whole PSI sessions for the tests.
package session

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/optable/apsi/pkg/network"
	"github.com/optable/apsi/pkg/psi"
	"github.com/optable/apsi/pkg/receiver"
	"github.com/optable/apsi/pkg/sender"
)

// Run runs a session for items against db on one goroutine, over a
// bytes.Buffer channel, calling every protocol step explicitly
func Run(t testing.TB, db *sender.SenderDB, items []psi.Item) []psi.MatchRecord {
	t.Helper()
	ctx := context.Background()
	p := db.Params()

	var buf bytes.Buffer
	ch := network.NewStreamChannel(&buf)
	s := sender.New(db)
	r, err := receiver.New(p)
	must(t, err)

	// OPRF round trip
	st, err := receiver.CreateOPRFReceiver(p, items)
	must(t, err)
	must(t, ch.Send(ctx, receiver.CreateOPRFRequest(st, p)))
	req, err := ch.ReceiveOperation(ctx, p)
	must(t, err)
	oprfReq, err := network.ToOPRFRequest(req)
	must(t, err)
	must(t, s.RunOPRF(ctx, oprfReq, ch))
	resp, err := ch.ReceiveResponse(ctx)
	must(t, err)
	oprfResp, err := network.ToOPRFResponse(resp)
	must(t, err)
	hashed, labelKeys, err := receiver.ExtractHashes(oprfResp, st)
	must(t, err)

	// query round trip
	queryReq, itt, err := r.CreateQuery(hashed)
	must(t, err)
	must(t, ch.Send(ctx, queryReq))
	req, err = ch.ReceiveOperation(ctx, p)
	must(t, err)
	qr, err := network.ToQueryRequest(req)
	must(t, err)
	q, err := sender.NewQuery(qr, db)
	must(t, err)
	must(t, s.RunQuery(ctx, q, ch))
	resp, err = ch.ReceiveResponse(ctx)
	must(t, err)
	queryResp, err := network.ToQueryResponse(resp)
	must(t, err)
	if int(queryResp.PackageCount) != q.PackageCount() {
		t.Fatalf("declared %d parts, query has %d", queryResp.PackageCount, q.PackageCount())
	}
	parts, err := receiver.CollectResults(ctx, ch, p, queryResp)
	must(t, err)

	records, err := r.ProcessResult(labelKeys, itt, parts)
	must(t, err)
	if buf.Len() != 0 {
		t.Fatalf("%d bytes left on the channel", buf.Len())
	}
	return records
}

// Pipe serves db with the simple Sender API on one end of a net.Pipe and
// returns a channel on the other end. The returned function closes the
// channel and returns the error Serve returned.
func Pipe(t testing.TB, s *sender.Sender) (network.Channel, func() error) {
	t.Helper()
	c1, c2 := net.Pipe()
	errs := make(chan error, 1)
	go func() {
		errs <- s.Serve(context.Background(), network.NewStreamChannel(c2))
		c2.Close()
	}()

	return network.NewStreamChannel(c1), func() error {
		c1.Close()
		return <-errs
	}
}

// Verdicts returns the found flags of records
func Verdicts(records []psi.MatchRecord) []bool {
	out := make([]bool, len(records))
	for i, r := range records {
		out[i] = r.Found
	}
	return out
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
