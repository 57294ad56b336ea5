package engine

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/label"
	"github.com/pung-project/pung/internal/pir/directpir"
	"github.com/pung-project/pung/internal/rpc"
	"github.com/pung-project/pung/internal/tuple"
)

func testConfig() config.Config {
	c := config.Default()
	c.NumBuckets = 4
	c.MinMessages = 1
	return c
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testConfig(), directpir.Backend{}, nil)
	require.NoError(t, err)
	return e
}

func encodeIndexQuery(idx uint64) []byte {
	q := make([]byte, 8)
	binary.BigEndian.PutUint64(q, idx)
	return q
}

// TestSingleMessageLoopback exercises spec.md §8 scenario A end to end:
// one client registers, syncs, sends a tuple, the round advances on
// send, and the same client retrieves and recovers it.
func TestSingleMessageLoopback(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.Register(1)
	require.NoError(t, err)

	round, err := e.Sync(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), round)

	orig := tuple.Random()
	result, err := e.Send(id, round, [][]byte{tuple.EncodeWire(orig)})
	require.NoError(t, err)
	require.Len(t, result.Buckets, 4)

	bucketIdx := e.db.BucketOf(orig.Label())
	shape := result.Buckets[bucketIdx]
	require.NotEmpty(t, shape.Nums)
	assert.Equal(t, uint64(1), shape.Nums[0])

	mapping, err := e.GetMapping(round)
	require.NoError(t, err)
	require.Len(t, mapping.Buckets[bucketIdx][0], 1)
	assert.Equal(t, orig.Label(), label.Label(label32(mapping.Buckets[bucketIdx][0][0])))

	req := rpc.RetrieveRequest{
		ID:         id,
		Round:      round,
		Bucket:     uint32(bucketIdx),
		Collection: 0,
		Level:      0,
		Query:      encodeIndexQuery(0),
		QNum:       1,
	}
	res, err := e.Retrieve(req)
	require.NoError(t, err)
	assert.Equal(t, orig, tuple.Tuple(res.Answer))
}

func TestRoundAdvancesBackToSendingOnceQuotaExhausted(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Register(1)
	require.NoError(t, err)
	round, err := e.Sync(id)
	require.NoError(t, err)

	orig := tuple.Random()
	_, err = e.Send(id, round, [][]byte{tuple.EncodeWire(orig)})
	require.NoError(t, err)
	require.Equal(t, Receiving, e.phase)

	bucketIdx := e.db.BucketOf(orig.Label())
	cs := e.clients[id]
	levels := cs.retRemaining
	require.Greater(t, levels, uint64(0))

	for i := uint64(0); i < levels; i++ {
		_, err := e.Retrieve(rpc.RetrieveRequest{
			ID: id, Round: round, Bucket: uint32(bucketIdx), Collection: 0, Level: 0,
			Query: encodeIndexQuery(0), QNum: 1,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, Sending, e.phase)
	round2, err := e.Sync(id)
	require.NoError(t, err)
	assert.Equal(t, round+1, round2)
}

func TestSendRejectsUnknownID(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Send(999, 0, nil)
	requireCode(t, err, rpc.CodeUnknownID)
}

func TestSendRejectsOverQuota(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Register(1)
	require.NoError(t, err)
	round, err := e.Sync(id)
	require.NoError(t, err)

	t1 := tuple.EncodeWire(tuple.Random())
	t2 := tuple.EncodeWire(tuple.Random())
	_, err = e.Send(id, round, [][]byte{t1, t2})
	requireCode(t, err, rpc.CodeRateExceeded)
}

func TestSendRejectsStaleRound(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Register(1)
	require.NoError(t, err)
	round, err := e.Sync(id)
	require.NoError(t, err)

	// Advance one full round so round 0 becomes stale.
	orig := tuple.Random()
	_, err = e.Send(id, round, [][]byte{tuple.EncodeWire(orig)})
	require.NoError(t, err)
	bucketIdx := e.db.BucketOf(orig.Label())
	cs := e.clients[id]
	for cs.retRemaining > 0 {
		_, rerr := e.Retrieve(rpc.RetrieveRequest{
			ID: id, Round: round, Bucket: uint32(bucketIdx), Collection: 0, Level: 0,
			Query: encodeIndexQuery(0), QNum: 1,
		})
		require.NoError(t, rerr)
	}
	require.Equal(t, Sending, e.phase)

	_, err = e.Send(id, round, [][]byte{tuple.EncodeWire(tuple.Random())})
	requireCode(t, err, rpc.CodeStaleRound)
}

func TestRetrieveRejectsWrongPhase(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Register(1)
	require.NoError(t, err)
	round, err := e.Sync(id)
	require.NoError(t, err)

	req := rpc.RetrieveRequest{ID: id, Round: round, Bucket: 0, Collection: 0, Level: 0, Query: encodeIndexQuery(0), QNum: 1}
	_, err = e.Retrieve(req)
	requireCode(t, err, rpc.CodeWrongPhase)
}

func TestEmptySendPollsShapeWithoutCost(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Register(5)
	require.NoError(t, err)
	round, err := e.Sync(id)
	require.NoError(t, err)

	result, err := e.Send(id, round, nil)
	require.NoError(t, err)
	assert.Len(t, result.Buckets, 4)

	cs := e.clients[id]
	assert.Equal(t, uint64(5), cs.sendRemaining)
}

// TestQueuedSendForFutureRoundResolvesOnRoundAdvance exercises spec.md
// §8 scenario F: a send() for a round the engine hasn't reached yet
// parks as a queued promise rather than erroring, and unblocks only
// once enough Retrieve calls advance the round to match it.
func TestQueuedSendForFutureRoundResolvesOnRoundAdvance(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Register(1)
	require.NoError(t, err)
	round, err := e.Sync(id)
	require.NoError(t, err)
	require.Equal(t, uint64(0), round)

	orig := tuple.Random()
	_, err = e.Send(id, round, [][]byte{tuple.EncodeWire(orig)})
	require.NoError(t, err)
	require.Equal(t, Receiving, e.phase)
	bucketIdx := e.db.BucketOf(orig.Label())

	type sendOutcome struct {
		result rpc.SendResult
		err    error
	}
	done := make(chan sendOutcome, 1)
	next := tuple.Random()
	go func() {
		result, err := e.Send(id, round+1, [][]byte{tuple.EncodeWire(next)})
		done <- sendOutcome{result, err}
	}()

	select {
	case <-done:
		t.Fatal("send for a future round returned before the round advanced")
	case <-time.After(50 * time.Millisecond):
	}

	cs := e.clients[id]
	for cs.retRemaining > 0 {
		_, rerr := e.Retrieve(rpc.RetrieveRequest{
			ID: id, Round: round, Bucket: uint32(bucketIdx), Collection: 0, Level: 0,
			Query: encodeIndexQuery(0), QNum: 1,
		})
		require.NoError(t, rerr)
	}
	require.Equal(t, Sending, e.phase)
	require.Equal(t, round+1, e.round)

	select {
	case out := <-done:
		require.NoError(t, out.err)
	case <-time.After(time.Second):
		t.Fatal("queued send did not resolve after the round advanced")
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	rerr, ok := err.(*rpc.Error)
	require.True(t, ok, "expected *rpc.Error, got %T", err)
	assert.Equal(t, code, rerr.Code)
}

func label32(b []byte) (out [32]byte) {
	copy(out[:], b)
	return out
}
