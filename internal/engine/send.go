package engine

import (
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pung-project/pung/internal/rpc"
	"github.com/pung-project/pung/internal/tuple"
)

// Send installs tuples into round's buckets, or — when round is ahead
// of the engine's current round — parks the call as a queued promise
// that resolves once the engine's round catches up to it (spec.md §9
// "Queued send promises"). An empty tuples list is always legal and
// never decrements any quota, which lets an exhausted client poll
// Send for the round's current shape (the shape-poll note in DESIGN.md).
func (e *Engine) Send(id, round uint64, tuples [][]byte) (rpc.SendResult, error) {
	e.mu.Lock()

	cs, ok := e.clients[id]
	if !ok {
		e.mu.Unlock()
		return rpc.SendResult{}, rpc.NewError(rpc.CodeUnknownID, "id %d", id)
	}

	if round > e.round {
		q := &queuedSend{tag: newSendTag(), id: id, round: round, tuples: tuples, done: make(chan queuedResult, 1)}
		e.queued = append(e.queued, q)
		log.Printf("[engine] send: queued id=%d round=%d tag=%s (current round=%d)", id, round, q.tag, e.round)
		e.mu.Unlock()
		out := <-q.done
		return out.result, out.err
	}
	if round < e.round {
		e.mu.Unlock()
		return rpc.SendResult{}, rpc.NewError(rpc.CodeStaleRound, "round %d < current %d", round, e.round)
	}
	if e.phase != Sending {
		if len(tuples) == 0 {
			// A Tree-mode client has no get_mapping/get_bloom equivalent
			// to learn a bucket's post-encode shape; polling send with
			// nothing to send is always legal and free, Sending or
			// Receiving ("send as shape poll" in DESIGN.md).
			result := e.currentShape()
			e.mu.Unlock()
			return result, nil
		}
		e.mu.Unlock()
		return rpc.SendResult{}, rpc.NewError(rpc.CodeWrongPhase, "round %d is receiving", round)
	}

	result, err := e.applySend(cs, tuples)
	if err == nil {
		e.maybeAdvanceToReceiving()
	}
	e.mu.Unlock()
	return result, err
}

// applySend validates and installs tuples against cs's quota. Caller
// holds e.mu.
func (e *Engine) applySend(cs *clientState, tuples [][]byte) (rpc.SendResult, error) {
	aliasing := e.cfg.Optimization.UsesAliasing()

	decoded := make([][]tuple.Tuple, len(tuples))
	cost := uint64(0)
	for i, wire := range tuples {
		ts, err := tuple.DecodeWire(wire, aliasing)
		if err != nil {
			return rpc.SendResult{}, rpc.NewError(rpc.CodeRateExceeded, "bad tuple %d: %v", i, err)
		}
		decoded[i] = ts
		cost += uint64(len(ts))
	}
	if cost > cs.sendRemaining {
		return rpc.SendResult{}, rpc.NewError(rpc.CodeRateExceeded, "send of %d exceeds remaining %d", cost, cs.sendRemaining)
	}

	for _, ts := range decoded {
		for _, t := range ts {
			e.db.Ingest(t)
		}
	}
	cs.sendRemaining -= cost
	e.totalSent += cost

	if cost > 0 {
		log.Printf("[engine] send: installed %s tuples (round=%d, total=%s)",
			humanize.Comma(int64(cost)), e.round, humanize.Comma(int64(e.totalSent)))
	}
	return e.currentShape(), nil
}

// currentShape builds a SendResult snapshot of every bucket's current
// shape. Caller holds e.mu.
func (e *Engine) currentShape() rpc.SendResult {
	buckets := make([]rpc.BucketShape, e.db.NumBuckets())
	for i := range buckets {
		s := e.db.BucketShape(i)
		buckets[i] = rpc.BucketShape{Nums: s.Sizes, Lmids: s.Lmids}
	}
	return rpc.SendResult{Buckets: buckets}
}

// maybeAdvanceToReceiving runs encode() and flips the phase once every
// synced client has exhausted its send quota and the round reached its
// configured minimum population (spec.md §4.9 Advance). Caller holds
// e.mu.
func (e *Engine) maybeAdvanceToReceiving() {
	if e.phase != Sending {
		return
	}
	if e.totalSent < e.cfg.MinMessages {
		return
	}
	for _, cs := range e.clients {
		if cs.everSeeded && cs.seededRound == e.round && cs.sendRemaining != 0 {
			return
		}
	}

	if err := e.db.Encode(); err != nil {
		log.Printf("[engine] encode failed: %v", err)
		return
	}
	levels := uint64(e.db.PIRLevelsPerRetry())
	for _, cs := range e.clients {
		if cs.everSeeded && cs.seededRound == e.round {
			cs.retRemaining = levels * cs.retries
		}
	}
	e.phase = Receiving
	e.phaseStarted = time.Now()
	log.Printf("[engine] round %d: advanced to receiving (%s levels/retry)", e.round, humanize.Comma(int64(levels)))
}
