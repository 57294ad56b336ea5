package engine

import (
	"errors"
	"log"
	"time"

	"github.com/pung-project/pung/internal/pir"
	"github.com/pung-project/pung/internal/rpc"
)

// Retrieve answers one PIR probe and advances the round back to
// Sending once every synced client's retrieve quota is exhausted
// (spec.md §4.9 retr).
func (e *Engine) Retrieve(req rpc.RetrieveRequest) (rpc.RetrieveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.clients[req.ID]
	if !ok {
		return rpc.RetrieveResult{}, rpc.NewError(rpc.CodeUnknownID, "id %d", req.ID)
	}
	if e.phase != Receiving || req.Round != e.round {
		return rpc.RetrieveResult{}, rpc.NewError(rpc.CodeWrongPhase, "round %d is %s (current round %d)", req.Round, e.phase, e.round)
	}
	if cs.retRemaining == 0 {
		return rpc.RetrieveResult{}, rpc.NewError(rpc.CodeQuotaZero, "id %d", req.ID)
	}

	answer, anum, err := e.db.Retrieve(int(req.Bucket), int(req.Collection), int(req.Level), req.Query, req.QNum)
	if err != nil {
		switch {
		case errors.Is(err, pir.ErrOutOfRange):
			return rpc.RetrieveResult{}, rpc.NewError(rpc.CodeOutOfRange, "%v", err)
		case errors.Is(err, pir.ErrEmptyAnswer):
			return rpc.RetrieveResult{}, rpc.NewError(rpc.CodeEmptyAnswer, "%v", err)
		default:
			return rpc.RetrieveResult{}, err
		}
	}

	cs.retRemaining--
	e.maybeAdvanceToSending()
	return rpc.RetrieveResult{Answer: answer, ANum: anum}, nil
}

// maybeAdvanceToSending closes out the round once every synced
// client's ret_remaining has reached zero, then rotates: reset,
// increment round, clear the database, flip phase, and resolve any
// send promises now due (spec.md §4.9 retr's advance clause). Caller
// holds e.mu.
func (e *Engine) maybeAdvanceToSending() {
	if e.phase != Receiving {
		return
	}
	for _, cs := range e.clients {
		if cs.everSeeded && cs.seededRound == e.round && cs.retRemaining != 0 {
			return
		}
	}

	e.round++
	e.db.Clear()
	e.totalSent = 0
	e.phase = Sending
	e.phaseStarted = time.Now()
	log.Printf("[engine] round advanced to %d", e.round)
	e.processQueuedSends()
}

// processQueuedSends resolves every queued send() promise whose target
// round has now arrived. Caller holds e.mu.
func (e *Engine) processQueuedSends() {
	if len(e.queued) == 0 {
		return
	}
	remaining := e.queued[:0]
	for _, q := range e.queued {
		if q.round != e.round {
			remaining = append(remaining, q)
			continue
		}
		cs, ok := e.clients[q.id]
		if !ok {
			q.done <- queuedResult{err: rpc.NewError(rpc.CodeUnknownID, "id %d", q.id)}
			continue
		}
		e.seed(cs)
		result, err := e.applySend(cs, q.tuples)
		log.Printf("[engine] send: resolved queued tag=%s id=%d round=%d err=%v", q.tag, q.id, q.round, err)
		q.done <- queuedResult{result: result, err: err}
		if err == nil {
			e.maybeAdvanceToReceiving()
		}
	}
	e.queued = remaining
}

// GetMapping returns, for every bucket, every systematic collection's
// label list in its current order — valid only during Receiving for
// the round in progress (spec.md §6 get_mapping).
func (e *Engine) GetMapping(round uint64) (rpc.MappingResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkReceivingRound(round); err != nil {
		return rpc.MappingResult{}, err
	}

	n := e.cfg.Optimization.NumSystematic()
	out := make([][][][]byte, e.db.NumBuckets())
	for b := 0; b < e.db.NumBuckets(); b++ {
		cols := make([][][]byte, n)
		for c := 0; c < n; c++ {
			cols[c] = e.db.CollectionLabels(b, c)
		}
		out[b] = cols
	}
	return rpc.MappingResult{Buckets: out}, nil
}

// GetBloom returns, for every bucket, every systematic collection's
// Bloom bit-vector and element count — valid only during Receiving for
// the round in progress (spec.md §6 get_bloom).
func (e *Engine) GetBloom(round uint64) (rpc.BloomResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkReceivingRound(round); err != nil {
		return rpc.BloomResult{}, err
	}

	n := e.cfg.Optimization.NumSystematic()
	blooms := make([][][]byte, e.db.NumBuckets())
	nums := make([][]uint64, e.db.NumBuckets())
	for b := 0; b < e.db.NumBuckets(); b++ {
		bb := make([][]byte, n)
		nn := make([]uint64, n)
		for c := 0; c < n; c++ {
			bb[c], nn[c] = e.db.CollectionBloom(b, c)
		}
		blooms[b] = bb
		nums[b] = nn
	}
	return rpc.BloomResult{Blooms: blooms, Nums: nums}, nil
}

func (e *Engine) checkReceivingRound(round uint64) error {
	if round != e.round {
		return rpc.NewError(rpc.CodeStaleRound, "round %d != current %d", round, e.round)
	}
	if e.phase != Receiving {
		return rpc.NewError(rpc.CodeWrongPhase, "round %d is sending", round)
	}
	return nil
}
