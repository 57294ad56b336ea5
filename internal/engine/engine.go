// Package engine implements Pung's server-side round state machine
// (spec.md §4.9): the two-phase Sending/Receiving cycle, per-client
// rate accounting, queued out-of-phase sends, and round advance.
// Grounded on the teacher's go-node/config.go Server struct (a single
// mutex-guarded owner holding every piece of server state) and its
// command_sync.go pending-command/dedup pattern, adapted from a
// broadcast command queue into the queued-send-promise mechanism
// spec.md §9 calls for.
package engine

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pung-project/pung/internal/collection"
	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/pir"
	"github.com/pung-project/pung/internal/registry"
	"github.com/pung-project/pung/internal/rpc"
)

// Phase is the round state machine's current half-cycle.
type Phase int

const (
	Sending Phase = iota
	Receiving
)

func (p Phase) String() string {
	if p == Receiving {
		return "receiving"
	}
	return "sending"
}

// clientState is one registered client's round-local accounting.
// Rate survives restarts (via the registry); everything else is
// reseeded every round by sync().
type clientState struct {
	rate uint64

	sendRemaining uint64
	retRemaining  uint64
	retries       uint64
	seededRound   uint64 // round for which the three fields above are valid
	everSeeded    bool
}

// queuedSend is a send() call for a round that hasn't started yet,
// parked until the engine's round advances to meet it (spec.md §9
// "Queued send promises").
type queuedSend struct {
	tag    string
	id     uint64
	round  uint64
	tuples [][]byte
	done   chan queuedResult
}

type queuedResult struct {
	result rpc.SendResult
	err    error
}

// Engine is the round engine: the single owner of the Database and
// all per-client state (spec.md §9 "Cyclic ownership" redesign note —
// one owner, not a shared broadcast-dataflow pair).
type Engine struct {
	mu  sync.Mutex
	cfg config.Config
	db  *collection.Database
	reg *registry.Registry

	phase     Phase
	round     uint64
	clients   map[uint64]*clientState
	nextID    uint64
	totalSent uint64
	queued    []*queuedSend

	phaseStarted time.Time
}

var _ rpc.Channel = (*Engine)(nil)

// New creates an Engine over a fresh Database, optionally restoring
// previously-registered clients' (id, rate) pairs from reg (nil is
// fine for an ephemeral, registry-less engine).
func New(cfg config.Config, backend pir.Backend, reg *registry.Registry) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:          cfg,
		db:           collection.New(cfg, backend),
		reg:          reg,
		phase:        Sending,
		clients:      make(map[uint64]*clientState),
		nextID:       1,
		phaseStarted: time.Now(),
	}
	if reg != nil {
		records, err := reg.All()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			e.clients[rec.ID] = &clientState{rate: uint64(rec.Rate)}
			if rec.ID >= e.nextID {
				e.nextID = rec.ID + 1
			}
		}
		log.Printf("[engine] restored %d client records from registry", len(records))
	}
	return e, nil
}

// Register assigns a new client id and records its rate (spec.md §6).
func (e *Engine) Register(rate uint32) (uint64, error) {
	if rate == 0 {
		return 0, rpc.NewError(rpc.CodeRateExceeded, "rate must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.clients[id] = &clientState{rate: uint64(rate)}
	if e.reg != nil {
		if err := e.reg.Save(id, rate); err != nil {
			log.Printf("[engine] registry save failed for client %d: %v", id, err)
		}
	}
	log.Printf("[engine] register: id=%d rate=%d", id, rate)
	return id, nil
}

// Sync seeds a client's per-round counters (Sending) or tells a
// not-yet-participating client which round to try next (Receiving),
// per spec.md §4.9.
func (e *Engine) Sync(id uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.clients[id]
	if !ok {
		return 0, rpc.NewError(rpc.CodeUnknownID, "id %d", id)
	}
	if e.phase == Sending {
		e.seed(cs)
		return e.round, nil
	}
	return e.round + 1, nil
}

// seed resets cs's per-round counters for the engine's current round,
// if it hasn't already been seeded this round (idempotent re-sync).
func (e *Engine) seed(cs *clientState) {
	if cs.everSeeded && cs.seededRound == e.round {
		return
	}
	cs.sendRemaining = cs.rate
	cs.retRemaining = 0
	cs.retries = e.cfg.Optimization.Retries(cs.rate)
	cs.seededRound = e.round
	cs.everSeeded = true
}

// Close removes a client from all tables (spec.md §6); a transport
// disconnect should call this per spec.md §5's cancellation semantics.
func (e *Engine) Close(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.clients[id]; !ok {
		return rpc.NewError(rpc.CodeUnknownID, "id %d", id)
	}
	delete(e.clients, id)
	if e.reg != nil {
		if err := e.reg.Delete(id); err != nil {
			log.Printf("[engine] registry delete failed for client %d: %v", id, err)
		}
	}
	log.Printf("[engine] close: id=%d", id)
	return nil
}

// ChangeExtra updates the padding-tuple count, effective from the next
// round-encode boundary (spec.md §6).
func (e *Engine) ChangeExtra(n uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Extra = n
	log.Printf("[engine] change_extra: %d", n)
	return nil
}

func newSendTag() string {
	return uuid.NewString()
}
