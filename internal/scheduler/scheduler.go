// Package scheduler implements Pung's client side: peer/label
// bookkeeping, sending padded to a fixed per-round rate, and the
// retrieval schedule that probes every bucket a fixed number of times
// regardless of which labels are actually present (spec.md §4.4,
// §4.7, §4.8). Grounded on the teacher's mixnet.go path-building shape
// (`chooseHopsFurthest` assembling a fixed-shape plan before any
// network call is made) generalized from "choose forwarding hops" to
// "choose probe indices," and on the Talek reference's
// generatePoll/retrieveResponse two-bucket-poll-then-decrypt-and-discard
// idiom, the closest real precedent in the pack for "schedule
// fixed-shape PIR probes, try to decrypt each candidate, keep the
// first that verifies."
package scheduler

import (
	"log"
	"sort"
	"sync"

	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/pir"
	"github.com/pung-project/pung/internal/rpc"
	"github.com/pung-project/pung/internal/secret"
)

// Received is one decrypted message recovered from a retrieval round.
type Received struct {
	Peer      string
	Plaintext []byte
}

// Scheduler is one client's round-local state: its identity, its
// known peers' derived keys, a queue of outbound plaintexts per peer,
// and the dummy peer used to pad both send and retrieve schedules to
// a fixed shape.
type Scheduler struct {
	mu sync.Mutex

	cfg     config.Config
	backend pir.Backend
	channel rpc.Channel

	self string
	id   uint64
	rate uint32

	peers map[string]*peerState
	dummy *peerState

	outbox map[string][][]byte
}

// New creates a Scheduler for client self, talking to channel (either
// an in-process *engine.Engine or an HTTP-backed rpc.Channel) and
// using backend to build the PIR queries a real backend's ClientQuery
// needs (see shadowHandle — backend must be the same implementation
// the server uses).
func New(cfg config.Config, backend pir.Backend, channel rpc.Channel, self string) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		backend: backend,
		channel: channel,
		self:    self,
		peers:   make(map[string]*peerState),
		dummy:   newDummyPeer(),
		outbox:  make(map[string][][]byte),
	}
}

// AddPeer registers a shared secret with a named peer, deriving keys
// and the uid assignment (spec.md §4.2, §4.3). Calling it twice for
// the same name resets that peer's counters.
func (s *Scheduler) AddPeer(name string, shared []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selfUID, peerUID := secret.UIDs(s.self, name)
	s.peers[name] = newPeerState(name, shared, selfUID, peerUID)
}

// Register assigns this client an id at the given rate (spec.md §6),
// used as both the per-round send budget and the retrieve-rate k that
// determines the retry count (config.OptimizationScheme.Retries).
func (s *Scheduler) Register(rate uint32) (uint64, error) {
	id, err := s.channel.Register(rate)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.id, s.rate = id, rate
	s.mu.Unlock()
	return id, nil
}

// Sync seeds this round's counters on the server and returns the
// round this client should now act in (spec.md §4.9).
func (s *Scheduler) Sync() (uint64, error) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	return s.channel.Sync(id)
}

// Close removes this client from the server (spec.md §6).
func (s *Scheduler) Close() error {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	return s.channel.Close(id)
}

// QueueMessage appends msg to peer's outbound queue; Send drains it
// in FIFO order, one message per send slot, up to the registered rate.
func (s *Scheduler) QueueMessage(peer string, msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[peer] = append(s.outbox[peer], msg)
}

// Retrieve runs one retrieval round for targets (a list of peer names,
// duplicates allowed, per spec.md §4.7), dispatching to the scheme
// this Scheduler was built with — the Normal/Aliasing, Hybrid2, and
// Hybrid4 paths are different enough in shape (spec.md §4.8) that
// spec.md §9's "straight-line code per cell, not virtual dispatch"
// note applies here too: one switch, not an interface per scheme.
func (s *Scheduler) Retrieve(round uint64, targets []string) ([]Received, error) {
	switch s.cfg.Optimization {
	case config.Hybrid2:
		return s.retrieveHybrid2(round, targets)
	case config.Hybrid4:
		return s.retrieveHybrid4(round, targets)
	default:
		return s.retrieveNormal(round, targets)
	}
}

// peerNames returns every registered peer name in a fixed (sorted)
// order, so round-robin send scheduling doesn't depend on Go's
// randomized map iteration order (spec.md §8 property 10: the probe
// sequence must be a function only of (scheme, k, bucket count,
// sizes), never of incidental ordering).
func (s *Scheduler) peerNames() []string {
	names := make([]string, 0, len(s.peers))
	for n := range s.peers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) logf(format string, args ...any) {
	log.Printf("[scheduler] "+format, args...)
}
