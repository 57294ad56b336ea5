package scheduler

import (
	"github.com/pung-project/pung/internal/rpc"
	"github.com/pung-project/pung/internal/secret"
	"github.com/pung-project/pung/internal/tuple"
)

// Send drains the per-peer outbox round-robin into exactly s.rate
// physical tuples' worth of wire slots (spec.md §4.4, §4.9) — s.rate
// slots under Normal, s.rate/2 under Aliasing/Hybrid* since every slot
// there is an aliased wire entry costing 2 physical tuples — using the
// dummy peer to pad any unused slots so the number of real recipients
// and real messages this round never shows up in the wire shape.
func (s *Scheduler) Send(round uint64) (rpc.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := s.peerNames()
	aliasing := s.cfg.Optimization.UsesAliasing()

	// rate is a physical-tuple budget (spec.md §4.9: send_remaining is
	// decremented by 1 per physical tuple installed, 2 for an aliased
	// wire entry since it installs two). Under aliasing every wire entry
	// — real or dummy alike, since sendLabel always derives an alias —
	// costs 2, so the number of wire slots this round is rate/2, not
	// rate.
	slots := uint64(s.rate)
	if aliasing {
		slots /= 2
	}
	wires := make([][]byte, 0, slots)

	next := 0
	for i := uint64(0); i < slots; i++ {
		peerName, msg := s.nextOutboundLocked(names, &next)
		p := s.peers[peerName]
		if p == nil {
			p = s.dummy
		}

		l1, l2 := sendLabel(p, round, p.sendCounter, aliasing, s.cfg.NumBuckets)
		p.sendCounter++

		cipher, mac, err := secret.Encrypt(p.keys.KE, round, msg)
		if err != nil {
			return rpc.SendResult{}, err
		}

		if l2 == nil {
			t := tuple.New(l1, cipher[:], mac[:])
			wires = append(wires, tuple.EncodeWire(t))
		} else {
			primary := tuple.New(l1, cipher[:], mac[:])
			alias := tuple.New(*l2, cipher[:], mac[:])
			wires = append(wires, tuple.EncodeWireAliased(primary, alias))
		}
	}

	s.logf("send: round=%d wires=%d", round, len(wires))
	return s.channel.Send(s.id, round, wires)
}

// nextOutboundLocked pops the next queued message for a peer in
// round-robin order across names, or a zero-length dummy message when
// every queue is empty. Caller holds s.mu.
func (s *Scheduler) nextOutboundLocked(names []string, cursor *int) (string, []byte) {
	if len(names) == 0 {
		return dummyName, nil
	}
	for i := 0; i < len(names); i++ {
		name := names[*cursor%len(names)]
		*cursor++
		if q := s.outbox[name]; len(q) > 0 {
			s.outbox[name] = q[1:]
			return name, q[0]
		}
	}
	return dummyName, nil
}
