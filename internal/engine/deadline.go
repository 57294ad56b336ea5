package engine

import (
	"log"
	"time"
)

// StartDeadlineSweeper starts a background goroutine that force-closes
// out a phase that has run longer than cfg.PhaseDeadline, per spec.md
// §9's "production SHOULD add a per-round deadline": a client that
// vanished mid-phase would otherwise hold every other client's round
// open forever, since maybeAdvanceToReceiving/maybeAdvanceToSending
// only fire once every synced client's quota has reached zero. interval
// is how often the sweeper checks; the Engine outlives the goroutine
// for the life of the process, so there is no Stop — a server restart
// is the only way to cancel it, matching the rest of the engine's
// crash-only design.
func (e *Engine) StartDeadlineSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			e.sweepDeadline()
		}
	}()
}

// sweepDeadline forces the current phase closed if it has run past
// cfg.PhaseDeadline, by zeroing every straggling client's remaining
// quota for the phase in progress and re-running the normal advance
// check — the same path a fully-quota-exhausted round takes, so a
// forced advance is indistinguishable downstream from a clean one.
func (e *Engine) sweepDeadline() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.PhaseDeadline <= 0 {
		return
	}
	if time.Since(e.phaseStarted) < e.cfg.PhaseDeadline {
		return
	}

	switch e.phase {
	case Sending:
		forced := false
		for _, cs := range e.clients {
			if cs.everSeeded && cs.seededRound == e.round && cs.sendRemaining != 0 {
				cs.sendRemaining = 0
				forced = true
			}
		}
		if forced {
			log.Printf("[engine] phase deadline exceeded, forcing sending round %d closed", e.round)
		}
		e.maybeAdvanceToReceiving()
	case Receiving:
		forced := false
		for _, cs := range e.clients {
			if cs.everSeeded && cs.seededRound == e.round && cs.retRemaining != 0 {
				cs.retRemaining = 0
				forced = true
			}
		}
		if forced {
			log.Printf("[engine] phase deadline exceeded, forcing receiving round %d closed", e.round)
		}
		e.maybeAdvanceToSending()
	}
}
