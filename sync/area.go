// Package sync drives one PLC's worth of register mirroring: reading both
// sides of each configured block, resolving conflicts with PLC precedence,
// and writing back only the indices that need to change.
package sync

import (
	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/config"
	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/srtp"
)

// Area tracks one RegisterSyncMapping's last-seen values on both sides so
// each tick can tell which side actually changed, index by index, rather
// than writing a whole block whenever anything in it moved.
type Area struct {
	Mapping config.RegisterSyncMapping

	lastPLC []uint16
	lastMB  []uint16
	seeded  bool
}

// NewArea creates an Area for the given mapping. It starts unseeded: the
// first Reconcile call runs the mirror's first-run reconciliation pass
// instead of the periodic per-index comparison.
func NewArea(mapping config.RegisterSyncMapping) *Area {
	return &Area{Mapping: mapping}
}

// Write is a single word destined for one side at one index within the
// Area's mapping.
type Write struct {
	Index int
	Value uint16
}

// Plan is the outcome of comparing one tick's PLC and Modbus reads against
// the Area's last-seen snapshots, index by index.
type Plan struct {
	// ToModbus is the set of indices (and already-domain-adjusted values)
	// that must be written to the Modbus side because the PLC side is
	// authoritative for them this tick.
	ToModbus []Write
	// ToPLC is the set of indices (and already-domain-adjusted values)
	// that must be written to the PLC side because only the Modbus side
	// changed for them this tick.
	ToPLC []Write
}

// Reconcile compares a fresh pair of reads against the Area's last-seen
// snapshots and builds a Plan of the individual indices that need a write,
// exactly as spec'd: each index is judged independently, so one index can
// need a PLC→Modbus write in the same tick another needs a Modbus→PLC
// write.
//
// On the very first call (no snapshot exists yet) every index where the
// PLC and Modbus values disagree is written PLC→Modbus; indices that
// already agree are left untouched. On every subsequent call, an index is
// left alone if its PLC value (adjusted for SwapBytes) already equals its
// Modbus value; otherwise PLC precedence applies: a PLC-side change always
// wins, even one that coincides with an independent Modbus-side change at
// the same index, and only an unaccompanied Modbus-side change propagates
// to the PLC. An index where neither side's snapshot moved but the values
// still disagree (only possible if an earlier write silently failed) falls
// through to the PLC→Modbus case as a defensive write.
func (a *Area) Reconcile(plcWords, mbWords []uint16) Plan {
	swap := a.Mapping.SwapBytes

	if !a.seeded {
		return a.reconcileFirstRun(plcWords, mbWords, swap)
	}
	return a.reconcilePeriodic(plcWords, mbWords, swap)
}

func (a *Area) reconcileFirstRun(plcWords, mbWords []uint16, swap bool) Plan {
	a.seeded = true
	lastMB := cloneWords(mbWords)

	var plan Plan
	for i, p := range plcWords {
		mbWord := mbWords[i]
		if swap {
			mbWord = srtp.ByteSwap(mbWord)
		}
		if p == mbWord {
			continue
		}
		toMb := p
		if swap {
			toMb = srtp.ByteSwap(p)
		}
		plan.ToModbus = append(plan.ToModbus, Write{Index: i, Value: toMb})
		lastMB[i] = toMb
	}

	a.lastPLC = cloneWords(plcWords)
	a.lastMB = lastMB
	return plan
}

func (a *Area) reconcilePeriodic(plcWords, mbWords []uint16, swap bool) Plan {
	var plan Plan

	for i, p := range plcWords {
		m := mbWords[i]
		mEff := m
		if swap {
			mEff = srtp.ByteSwap(m)
		}
		if p == mEff {
			continue
		}

		pChanged := p != a.lastPLC[i]
		mChanged := m != a.lastMB[i]

		switch {
		case mChanged && !pChanged:
			toPlc := m
			if swap {
				toPlc = srtp.ByteSwap(m)
			}
			plan.ToPLC = append(plan.ToPLC, Write{Index: i, Value: toPlc})
		default:
			// p_changed && !m_changed, p_changed && m_changed (conflict,
			// PLC wins), and the neither-changed-but-still-differing dead
			// arm all resolve to PLC→Modbus.
			toMb := p
			if swap {
				toMb = srtp.ByteSwap(p)
			}
			plan.ToModbus = append(plan.ToModbus, Write{Index: i, Value: toMb})
		}
	}

	// Record the values this plan writes, so the next tick does not mistake
	// the mirror's own write for a change made on that side.
	a.lastPLC = cloneWords(plcWords)
	a.lastMB = cloneWords(mbWords)
	for _, w := range plan.ToModbus {
		a.lastMB[w.Index] = w.Value
	}
	for _, w := range plan.ToPLC {
		a.lastPLC[w.Index] = w.Value
	}
	return plan
}

// reset discards the Area's last-seen snapshots so the next Reconcile call
// runs first-run reconciliation again, used after a reconnect so a stale
// comparison baseline from before the connection dropped is never reused.
func (a *Area) reset() {
	a.seeded = false
	a.lastPLC = nil
	a.lastMB = nil
}

func cloneWords(words []uint16) []uint16 {
	out := make([]uint16, len(words))
	copy(out, words)
	return out
}
