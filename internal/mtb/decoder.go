// Package mtb decodes the Micro Trace Buffer format: a stream of fixed
// 8-byte (source, destination) address pairs emitted by the Cortex-M0+
// MTB hardware. Deliberately thin next to internal/etm35 - MTB carries far
// less information per unit than the ETM byte stream.
package mtb

import "tracedecode/internal/state"

type syncState int

const (
	unsynced syncState = iota
	idle
)

// Decoder is the MTB per-pair decoder. Unlike etm35.Decoder it has no
// sub-byte grammar: every call to PumpPair consumes exactly one 8-byte
// (source, dest) record and, from the second pair onward, commits a new
// CPU-state snapshot.
type Decoder struct {
	cpu  state.State
	sync syncState
}

// NewDecoder constructs an MTB Decoder in the UNSYNCED state.
func NewDecoder() *Decoder {
	return &Decoder{sync: unsynced}
}

// State returns the decoder's CPU-state record.
func (d *Decoder) State() *state.State {
	return &d.cpu
}

// IsSynced reports whether the decoder has left UNSYNCED.
func (d *Decoder) IsSynced() bool {
	return d.sync != unsynced
}

// ForceSync drives the sync state machine directly. It reports whether a
// transition actually happened.
func (d *Decoder) ForceSync(sync bool) bool {
	if sync {
		if d.sync != unsynced {
			return false
		}
		d.sync = idle
		return true
	}
	if d.sync == unsynced {
		return false
	}
	d.sync = unsynced
	return true
}

// PumpPair consumes one (source, dest) address pair. onMessage fires at
// most once, only from the IDLE state - the first pair received while
// UNSYNCED seeds nextAddr but never itself produces a message. ForceSync(true)
// moves straight to IDLE, so the next pair after it emits without seeding.
func (d *Decoder) PumpPair(source, dest uint32, onMessage func(*state.State)) {
	cpu := &d.cpu

	switch d.sync {
	case unsynced:
		cpu.NextAddr = (dest &^ 1) | (source & 1)
		if dest&1 != 0 {
			cpu.Raise(state.TraceStart)
		}
		d.sync = idle

	case idle:
		if cpu.NextAddr&1 != 0 {
			cpu.Raise(state.ExEntry)
		}
		if dest&1 != 0 {
			cpu.Raise(state.TraceStart)
		}
		cpu.Addr = cpu.NextAddr &^ 1
		cpu.NextAddr = (dest &^ 1) | (source & 1)
		cpu.ToAddr = source &^ 1
		cpu.Exception = 0
		cpu.Raise(state.Address)
		cpu.Raise(state.Linear)
		if onMessage != nil {
			onMessage(cpu)
		}
	}
}
