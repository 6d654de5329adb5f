package mtb

import (
	"testing"

	"tracedecode/internal/state"
)

func TestMTBPairSequence(t *testing.T) {
	d := NewDecoder()

	var msgs int
	onMsg := func(*state.State) { msgs++ }

	d.PumpPair(0x00000001, 0x08000101, onMsg)

	cpu := d.State()
	if cpu.NextAddr != 0x08000101 {
		t.Fatalf("nextAddr = 0x%X, want 0x08000101", cpu.NextAddr)
	}
	if !cpu.TakeChange(state.TraceStart) {
		t.Fatalf("TRACESTART not raised on first pair")
	}
	if msgs != 0 {
		t.Fatalf("first pair must not emit a message, got %d", msgs)
	}

	d.PumpPair(0x08000200, 0x08000300, onMsg)

	if cpu.Addr != 0x08000100 {
		t.Fatalf("addr = 0x%X, want 0x08000100", cpu.Addr)
	}
	if !cpu.TakeChange(state.ExEntry) {
		t.Fatalf("EX_ENTRY not raised on second pair")
	}
	if cpu.ToAddr != 0x08000200 {
		t.Fatalf("toAddr = 0x%X, want 0x08000200", cpu.ToAddr)
	}
	if msgs != 1 {
		t.Fatalf("second pair should emit exactly one message, got %d", msgs)
	}
	if !cpu.TakeChange(state.Address) || !cpu.TakeChange(state.Linear) {
		t.Fatalf("ADDRESS and LINEAR must both be raised on commit")
	}
}

func TestMTBForceSync(t *testing.T) {
	d := NewDecoder()

	if !d.ForceSync(true) {
		t.Fatalf("ForceSync(true) from UNSYNCED should report a transition")
	}
	if !d.IsSynced() {
		t.Fatalf("decoder should be synced")
	}
	if !d.ForceSync(false) {
		t.Fatalf("ForceSync(false) from synced state should report a transition")
	}
	if d.IsSynced() {
		t.Fatalf("decoder should be unsynced")
	}
}
