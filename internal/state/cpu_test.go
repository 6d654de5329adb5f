package state

import "testing"

func TestTakeChangeClearsOnce(t *testing.T) {
	var s State
	s.Raise(Address)

	if !s.TakeChange(Address) {
		t.Fatalf("TakeChange(Address) = false on first poll, want true")
	}
	if s.TakeChange(Address) {
		t.Fatalf("TakeChange(Address) = true on second poll, want false")
	}
}

func TestTakeChangeIsPerBit(t *testing.T) {
	var s State
	s.Raise(Address)
	s.Raise(Trigger)

	if !s.Pending(Trigger) {
		t.Fatalf("Pending(Trigger) = false, want true")
	}
	if !s.TakeChange(Address) {
		t.Fatalf("TakeChange(Address) = false, want true")
	}
	if !s.Pending(Trigger) {
		t.Fatalf("clearing Address cleared Trigger too")
	}
	if !s.TakeChange(Trigger) {
		t.Fatalf("TakeChange(Trigger) = false, want true")
	}
}

func TestAddrModeString(t *testing.T) {
	cases := map[AddrMode]string{ARM: "ARM", THUMB: "THUMB", JAZELLE: "JAZELLE", AddrMode(99): "UNKNOWN"}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Errorf("AddrMode(%d).String() = %q, want %q", mode, got, want)
		}
	}
}
