// Package state holds the decoder's externally-visible CPU-state record
// (component A of the design) and the sticky change-bitmask consumers poll
// (component G). Everything else the decoders touch - partial addresses,
// timestamp accumulators, byte counters - is transient and lives on the
// decoder itself; only what is committed here ever reaches a caller.
package state

// AddrMode is the instruction set the traced core was executing in when
// the current address was captured.
type AddrMode int

const (
	ARM AddrMode = iota
	THUMB
	JAZELLE
)

func (m AddrMode) String() string {
	switch m {
	case ARM:
		return "ARM"
	case THUMB:
		return "THUMB"
	case JAZELLE:
		return "JAZELLE"
	default:
		return "UNKNOWN"
	}
}

// ChangeKind is one bit of the change-record bitmask: a kind of state
// update a consumer may want to notice. Bits are raised by the decoders
// and cleared by TakeChange one at a time, or all at once by ClearChanges
// when the ETM decoder receives its first I-Sync.
type ChangeKind uint32

const (
	Address ChangeKind = 1 << iota
	Exception
	Cancelled
	AltISA
	Hyp
	Secure
	Jazelle
	Thumb
	Reason
	IsLSiP
	ContextID
	VMID
	Timestamp
	CycleCount
	TraceStart
	Linear
	ENAtoms
	WAtoms
	ExEntry
	ExExit
	Trigger
	ClockSpeed
	Resume
)

// State is the decoder's public view of the traced processor. It is
// overwritten piecemeal as packets commit, never wholesale, so a consumer
// reading it mid-decode always sees the most recently committed value of
// each field even if other fields are stale from an earlier message.
type State struct {
	Addr     uint32
	NextAddr uint32 // MTB only: predicted next fetch address
	ToAddr   uint32 // MTB only: branch source address

	AddrMode  AddrMode
	Thumb     bool
	Jazelle   bool
	AltISA    bool
	NonSecure bool
	Hyp       bool

	ContextID uint32
	VMID      uint8

	TS         uint64
	CycleCount uint32
	InstCount  uint64

	EAtoms      uint8
	NAtoms      uint8
	WAtoms      uint8
	Disposition uint32

	Exception uint16
	Resume    uint8

	Reason  uint8
	IsLSiP  bool

	changeRecord ChangeKind
}

// Raise sticky-sets a change bit. Internal to the decoders; a consumer
// never raises its own bits, only clears them via TakeChange.
func (s *State) Raise(kind ChangeKind) {
	s.changeRecord |= kind
}

// TakeChange tests and clears a single change bit, returning whether it was
// set. Idempotent: calling it twice in a row for the same kind returns
// true then false, matching spec.md §8 invariant 3 ("at most once per
// set").
func (s *State) TakeChange(kind ChangeKind) bool {
	wasSet := s.changeRecord&kind != 0
	s.changeRecord &^= kind
	return wasSet
}

// Pending reports whether a change bit is set without clearing it.
func (s *State) Pending(kind ChangeKind) bool {
	return s.changeRecord&kind != 0
}

// ClearChanges drops every pending change bit. Called once, by the ETM
// decoder, the moment the very first I-Sync is received - any bits raised
// while accumulators were still running before rxedISYNC became true are
// not meaningful to a consumer that never saw a message for them.
func (s *State) ClearChanges() {
	s.changeRecord = 0
}
