package etm35

// Protocol selects which on-the-wire trace protocol a Decoder interprets.
type Protocol int

const (
	ProtoETM35 Protocol = iota
	ProtoMTB
)

func (p Protocol) String() string {
	switch p {
	case ProtoETM35:
		return "ETMv3.5"
	case ProtoMTB:
		return "MTB"
	default:
		return "unknown"
	}
}

// Config holds the hardware/trace-capture parameters that shape packet
// grammar. Unlike the teacher's etmv3.Config, which wraps raw ETM control
// registers (RegIDR, RegCtrl, RegCCER, ...) and derives flags from them,
// this decoder is driven directly by the protocol's own parameters - there
// is no ETM register model to decode here. Fields are unexported and read
// through accessor methods, mirroring the teacher's IsCycleAcc()/
// CtxtIDBytes()/IsAltBranch() style, so construction always goes through
// NewConfig.
type Config struct {
	// contextBytes is the configured width of context-ID fields in the
	// stream: 0, 1, 2 or 4.
	contextBytes int

	// usingAltAddrEncode selects the alternate branch-address
	// continuation-byte bit layout over the standard one.
	usingAltAddrEncode bool

	// cycleAccurate selects the cycle-accurate P-header grammar
	// (Formats 0-4) over the non-cycle-accurate one (Formats 1-2).
	cycleAccurate bool

	// dataOnlyMode suppresses the 4 address bytes of the I-Sync sequence.
	dataOnlyMode bool
}

// NewConfig builds a Config from the protocol's own parameters: the
// context-ID field width, the alternate branch-address encoding flag, the
// cycle-accurate P-header grammar flag, and the data-only I-Sync flag.
func NewConfig(contextBytes int, usingAltAddrEncode, cycleAccurate, dataOnlyMode bool) Config {
	return Config{
		contextBytes:       contextBytes,
		usingAltAddrEncode: usingAltAddrEncode,
		cycleAccurate:      cycleAccurate,
		dataOnlyMode:       dataOnlyMode,
	}
}

// DefaultConfig returns the configuration of a decoder that has seen no
// explicit setup: no context-ID bytes, standard branch addressing,
// non-cycle-accurate P-headers, full (non-data-only) I-Sync.
func DefaultConfig() Config {
	return Config{}
}

// ContextBytes returns the configured width of context-ID fields in the
// stream: 0, 1, 2 or 4.
func (c Config) ContextBytes() int { return c.contextBytes }

// AltAddrEncode reports whether the alternate branch-address
// continuation-byte bit layout is in use.
func (c Config) AltAddrEncode() bool { return c.usingAltAddrEncode }

// CycleAccurate reports whether the cycle-accurate P-header grammar
// (Formats 0-4) is in use, rather than the non-cycle-accurate one
// (Formats 1-2).
func (c Config) CycleAccurate() bool { return c.cycleAccurate }

// DataOnlyMode reports whether the I-Sync sequence's 4 address bytes are
// suppressed.
func (c Config) DataOnlyMode() bool { return c.dataOnlyMode }

// WithAltAddrEncode returns a copy of c with usingAltAddrEncode set to alt.
// Used by Decoder.SetAltAddrEncode to flip the flag in place without
// disturbing any other Config field.
func (c Config) WithAltAddrEncode(alt bool) Config {
	c.usingAltAddrEncode = alt
	return c
}
