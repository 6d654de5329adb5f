// Package trace is the pump facade that routes raw trace bytes into the
// ETMv3.5 or MTB decoder according to configured protocol, and the sync
// control surface both protocols share (component E + F of the design).
package trace

import (
	"fmt"

	"tracedecode/common"
	"tracedecode/internal/etm35"
	"tracedecode/internal/mtb"
	"tracedecode/internal/state"
)

// Protocol selects which on-the-wire trace format a Decoder interprets.
type Protocol int

const (
	ProtocolETM35 Protocol = iota
	ProtocolMTB
)

func (p Protocol) String() string {
	switch p {
	case ProtocolETM35:
		return "ETMv3.5"
	case ProtocolMTB:
		return "MTB"
	default:
		return "unknown"
	}
}

// Stats tracks cumulative sync/desync counts across a Decoder's lifetime.
type Stats struct {
	SyncCount     uint64
	LostSyncCount uint64
}

// Config configures a Decoder at Init time.
type Config struct {
	Protocol           Protocol
	UsingAltAddrEncode bool
	ContextBytes       int
	CycleAccurate      bool
	DataOnlyMode       bool
}

// Decoder is the top-level entry point: it owns exactly one of an
// etm35.Decoder or an mtb.Decoder (never both) and dispatches Pump's input
// to whichever is configured. One Decoder instance decodes one trace
// source; it is not safe for concurrent use.
type Decoder struct {
	protocol Protocol
	etm      *etm35.Decoder
	mtbDec   *mtb.Decoder
	stats    Stats
	logger   common.Logger
}

// NewDecoder constructs and initialises a Decoder per cfg.
func NewDecoder(cfg Config) (*Decoder, error) {
	d := &Decoder{}
	if err := d.Init(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Init zeroes all decoder state and applies cfg, as if newly constructed.
func (d *Decoder) Init(cfg Config) error {
	if err := validateProtocol(cfg.Protocol); err != nil {
		return err
	}
	d.protocol = cfg.Protocol
	d.stats = Stats{}

	switch cfg.Protocol {
	case ProtocolETM35:
		d.etm = etm35.NewDecoder(etm35.NewConfig(cfg.ContextBytes, cfg.UsingAltAddrEncode, cfg.CycleAccurate, cfg.DataOnlyMode))
		d.mtbDec = nil
	case ProtocolMTB:
		d.mtbDec = mtb.NewDecoder()
		d.etm = nil
	}
	return nil
}

func validateProtocol(p Protocol) error {
	if p != ProtocolETM35 && p != ProtocolMTB {
		return common.NewError(common.SeverityError, common.ErrHWCfgUnsupp, "unsupported protocol value %d", int(p))
	}
	return nil
}

// SetProtocol validates and switches the active protocol, re-initialising
// whichever decoder backs it from a default Config: UsingAltAddrEncode and
// the other grammar settings return to their zero values and Stats is reset.
// Call Init to switch protocol with other settings.
func (d *Decoder) SetProtocol(p Protocol) error {
	if err := validateProtocol(p); err != nil {
		return err
	}
	// A protocol switch starts the new side fresh; grammar settings
	// (alt addressing, context width, ...) must be reapplied via Init.
	return d.Init(Config{Protocol: p})
}

// SetAltAddrEncode flips the alternate branch-address encoding for the
// ETM side in place, per spec.md §6 ("Store"). It is a no-op when MTB is
// active, and leaves rxedISYNC, the CPU-state snapshot, and every other
// Config field untouched.
func (d *Decoder) SetAltAddrEncode(alt bool) {
	if d.etm == nil {
		return
	}
	d.etm.SetAltAddrEncode(alt)
}

// SetLogger attaches a persistent diagnostic sink. Unlike the onReport
// closure Pump takes per call, a Logger stays attached across calls until
// replaced; Pump falls back to it when called with a nil onReport.
func (d *Decoder) SetLogger(l common.Logger) {
	d.logger = l
}

// ZeroStats resets the sync/lost-sync counters without touching decode
// state.
func (d *Decoder) ZeroStats() {
	d.stats = Stats{}
}

// GetStats returns a copy of the current statistics.
func (d *Decoder) GetStats() Stats {
	return d.stats
}

// IsSynced reports whether the active protocol decoder has left UNSYNCED.
func (d *Decoder) IsSynced() bool {
	if d.etm != nil {
		return d.etm.IsSynced()
	}
	return d.mtbDec.IsSynced()
}

// ForceSync drives the sync state machine directly and updates Stats to
// match, per the transition rules in §4.F: force_sync(true) only counts
// from UNSYNCED, force_sync(false) only counts from a synced state.
func (d *Decoder) ForceSync(sync bool) {
	var changed bool
	if d.etm != nil {
		changed = d.etm.ForceSync(sync)
	} else {
		changed = d.mtbDec.ForceSync(sync)
	}
	if !changed {
		return
	}
	if sync {
		d.stats.SyncCount++
	} else {
		d.stats.LostSyncCount++
	}
}

// GetCPUState returns the active protocol decoder's CPU-state record.
func (d *Decoder) GetCPUState() *state.State {
	if d.etm != nil {
		return d.etm.State()
	}
	return d.mtbDec.State()
}

// StateChanged tests and clears one change bit on the active CPU-state.
func (d *Decoder) StateChanged(kind state.ChangeKind) bool {
	return d.GetCPUState().TakeChange(kind)
}

// Pump processes buf, dispatching one octet at a time to the ETM decoder
// or, for MTB, one 8-byte little-endian (source, dest) pair at a time. For
// MTB, any trailing bytes that don't form a full pair are left unconsumed
// by design - the caller's framing layer is responsible for alignment.
// onMessage fires synchronously, at most once per completed message; it
// must not call back into Pump on this same Decoder.
func (d *Decoder) Pump(buf []byte, onMessage func(*state.State), onReport common.ReportFunc) error {
	if onReport == nil && d.logger != nil {
		onReport = common.LoggerReportFunc(d.logger)
	}

	switch d.protocol {
	case ProtocolETM35:
		if d.etm == nil {
			return common.NewError(common.SeverityError, common.ErrNotInit, "decoder not initialised for ETMv3.5")
		}
		for _, c := range buf {
			d.etm.PumpByte(c, onMessage, onReport)
		}
	case ProtocolMTB:
		if d.mtbDec == nil {
			return common.NewError(common.SeverityError, common.ErrNotInit, "decoder not initialised for MTB")
		}
		for len(buf) > 7 {
			source := le32(buf[0:4])
			dest := le32(buf[4:8])
			d.mtbDec.PumpPair(source, dest, onMessage)
			buf = buf[8:]
		}
	default:
		return common.NewError(common.SeverityError, common.ErrHWCfgUnsupp, "pump called with unsupported protocol %d", int(d.protocol))
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// String renders a one-line human summary of the active protocol, sync
// state and statistics. The decoder itself never calls it.
func (d *Decoder) String() string {
	return fmt.Sprintf("trace.Decoder{protocol=%s synced=%v stats=%+v}", d.protocol, d.IsSynced(), d.stats)
}
