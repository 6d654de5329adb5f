package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracedecode/internal/state"
)

func newSyncedETM(t *testing.T, cfg Config) *Decoder {
	t.Helper()
	cfg.Protocol = ProtocolETM35
	d, err := NewDecoder(cfg)
	require.NoError(t, err)
	d.ForceSync(true)
	return d
}

// pumpISync drives a minimal normal I-Sync (no context bytes, given
// address; ARM mode for an even address, THUMB for an odd one) so
// rxedISYNC becomes true for later scenarios.
func pumpISync(t *testing.T, d *Decoder, addr uint32) {
	t.Helper()
	buf := []byte{0x08, 0x00, byte(addr), byte(addr >> 8), byte(addr >> 16), byte(addr >> 24)}
	require.NoError(t, d.Pump(buf, nil, nil))
}

func TestScenario1_ASyncRecovery(t *testing.T) {
	d, err := NewDecoder(Config{Protocol: ProtocolETM35})
	require.NoError(t, err)

	called := false
	err = d.Pump([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80}, func(*state.State) { called = true }, nil)
	require.NoError(t, err)

	assert.True(t, d.IsSynced(), "decoder should sync on >=5 zero bytes followed by 0x80")
	assert.False(t, called, "A-Sync sequence must not invoke onMessage")
}

func TestScenario2_Trigger(t *testing.T) {
	d := newSyncedETM(t, Config{})
	pumpISync(t, d, 0)

	var calls int
	var last *state.State
	err := d.Pump([]byte{0x0C}, func(s *state.State) { calls++; last = s }, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.NotNil(t, last)
	assert.True(t, last.TakeChange(state.Trigger))
}

func TestScenario4_PHeaderFormat1(t *testing.T) {
	d := newSyncedETM(t, Config{})
	pumpISync(t, d, 0)

	var got *state.State
	err := d.Pump([]byte{0xCC}, func(s *state.State) { got = s }, nil)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.EqualValues(t, 3, got.EAtoms)
	assert.EqualValues(t, 1, got.NAtoms)
	assert.EqualValues(t, 0b111, got.Disposition)
	assert.True(t, got.TakeChange(state.ENAtoms))
}

func TestScenario5_ISyncARMAddress(t *testing.T) {
	d := newSyncedETM(t, Config{})

	var got *state.State
	err := d.Pump([]byte{0x08, 0x00, 0x00, 0x00, 0x00, 0x20}, func(s *state.State) { got = s }, nil)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, state.ARM, got.AddrMode)
	assert.EqualValues(t, 0x20000000, got.Addr)
	assert.True(t, got.TakeChange(state.Address))
}

func TestScenario3_ThumbBranchAddress(t *testing.T) {
	d := newSyncedETM(t, Config{})
	// I-Sync with an odd address puts the decoder in THUMB mode before
	// the branch-address packet is collected.
	pumpISync(t, d, 0x00000001)

	var got *state.State
	err := d.Pump([]byte{0x81, 0x02, 0x00}, func(s *state.State) { got = s }, nil)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.EqualValues(t, 0x100, got.Addr)
	assert.True(t, got.TakeChange(state.Address))
}

func TestScenario6_MTBPair(t *testing.T) {
	d, err := NewDecoder(Config{Protocol: ProtocolMTB})
	require.NoError(t, err)

	var calls int
	var last *state.State
	onMsg := func(s *state.State) { calls++; last = s }

	buf := make([]byte, 0, 16)
	buf = append(buf, le32Bytes(0x00000001)...)
	buf = append(buf, le32Bytes(0x08000101)...)
	require.NoError(t, d.Pump(buf, onMsg, nil))
	assert.Equal(t, 0, calls, "the first pair only seeds nextAddr, it never emits")
	assert.EqualValues(t, 0x08000101, d.GetCPUState().NextAddr)
	assert.True(t, d.GetCPUState().TakeChange(state.TraceStart))

	buf = buf[:0]
	buf = append(buf, le32Bytes(0x08000200)...)
	buf = append(buf, le32Bytes(0x08000300)...)
	require.NoError(t, d.Pump(buf, onMsg, nil))

	require.Equal(t, 1, calls)
	assert.EqualValues(t, 0x08000100, last.Addr)
	assert.EqualValues(t, 0x08000200, last.ToAddr)
	assert.True(t, last.TakeChange(state.ExEntry))
}

func TestSetProtocolReinitialises(t *testing.T) {
	d, err := NewDecoder(Config{Protocol: ProtocolETM35})
	require.NoError(t, err)
	d.ForceSync(true)
	require.True(t, d.IsSynced())

	require.NoError(t, d.SetProtocol(ProtocolMTB))
	assert.False(t, d.IsSynced(), "switching protocol reinitialises the new side as unsynced")
}

func TestForceSyncStats(t *testing.T) {
	d, err := NewDecoder(Config{Protocol: ProtocolETM35})
	require.NoError(t, err)

	d.ForceSync(true)
	d.ForceSync(true) // no-op: already synced
	assert.EqualValues(t, 1, d.GetStats().SyncCount)

	d.ForceSync(false)
	d.ForceSync(false) // no-op: already unsynced
	assert.EqualValues(t, 1, d.GetStats().LostSyncCount)
}

func TestUnsupportedProtocolRejected(t *testing.T) {
	_, err := NewDecoder(Config{Protocol: Protocol(99)})
	require.Error(t, err)
}

func le32Bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
