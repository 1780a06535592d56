package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/config"
	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/srtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePLC models PLC memory as a flat map of absolute word address to
// value, so a write at plcStart+i only ever touches that one address and
// leaves its neighbors alone, matching the real PLCClient's addressing.
type fakePLC struct {
	mu       sync.Mutex
	words    map[uint16]uint16
	writes   int
	connects int
}

func newFakePLC(start uint16, initial []uint16) *fakePLC {
	f := &fakePLC{words: map[uint16]uint16{}}
	for i, v := range initial {
		f.words[start+uint16(i)] = v
	}
	return f
}

func (f *fakePLC) Connect(_ context.Context) bool { f.connects++; return true }
func (f *fakePLC) Disconnect()                    {}

func (f *fakePLC) ReadRegisters(_ context.Context, plcStart uint16, count uint16, _ srtp.MemoryArea) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.words[plcStart+uint16(i)]
	}
	return out, nil
}

func (f *fakePLC) WriteRegisters(_ context.Context, plcStart uint16, values []uint16, _ srtp.MemoryArea) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range values {
		f.words[plcStart+uint16(i)] = v
	}
	f.writes++
	return true, nil
}

func (f *fakePLC) snapshot(start uint16, count int) []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.words[start+uint16(i)]
	}
	return out
}

type fakeModbus struct {
	mu          sync.Mutex
	words       map[uint16]uint16
	connects    int
	failConnect bool
}

func newFakeModbus(start uint16, initial []uint16) *fakeModbus {
	m := &fakeModbus{words: map[uint16]uint16{}}
	for i, v := range initial {
		m.words[start+uint16(i)] = v
	}
	return m
}

func (f *fakeModbus) Connect(_ context.Context) error {
	f.connects++
	if f.failConnect {
		return errFakeModbusConnect
	}
	return nil
}

var errFakeModbusConnect = errors.New("fakeModbus: connect failed")

func (f *fakeModbus) Disconnect() error { return nil }

func (f *fakeModbus) ReadHoldingBlock(_ context.Context, mbStart uint16, count uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.words[mbStart+uint16(i)]
	}
	return out, nil
}

func (f *fakeModbus) WriteSingleRegister(_ context.Context, mbStart uint16, value uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.words[mbStart] = value
	return nil
}

func testPlcConfig() config.PlcConfig {
	return config.PlcConfig{
		IP: "127.0.0.1",
		Maps: []config.RegisterSyncMapping{
			{PLCArea: 0x08, PLCStart: 1, ModbusStart: 0, Count: 3},
		},
	}
}

func TestSynchronizer_FirstTick_SeedsModbusFromPLC(t *testing.T) {
	plc := newFakePLC(1, []uint16{10, 20, 30})
	mb := newFakeModbus(0, []uint16{0, 0, 0})

	s := New(plc, mb, testPlcConfig(), time.Millisecond, nil)
	require.NoError(t, s.tick(context.Background()))

	got, err := mb.ReadHoldingBlock(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 20, 30}, got)
}

func TestSynchronizer_FirstTick_OnlyWritesDifferingIndices(t *testing.T) {
	// spec.md S5: plc=[1,2,3], mb=[4,5,3] -> indices 0 and 1 are written,
	// one single-register call each. WriteToModbusCount counts area passes
	// that wrote to Modbus, not registers, so it goes up by one.
	plc := newFakePLC(1, []uint16{1, 2, 3})
	mb := newFakeModbus(0, []uint16{4, 5, 3})

	s := New(plc, mb, testPlcConfig(), time.Millisecond, nil)
	require.NoError(t, s.tick(context.Background()))

	got, err := mb.ReadHoldingBlock(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3}, got)
	assert.Equal(t, uint64(1), s.Statistics().WriteToModbusCount)
}

func TestSynchronizer_PLCChangePropagatesToModbus(t *testing.T) {
	plc := newFakePLC(1, []uint16{10, 20, 30})
	mb := newFakeModbus(0, []uint16{10, 20, 30})

	s := New(plc, mb, testPlcConfig(), time.Millisecond, nil)
	require.NoError(t, s.tick(context.Background())) // seed, no-op since equal

	plc.mu.Lock()
	plc.words[1] = 99
	plc.mu.Unlock()

	require.NoError(t, s.tick(context.Background()))
	got, err := mb.ReadHoldingBlock(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{99, 20, 30}, got)
	assert.Equal(t, uint64(1), s.Statistics().WriteToModbusCount)
}

func TestSynchronizer_ModbusChangePropagatesToPLC(t *testing.T) {
	plc := newFakePLC(1, []uint16{10, 20, 30})
	mb := newFakeModbus(0, []uint16{10, 20, 30})

	s := New(plc, mb, testPlcConfig(), time.Millisecond, nil)
	require.NoError(t, s.tick(context.Background()))

	mb.mu.Lock()
	mb.words[2] = 77
	mb.mu.Unlock()

	require.NoError(t, s.tick(context.Background()))
	got := plc.snapshot(1, 3)
	assert.Equal(t, []uint16{10, 20, 77}, got)
	assert.Equal(t, uint64(1), s.Statistics().WriteToPLCCount)
}

func TestSynchronizer_IndependentChangesAtDifferentIndicesBothWrite(t *testing.T) {
	plc := newFakePLC(1, []uint16{10, 20, 30})
	mb := newFakeModbus(0, []uint16{10, 20, 30})

	s := New(plc, mb, testPlcConfig(), time.Millisecond, nil)
	require.NoError(t, s.tick(context.Background()))

	plc.mu.Lock()
	plc.words[1] = 99
	plc.mu.Unlock()
	mb.mu.Lock()
	mb.words[2] = 77
	mb.mu.Unlock()

	require.NoError(t, s.tick(context.Background()))

	gotMb, err := mb.ReadHoldingBlock(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{99, 20, 30}, gotMb)
	assert.Equal(t, []uint16{99, 20, 77}, plc.snapshot(1, 3))
	assert.Equal(t, uint64(1), s.Statistics().WriteToModbusCount)
	assert.Equal(t, uint64(1), s.Statistics().WriteToPLCCount)
}

func TestSynchronizer_Run_ReturnsErrorWhenRetriesExhausted(t *testing.T) {
	plc := newFakePLC(1, []uint16{1, 2, 3})
	mb := newFakeModbus(0, []uint16{1, 2, 3})
	mb.failConnect = true

	s := New(plc, mb, testPlcConfig(), time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after exhausting its default zero retries")
	}
}

func TestSynchronizer_Run_StopsOnContextCancel(t *testing.T) {
	plc := newFakePLC(1, []uint16{1, 2, 3})
	mb := newFakeModbus(0, []uint16{1, 2, 3})

	s := New(plc, mb, testPlcConfig(), time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
