package sync

import (
	"testing"

	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/config"
	"github.com/stretchr/testify/assert"
)

func testMapping() config.RegisterSyncMapping {
	return config.RegisterSyncMapping{PLCStart: 1, ModbusStart: 0, Count: 3}
}

func testMappingSwap() config.RegisterSyncMapping {
	m := testMapping()
	m.SwapBytes = true
	return m
}

func TestArea_Reconcile_FirstRun_OnlyWritesDifferingIndices(t *testing.T) {
	// spec.md S5: plc=[1,2,3], mb=[4,5,3] -> two writes, at indices 0 and 1.
	a := NewArea(testMapping())

	plan := a.Reconcile([]uint16{1, 2, 3}, []uint16{4, 5, 3})
	assert.Equal(t, []Write{{Index: 0, Value: 1}, {Index: 1, Value: 2}}, plan.ToModbus)
	assert.Nil(t, plan.ToPLC)
}

func TestArea_Reconcile_NoChangeIsIdempotent(t *testing.T) {
	a := NewArea(testMapping())
	a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 2, 3})

	plan := a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 2, 3})
	assert.Nil(t, plan.ToModbus)
	assert.Nil(t, plan.ToPLC)
}

func TestArea_Reconcile_PLCChangePropagatesToModbus(t *testing.T) {
	a := NewArea(testMapping())
	a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 2, 3})

	plan := a.Reconcile([]uint16{9, 2, 3}, []uint16{1, 2, 3})
	assert.Equal(t, []Write{{Index: 0, Value: 9}}, plan.ToModbus)
	assert.Nil(t, plan.ToPLC)
}

func TestArea_Reconcile_ModbusChangePropagatesToPLC(t *testing.T) {
	a := NewArea(testMapping())
	a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 2, 3})

	plan := a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 2, 77})
	assert.Equal(t, []Write{{Index: 2, Value: 77}}, plan.ToPLC)
	assert.Nil(t, plan.ToModbus)
}

func TestArea_Reconcile_PLCWinsOnSameIndexConflict(t *testing.T) {
	a := NewArea(testMapping())
	a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 2, 3})

	plan := a.Reconcile([]uint16{9, 2, 3}, []uint16{77, 2, 3})
	assert.Equal(t, []Write{{Index: 0, Value: 9}}, plan.ToModbus)
	assert.Nil(t, plan.ToPLC)
}

// The spec's own worked conflict scenario over a multi-word mapping: index
// 0 changes only on the PLC side, index 2 changes only on the Modbus side,
// in the same tick. Both writes must be issued; neither may mask the
// other.
func TestArea_Reconcile_IndependentChangesAtDifferentIndicesBothWrite(t *testing.T) {
	a := NewArea(testMapping())
	a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 2, 3})

	plan := a.Reconcile([]uint16{9, 2, 3}, []uint16{1, 2, 77})
	assert.Equal(t, []Write{{Index: 0, Value: 9}}, plan.ToModbus)
	assert.Equal(t, []Write{{Index: 2, Value: 77}}, plan.ToPLC)
}

func TestArea_Reconcile_SwapBytes_EqualAfterSwapIsNoOp(t *testing.T) {
	// spec.md S3: plc=[0x00FF], mb=[0xFF00], swap=true -> deemed equal, zero writes.
	a := NewArea(testMappingSwap())

	plan := a.Reconcile([]uint16{0x00FF}, []uint16{0xFF00})
	assert.Nil(t, plan.ToModbus)
	assert.Nil(t, plan.ToPLC)
}

func TestArea_Reconcile_SwapBytes_PLCChangeWritesSwappedValue(t *testing.T) {
	a := NewArea(testMappingSwap())
	a.Reconcile([]uint16{0x00FF}, []uint16{0xFF00})

	plan := a.Reconcile([]uint16{0x00AA}, []uint16{0xFF00})
	assert.Equal(t, []Write{{Index: 0, Value: 0xAA00}}, plan.ToModbus)
	assert.Nil(t, plan.ToPLC)
}

func TestArea_Reconcile_DeadArm_NeitherSnapshotMovedButStillDiffers(t *testing.T) {
	a := NewArea(testMapping())
	a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 2, 3})

	// Simulate a previously corrupted last_mb snapshot (e.g. an earlier
	// write silently failed): index 1's last_mb already disagrees with
	// last_plc, so this tick's reads match their respective stale
	// snapshots exactly (neither side "changed") yet still disagree with
	// each other.
	a.lastMB[1] = 5

	plan := a.Reconcile([]uint16{1, 2, 3}, []uint16{1, 5, 3})
	assert.Equal(t, []Write{{Index: 1, Value: 2}}, plan.ToModbus)
	assert.Nil(t, plan.ToPLC)
}
