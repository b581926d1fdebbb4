package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.report/internal/packets"
)

func hoverBatch(n int, startNs int64) []*packets.EstimatedIMUPacket {
	batch := make([]*packets.EstimatedIMUPacket, n)
	for i := range batch {
		batch[i] = &packets.EstimatedIMUPacket{
			TimestampNs:          startNs + int64(i)*1_000_000,
			EstPressureAlt:       100,
			OrientQuatW:          1,
			EstCompensatedAccelZ: -9.798,
		}
	}
	return batch
}

func TestUpdate_EmptyBatchIsNoOp(t *testing.T) {
	d := New(9.798, 0.3)
	out := d.Update(nil)
	assert.Empty(t, out)
	assert.Equal(t, 0.0, d.CurrentAltitude())
}

func TestUpdate_ReturnsOnePacketPerInput(t *testing.T) {
	d := New(9.798, 0.3)
	batch := hoverBatch(10, 0)
	out := d.Update(batch)
	require.Len(t, out, 10)
}

func TestUpdate_FirstBatchZeroesAltitude(t *testing.T) {
	d := New(9.798, 0.3)
	batch := hoverBatch(4, 0)
	batch[0].EstPressureAlt = 90
	batch[1].EstPressureAlt = 100
	batch[2].EstPressureAlt = 100
	batch[3].EstPressureAlt = 110
	// mean == 100
	out := d.Update(batch)
	assert.InDelta(t, -10, out[0].CurrentAltitude, 1e-9)
	assert.InDelta(t, 10, out[3].CurrentAltitude, 1e-9)
}

func TestUpdate_MaxAltitudeAndVelocityAreMonotonic(t *testing.T) {
	d := New(9.798, 0.3)
	prevMaxAlt, prevMaxVel := -1e18, -1e18
	ts := int64(0)
	for i := 0; i < 5; i++ {
		batch := hoverBatch(20, ts)
		ts += 20_000_000
		// Vary altitude so maxima actually move.
		for j, p := range batch {
			p.EstPressureAlt = 100 + float64(i*20+j)
		}
		d.Update(batch)
		assert.GreaterOrEqual(t, d.MaxAltitude(), prevMaxAlt)
		assert.GreaterOrEqual(t, d.MaxVerticalVelocity(), prevMaxVel)
		prevMaxAlt = d.MaxAltitude()
		prevMaxVel = d.MaxVerticalVelocity()
	}
}

func TestUpdate_HoverStaysNearZeroVelocity(t *testing.T) {
	d := New(9.798, 0.3)
	ts := int64(0)
	for i := 0; i < 50; i++ {
		batch := hoverBatch(20, ts)
		ts += 20_000_000
		d.Update(batch)
	}
	assert.Less(t, d.VerticalVelocity(), 2.0)
	assert.Greater(t, d.VerticalVelocity(), -2.0)
}

func TestUpdate_AverageVerticalAccelerationTracksConstantInput(t *testing.T) {
	d := New(9.798, 0.3)
	ts := int64(0)
	for i := 0; i < 5; i++ {
		batch := hoverBatch(20, ts)
		ts += 20_000_000
		d.Update(batch)
	}
	// Hovering at a constant world-vertical acceleration should leave the
	// running mean close to that constant, not just the last sample.
	assert.InDelta(t, 9.798, d.AverageVerticalAcceleration(), 1e-6)
}

func TestUpdate_PreservesOrderAcrossIterationBoundary(t *testing.T) {
	d := New(9.798, 0.3)
	first := hoverBatch(5, 0)
	d.Update(first)

	second := hoverBatch(5, 5_000_000)
	out := d.Update(second)
	require.Len(t, out, 5)
	// Time since last packet must reflect continuity, not a reset to zero.
	assert.InDelta(t, 0.001, out[0].TimeSinceLastPacket, 1e-9)
}
