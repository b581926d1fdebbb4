package imu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.report/internal/packets"
)

func buildTrace(n int) []*packets.EstimatedIMUPacket {
	trace := make([]*packets.EstimatedIMUPacket, n)
	for i := range trace {
		trace[i] = &packets.EstimatedIMUPacket{
			TimestampNs:          int64(i) * int64(time.Millisecond),
			EstPressureAlt:       100,
			OrientQuatW:          1,
			EstCompensatedAccelZ: -9.798,
			HasPressureAlt:       true,
			HasOrientation:       true,
			HasCompensatedAccel:  true,
		}
	}
	return trace
}

func TestMockSource_ProducesPacketsInOrder(t *testing.T) {
	gen := NewSyntheticGenerator(buildTrace(5))
	src := NewMockSource(gen, time.Millisecond, 100, 50*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, src.Start(ctx))
	defer src.Stop()

	var got []Packet
	deadline := time.After(2 * time.Second)
	for len(got) < 5 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for packets, got %d", len(got))
		default:
		}
		got = append(got, src.GetMany(true, 5)...)
	}

	require.Len(t, got, 5)
	for i, p := range got {
		require.NotNil(t, p.Estimated)
		assert.Equal(t, int64(i)*int64(time.Millisecond), p.Estimated.TimestampNs)
	}
}

func TestQueueWorker_GetManyNonBlockingReturnsEmptyOnEmptyQueue(t *testing.T) {
	w := newQueueWorker(10, 10*time.Millisecond)
	got := w.GetMany(false, 5)
	assert.Empty(t, got)
}

func TestQueueWorker_GetManyBlockingTimesOutOnEmptyQueue(t *testing.T) {
	w := newQueueWorker(10, 10*time.Millisecond)
	start := time.Now()
	got := w.GetMany(true, 5)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestMockSource_StopIsIdempotentAndBounded(t *testing.T) {
	gen := NewSyntheticGenerator(buildTrace(1))
	src := NewMockSource(gen, time.Millisecond, 10, 10*time.Millisecond)
	require.NoError(t, src.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		src.Stop()
		src.Stop() // second stop must be safe / effectively a no-op
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return within bounded time")
	}
}

func TestDecodeFrame_RawVsEstimatedBySet(t *testing.T) {
	raw := Frame{
		DescriptorSet: packets.DescriptorSetRaw,
		TimestampNs:   1,
		DataPoints: []DataPoint{
			{FieldID: fieldScaledAccel, Qualifier: 3, Value: -9.8, Valid: true},
			{FieldID: fieldScaledGyro, Qualifier: 1, Value: 0.1, Valid: false, ChannelName: "scaledGyroX"},
		},
	}
	pkt := decodeFrame(raw)
	require.NotNil(t, pkt.Raw)
	assert.Equal(t, -9.8, pkt.Raw.ScaledAccelZ)
	assert.True(t, pkt.Raw.HasScaledAccel)
	assert.Contains(t, pkt.Raw.InvalidFields, "scaledGyroX")

	est := Frame{
		DescriptorSet: packets.DescriptorSetEstimated,
		TimestampNs:   2,
		DataPoints: []DataPoint{
			{FieldID: fieldEstOrientQuat, Qualifier: 1, Value: 1, Valid: true},
			{FieldID: fieldEstCompensatedAccel, Qualifier: 3, Value: -9.798, Valid: true},
		},
	}
	pkt2 := decodeFrame(est)
	require.NotNil(t, pkt2.Estimated)
	assert.Equal(t, 1.0, pkt2.Estimated.OrientQuatW)
	assert.Equal(t, -9.798, pkt2.Estimated.EstCompensatedAccelZ)
}
