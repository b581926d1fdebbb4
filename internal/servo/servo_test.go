package servo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.report/internal/packets"
)

func TestSetExtended_ImmediatelyReachesMaxExtension(t *testing.T) {
	act := NewMockActuator()
	s := New(act, 20*time.Millisecond)

	require.NoError(t, s.SetExtended())
	assert.Equal(t, packets.ExtensionMaxExtension, s.CurrentExtension())
}

func TestSetExtended_SettlesToNoBuzzAfterDelay(t *testing.T) {
	act := NewMockActuator()
	s := New(act, 10*time.Millisecond)

	require.NoError(t, s.SetExtended())
	assert.Eventually(t, func() bool {
		return s.CurrentExtension() == packets.ExtensionMaxNoBuzz
	}, time.Second, time.Millisecond)
}

func TestSetRetracted_IsSymmetric(t *testing.T) {
	act := NewMockActuator()
	s := New(act, 10*time.Millisecond)

	require.NoError(t, s.SetRetracted())
	assert.Equal(t, packets.ExtensionMinExtension, s.CurrentExtension())
	assert.Eventually(t, func() bool {
		return s.CurrentExtension() == packets.ExtensionMinNoBuzz
	}, time.Second, time.Millisecond)
}

func TestRepeatedSetExtended_ResetsSilenceTimer(t *testing.T) {
	act := NewMockActuator()
	s := New(act, 30*time.Millisecond)

	require.NoError(t, s.SetExtended())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.SetExtended()) // resets the timer before it fires
	assert.Equal(t, packets.ExtensionMaxExtension, s.CurrentExtension())

	time.Sleep(20 * time.Millisecond)
	// Original timer would have fired by ~30ms from the first call; since
	// it was reset, we should still be at MAX_EXTENSION at t=40ms.
	assert.Equal(t, packets.ExtensionMaxExtension, s.CurrentExtension())

	assert.Eventually(t, func() bool {
		return s.CurrentExtension() == packets.ExtensionMaxNoBuzz
	}, time.Second, time.Millisecond)
}

func TestExtendThenRetract_CancelsPendingNoBuzzTimer(t *testing.T) {
	act := NewMockActuator()
	s := New(act, 15*time.Millisecond)

	require.NoError(t, s.SetExtended())
	require.NoError(t, s.SetRetracted())
	assert.Equal(t, packets.ExtensionMinExtension, s.CurrentExtension())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, packets.ExtensionMinNoBuzz, s.CurrentExtension())

	hist := act.History()
	for _, e := range hist {
		assert.NotEqual(t, packets.ExtensionMaxNoBuzz, e)
	}
}

func TestEncoderReading_TracksActuator(t *testing.T) {
	act := NewMockActuator()
	s := New(act, 10*time.Millisecond)
	require.NoError(t, s.SetExtended())
	assert.Equal(t, int(packets.ExtensionMaxExtension)*100, s.GetEncoderReading())
}

func TestClose_CancelsPendingTimer(t *testing.T) {
	act := NewMockActuator()
	s := New(act, 10*time.Millisecond)
	require.NoError(t, s.SetExtended())
	require.NoError(t, s.Close())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, packets.ExtensionMaxExtension, s.CurrentExtension())
}
