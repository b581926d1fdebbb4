package fplog

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.report/internal/imu"
	"github.com/banshee-data/velocity.report/internal/packets"
)

func estPacket(ns int64) imu.Packet {
	return imu.Packet{Estimated: &packets.EstimatedIMUPacket{TimestampNs: ns, EstPressureAlt: 100}}
}

func readAllRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestNew_CreatesFirstLogFileWithHeader(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 10, 10, 5)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	rows := readAllRows(t, filepath.Join(dir, "log_1.csv"))
	require.Len(t, rows, 1)
	assert.Equal(t, packets.FieldOrder, rows[0])
}

func TestNew_SecondLoggerIncrementsSuffix(t *testing.T) {
	dir := t.TempDir()
	l1, err := New(dir, 10, 10, 5)
	require.NoError(t, err)
	require.NoError(t, l1.Start(context.Background()))
	require.NoError(t, l1.Stop())

	l2, err := New(dir, 10, 10, 5)
	require.NoError(t, err)
	require.NoError(t, l2.Start(context.Background()))
	require.NoError(t, l2.Stop())

	_, err = os.Stat(filepath.Join(dir, "log_1.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "log_2.csv"))
	assert.NoError(t, err)
}

func TestLog_OneRowPerIMUPacketPreservingOrder(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 1000, 1000, 1)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	ctxPkt := packets.ContextDataPacket{State: packets.StateMotorBurn}
	batch := []imu.Packet{estPacket(1), estPacket(2), estPacket(3)}
	procBatch := []packets.ProcessorDataPacket{{CurrentAltitude: 1}, {CurrentAltitude: 2}, {CurrentAltitude: 3}}

	l.Log(ctxPkt, packets.ServoDataPacket{}, batch, procBatch, nil)
	require.NoError(t, l.Stop())

	rows := readAllRows(t, filepath.Join(dir, "log_1.csv"))
	require.Len(t, rows, 4) // header + 3
}

func TestLog_IdleBufferingCapsRowsThenFlushesOnStateChange(t *testing.T) {
	dir := t.TempDir()
	const idleCap = 5
	const bufSize = 20
	l, err := New(dir, idleCap, bufSize, 1)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	standby := packets.ContextDataPacket{State: packets.StateStandby}
	for i := 0; i < 15; i++ {
		l.Log(standby, packets.ServoDataPacket{}, []imu.Packet{estPacket(int64(i))}, []packets.ProcessorDataPacket{{}}, nil)
	}
	// idleCap rows went to the queue; the remaining 10 sit in the ring buffer.
	assert.True(t, len(l.ring) <= bufSize)
	assert.Equal(t, 10, len(l.ring))

	motorBurn := packets.ContextDataPacket{State: packets.StateMotorBurn}
	l.Log(motorBurn, packets.ServoDataPacket{}, []imu.Packet{estPacket(100)}, []packets.ProcessorDataPacket{{}}, nil)

	require.NoError(t, l.Stop())

	rows := readAllRows(t, filepath.Join(dir, "log_1.csv"))
	// header + idleCap (flushed immediately) + 10 (ring, flushed on transition) + 1 (motor burn row)
	assert.Equal(t, 1+idleCap+10+1, len(rows))
}

func TestLog_ApogeePacketsPopFrontUntilExhausted(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 1000, 1000, 1)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	ctxPkt := packets.ContextDataPacket{State: packets.StateCoast}
	batch := []imu.Packet{estPacket(1), estPacket(2), estPacket(3)}
	procBatch := []packets.ProcessorDataPacket{{}, {}, {}}
	apogeeBatch := []packets.ApogeePredictorDataPacket{{PredictedApogee: 1200}}

	rows := prepareLoggerPackets(ctxPkt, packets.ServoDataPacket{}, batch, procBatch, apogeeBatch)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].HasApogee)
	assert.False(t, rows[1].HasApogee)
	assert.False(t, rows[2].HasApogee)

	_ = l.Stop()
}

func TestStop_IsIdempotentAndBounded(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 10, 10, 5)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		l.Stop()
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return in time")
	}
}

func TestToCSVRow_FloatsUseEightDecimalPlaces(t *testing.T) {
	row := packets.LoggerDataPacket{IsEstimated: true, EstPressureAlt: 123.5}
	cells := toCSVRow(row)
	idx := 0
	for i, name := range packets.FieldOrder {
		if name == "est_pressure_alt" {
			idx = i
			break
		}
	}
	assert.Equal(t, "123.50000000", cells[idx])
}
