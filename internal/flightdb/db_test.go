package flightdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RunsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var tableCount int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('flight_run','state_transition')`).Scan(&tableCount)
	require.NoError(t, err)
	assert.Equal(t, 2, tableCount)
}

func TestStartRun_AndRecordStateTransition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	runID, err := db.StartRun("mock", "log_1.csv", 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	require.NoError(t, db.RecordStateTransition(runID, "M", 2000))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM state_transition WHERE run_id = ?`, runID).Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, db.EndRun(runID, 9000))
	var ended int64
	require.NoError(t, db.QueryRow(`SELECT ended_unix_nanos FROM flight_run WHERE run_id = ?`, runID).Scan(&ended))
	assert.Equal(t, int64(9000), ended)
}
