package tracking

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, creds Credentials) *SQLiteTracker {
	t.Helper()
	tr, err := OpenSQLite(":memory:", creds, nil)
	require.NoError(t, err)
	return tr
}

func TestSQLiteTrackerRun(t *testing.T) {
	tr := openMemory(t, Credentials{})
	_, err := uuid.Parse(tr.RunID())
	require.NoError(t, err)

	require.NoError(t, tr.SetName("baseline"))
	var name, project string
	require.NoError(t, tr.db.QueryRow("SELECT name, project FROM runs WHERE id=?", tr.RunID()).Scan(&name, &project))
	assert.Equal(t, "baseline", name)
	assert.Equal(t, "", project)

	require.NoError(t, tr.Close())
}

func TestSQLiteTrackerCredentials(t *testing.T) {
	tr := openMemory(t, Credentials{APIKey: "secret", ProjectName: "solar", Workspace: "lab"})
	defer tr.Close()

	var project, workspace string
	require.NoError(t, tr.db.QueryRow("SELECT project, workspace FROM runs WHERE id=?", tr.RunID()).Scan(&project, &workspace))
	assert.Equal(t, "solar", project)
	assert.Equal(t, "lab", workspace)
	assert.True(t, Credentials{APIKey: "x"}.Remote())
	assert.False(t, Credentials{ProjectName: "x"}.Remote())
}

func TestSQLiteTrackerParameters(t *testing.T) {
	tr := openMemory(t, Credentials{})
	defer tr.Close()

	require.NoError(t, tr.LogParameters(map[string]interface{}{
		"lr":       0.1,
		"bs":       32,
		"channels": []int{0, 1, 2},
	}))
	require.NoError(t, tr.LogParameters(map[string]interface{}{"bs": 16}))

	values := map[string]string{}
	rows, err := tr.db.Query("SELECT key, value FROM params WHERE run_id=?", tr.RunID())
	require.NoError(t, err)
	for rows.Next() {
		var k, v string
		require.NoError(t, rows.Scan(&k, &v))
		values[k] = v
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, map[string]string{"lr": "0.1", "bs": "16", "channels": "[0 1 2]"}, values)
}

func TestSQLiteTrackerMetrics(t *testing.T) {
	tr := openMemory(t, Credentials{})
	defer tr.Close()

	require.NoError(t, tr.LogMetrics(0, map[string]float64{"val_iou": math.NaN(), "val_loss": 1.5}))
	require.NoError(t, tr.LogMetrics(1, map[string]float64{"val_iou": 0.4, "val_loss": math.Inf(1)}))
	require.NoError(t, tr.LogMetrics(2, map[string]float64{"val_iou": 0.6, "val_loss": 0.9}))

	iou, err := tr.Metric("val_iou")
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 0.4, 2: 0.6}, iou)

	loss, err := tr.Metric("val_loss")
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 1.5, 2: 0.9}, loss)
}

func TestNopTracker(t *testing.T) {
	var tr Tracker = Nop{}
	assert.NoError(t, tr.SetName("x"))
	assert.NoError(t, tr.LogMetrics(0, map[string]float64{"a": 1}))
	assert.NoError(t, tr.Close())
}
