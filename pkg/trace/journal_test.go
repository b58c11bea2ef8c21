package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []OpRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []OpRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec OpRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestJournal_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	w, err := OpenJournal(path, 0)
	require.NoError(t, err)

	for i, op := range []string{"capture", "search"} {
		require.NoError(t, w.Record(&OpRecord{
			At:        time.Now(),
			OpID:      "op-" + op,
			Op:        op,
			ElapsedMs: int64(i + 1),
			Stages: []StageRecord{
				{Name: "embed", ElapsedMs: 1, Counters: map[string]int64{"dimension": 384}},
			},
		}))
	}
	require.NoError(t, w.Close())
	// Close is idempotent.
	require.NoError(t, w.Close())

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "capture", records[0].Op)
	assert.Equal(t, "search", records[1].Op)
	assert.Equal(t, "embed", records[0].Stages[0].Name)
	assert.Equal(t, int64(384), records[0].Stages[0].Counters["dimension"])
}

func TestJournal_ResumesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")

	w, err := OpenJournal(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.Record(&OpRecord{Op: "capture"}))
	require.NoError(t, w.Close())

	w, err = OpenJournal(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.Record(&OpRecord{Op: "search"}))
	require.NoError(t, w.Close())

	assert.Len(t, readRecords(t, path), 2)
}

func TestJournal_RollsOverAtCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	// Cap small enough that every record after the first rolls the file.
	w, err := OpenJournal(path, 64)
	require.NoError(t, err)

	ids := map[string]interface{}{"nodeId": "0123456789abcdef-padding-padding"}
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Record(&OpRecord{Op: "rescore", IDs: ids}))
	}
	require.NoError(t, w.Close())

	// One prior generation, one live file.
	old, err := os.Stat(path + ".old")
	require.NoError(t, err)
	assert.Greater(t, old.Size(), int64(0))

	live := readRecords(t, path)
	assert.Len(t, live, 1)
}

func TestJournal_ClosedRefusesWrites(t *testing.T) {
	w, err := OpenJournal(filepath.Join(t.TempDir(), "ops.jsonl"), 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Record(&OpRecord{Op: "capture"}))
}

func TestNopWriter(t *testing.T) {
	w := Nop()
	assert.NoError(t, w.Record(&OpRecord{Op: "capture"}))
	assert.NoError(t, w.Close())
}

func TestOpRecord_ErrorShape(t *testing.T) {
	rec := &OpRecord{
		ErrKind: "provider-failure",
		Stages:  []StageRecord{{Name: "embed", ErrKind: "provider-failure"}},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"errKind":"provider-failure"`)
}
