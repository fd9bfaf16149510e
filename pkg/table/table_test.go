package table

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumns(t *testing.T) {
	cols := Columns([]Row{{"b": "1"}, {"a": "2", "b": "3"}})
	assert.Equal(t, []string{"a", "b"}, cols)
	assert.Empty(t, Columns(nil))
}

func TestWriteDirReadFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tables", "PATIENT_ds1")
	rows := []Row{
		{"patient_id": "P1", "age": "61", "uuid": "u1"},
		{"patient_id": "P2", "uuid": "u2"},
	}

	path, err := WriteDir(dir, "PATIENT_ds1", nil, rows)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, PartFile), path)

	cols, got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "patient_id", "uuid"}, cols)
	require.Len(t, got, 2)
	assert.Equal(t, rows[0], got[0])
	_, hasAge := got[1]["age"]
	assert.False(t, hasAge, "missing values read back as null")
	assert.Equal(t, "P2", got[1]["patient_id"])

	// Rewriting replaces the previous table.
	_, err = WriteDir(dir, "PATIENT_ds1", []string{"patient_id", "uuid", "notes"}, rows[:1])
	require.NoError(t, err)
	cols, got, err = ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []string{"notes", "patient_id", "uuid"}, cols, "explicit columns are kept even when empty")
}

func TestWrite_NoColumns(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, "empty", nil, []Row{{}}))
}
