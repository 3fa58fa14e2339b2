package workingmemory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteNoopsWithoutActiveRun(t *testing.T) {
	s := New()
	s.Write(WriteInput{Key: "k", Value: "v"})
	assert.Empty(t, s.Read("", nil))
}

func TestInitRunClearsAndActivates(t *testing.T) {
	s := New()
	s.InitRun("run-1")
	s.Write(WriteInput{Key: "progress", Value: "started", Author: "agents/a.md"})
	entries := s.Read("", nil)
	assert.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, uint64(1), entries[0].ID)
}

func TestReadMatchesKeyOrValueCaseInsensitive(t *testing.T) {
	s := New()
	s.InitRun("run-1")
	s.Write(WriteInput{Key: "Status", Value: "done"})
	s.Write(WriteInput{Key: "other", Value: "unrelated"})

	assert.Len(t, s.Read("status", nil), 1)
	assert.Len(t, s.Read("DONE", nil), 1)
	assert.Empty(t, s.Read("missing", nil))
}

func TestReadTagFilterIsOR(t *testing.T) {
	s := New()
	s.InitRun("run-1")
	s.Write(WriteInput{Key: "a", Value: "x", Tags: []string{"mistake"}})
	s.Write(WriteInput{Key: "b", Value: "y", Tags: []string{"note"}})

	assert.Len(t, s.Read("", []string{"mistake", "note"}), 2)
	assert.Len(t, s.Read("", []string{"mistake"}), 1)
	assert.Empty(t, s.Read("", []string{"unused"}))
}

func TestReadSortedByTimestampDescending(t *testing.T) {
	s := New()
	s.InitRun("run-1")
	s.Write(WriteInput{Key: "first", Value: "1"})
	time.Sleep(2 * time.Millisecond)
	s.Write(WriteInput{Key: "second", Value: "2"})

	entries := s.Read("", nil)
	assert.Equal(t, "second", entries[0].Key)
	assert.Equal(t, "first", entries[1].Key)
}

func TestEndRunReturnsSnapshotAndClears(t *testing.T) {
	s := New()
	s.InitRun("run-1")
	s.Write(WriteInput{Key: "a", Value: "b"})

	snap := s.EndRun()
	assert.Equal(t, "run-1", snap.RunID)
	assert.Len(t, snap.Entries, 1)
	assert.False(t, s.Active())
	assert.Empty(t, s.Read("", nil))
}
