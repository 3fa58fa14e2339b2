package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDerivesKindAndCreatedBy(t *testing.T) {
	v := New()
	f := v.Write("agents/writer.md", "hello", WriteMeta{Author: "agents/lead.md", ActivationID: "a1"})
	assert.Equal(t, KindAgent, f.Kind)
	assert.Equal(t, "agents/lead.md", f.CreatedBy)
	assert.Len(t, f.Versions, 1)
	assert.Empty(t, f.Versions[0].Diff)
}

func TestWriteAppendsVersionsWithDiff(t *testing.T) {
	v := New()
	v.Write("artifacts/report.md", "line1\nline2", WriteMeta{Author: "a"})
	v.Write("artifacts/report.md", "line1\nline2\nline3", WriteMeta{Author: "a"})

	versions := v.GetVersions("artifacts/report.md")
	require.Len(t, versions, 2)
	assert.Empty(t, versions[0].Diff)
	assert.Contains(t, versions[1].Diff, "+line3")

	content, ok := v.Read("artifacts/report.md")
	require.True(t, ok)
	assert.Equal(t, "line1\nline2\nline3", content)
}

func TestWriteIdempotentContentStillAppendsVersion(t *testing.T) {
	v := New()
	v.Write("artifacts/x.md", "same", WriteMeta{Author: "a"})
	v.Write("artifacts/x.md", "same", WriteMeta{Author: "a"})
	versions := v.GetVersions("artifacts/x.md")
	require.Len(t, versions, 2)
	assert.Empty(t, versions[1].Diff)
}

func TestListSorted(t *testing.T) {
	v := New()
	v.Write("artifacts/b.md", "b", WriteMeta{})
	v.Write("artifacts/a.md", "a", WriteMeta{})
	v.Write("agents/z.md", "z", WriteMeta{})

	assert.Equal(t, []string{"artifacts/a.md", "artifacts/b.md"}, v.List("artifacts/"))
}

func TestDeleteRemovesFromLiveMapNotHistory(t *testing.T) {
	v := New()
	v.Write("artifacts/x.md", "v1", WriteMeta{})
	versionsBefore := v.GetVersions("artifacts/x.md")

	v.Delete("artifacts/x.md")
	assert.False(t, v.Exists("artifacts/x.md"))
	assert.NotEmpty(t, versionsBefore)
}

func TestGetExistingPrefixes(t *testing.T) {
	v := New()
	v.Write("agents/a.md", "x", WriteMeta{})
	v.Write("artifacts/b.md", "y", WriteMeta{})
	assert.ElementsMatch(t, []string{"agents", "artifacts"}, v.GetExistingPrefixes())
}

func TestSubscribeReceivesBeforeAfterSnapshots(t *testing.T) {
	v := New()
	var gotNew, gotPrev State
	v.Subscribe(func(newState, prevState State) {
		gotNew = newState
		gotPrev = prevState
	})
	v.Write("artifacts/x.md", "v1", WriteMeta{})
	assert.Empty(t, gotPrev)
	assert.Equal(t, "v1", gotNew["artifacts/x.md"])

	v.Write("artifacts/x.md", "v2", WriteMeta{})
	assert.Equal(t, "v1", gotPrev["artifacts/x.md"])
	assert.Equal(t, "v2", gotNew["artifacts/x.md"])
}

func TestKindDerivation(t *testing.T) {
	cases := map[string]Kind{
		"agents/a.md":    KindAgent,
		"memory/m.json":  KindMemory,
		"artifacts/a.md": KindArtifact,
		"workflows/w.md": KindWorkflow,
		"other/x.md":     KindUnknown,
	}
	for path, want := range cases {
		v := New()
		f := v.Write(path, "c", WriteMeta{})
		assert.Equal(t, want, f.Kind, path)
	}
}
