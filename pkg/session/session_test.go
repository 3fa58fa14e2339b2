package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRegisterGetComplete(t *testing.T) {
	st := NewStore()
	s := &Session{AgentID: "agents/a.md", ActivationID: "act-1", Status: StatusRunning}
	st.Register(s)

	got, ok := st.Get("act-1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, st.ActiveCount())

	st.Complete("act-1")
	assert.Equal(t, 0, st.ActiveCount())
	assert.Len(t, st.Completed(), 1)

	_, ok = st.Get("act-1")
	assert.False(t, ok)
}

func TestSessionAppendHistoryAndTokens(t *testing.T) {
	s := &Session{Status: StatusRunning}
	s.AppendHistory(NewUserMessage("hi"))
	s.AppendHistory(NewModelMessage("hello"))
	s.AddTokens(10)

	hist := s.HistorySnapshot()
	require.Len(t, hist, 2)
	assert.Equal(t, MessageUser, hist[0].Kind)
	assert.Equal(t, MessageModel, hist[1].Kind)
	assert.Equal(t, 10, s.TokenCount)
}

func TestCancellationPropagatesFromParent(t *testing.T) {
	parentCtx, parentCancel := context.WithCancel(context.Background())
	h := NewCancellationHandle(parentCtx)
	assert.False(t, h.Cancelled())
	parentCancel()
	assert.True(t, h.Cancelled())
}

func TestCancellationHandleAbort(t *testing.T) {
	h := NewCancellationHandle(context.Background())
	assert.False(t, h.Cancelled())
	h.Abort()
	assert.True(t, h.Cancelled())
}

func TestStoreClearResets(t *testing.T) {
	st := NewStore()
	st.Register(&Session{ActivationID: "a"})
	st.Complete("a")
	st.Clear()
	assert.Empty(t, st.Completed())
	assert.Equal(t, 0, st.ActiveCount())
}
