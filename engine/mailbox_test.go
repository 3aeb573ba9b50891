package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailbox_PutGet(t *testing.T) {
	m := NewMailbox()
	m.Put(FilesPayload([]string{"a.txt", "b.txt"}))

	got := m.Get()
	require.False(t, got.Kill)
	require.Equal(t, []string{"a.txt", "b.txt"}, got.Files)
}

func TestMailbox_KillPayload(t *testing.T) {
	m := NewMailbox()
	m.Put(KillPayload)

	got := m.Get()
	require.True(t, got.Kill)
	require.Empty(t, got.Files)
}

func TestMailbox_GetBlocksUntilPut(t *testing.T) {
	m := NewMailbox()

	done := make(chan Payload, 1)
	go func() { done <- m.Get() }()

	select {
	case <-done:
		t.Fatal("Get returned before any Put")
	case <-time.After(20 * time.Millisecond):
	}

	m.Put(FilesPayload([]string{"x"}))

	select {
	case p := <-done:
		require.Equal(t, []string{"x"}, p.Files)
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Put")
	}
}

func TestMailbox_Clear(t *testing.T) {
	m := NewMailbox()

	// clearing an empty mailbox is a no-op
	m.Clear()

	m.Put(FilesPayload([]string{"stale"}))
	m.Clear()

	m.Put(FilesPayload([]string{"fresh"}))
	got := m.Get()
	require.Equal(t, []string{"fresh"}, got.Files)
}
