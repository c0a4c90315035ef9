package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/carewatch/interaction"
	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/registry"
)

func updateWith(seq uint64, tracks []string, lost []string, events ...string) Update {
	u := Update{Seq: seq, Lost: lost}
	for _, id := range tracks {
		u.Tracks = append(u.Tracks, registry.TrackUpdate{Track: mot.Track{ID: id}})
	}
	for _, id := range events {
		u.Interactions = append(u.Interactions, interaction.Event{ID: id})
	}
	return u
}

func TestMailboxDropOldest(t *testing.T) {
	t.Parallel()

	m := NewMailbox(2)
	require.True(t, m.Offer(updateWith(1, []string{"T-0001"}, nil, "e1")))
	require.True(t, m.Offer(updateWith(2, []string{"T-0001"}, []string{"T-0009"})))
	require.True(t, m.Offer(updateWith(3, []string{"T-0009"}, []string{"T-0001"}, "e3")))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, uint64(1), m.Dropped())

	ctx := context.Background()
	first, ok := m.Receive(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(2), first.Seq)

	second, ok := m.Receive(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(3), second.Seq)
	// Events of the dropped update are carried over in order
	require.Len(t, second.Interactions, 2)
	assert.Equal(t, "e1", second.Interactions[0].ID)
	assert.Equal(t, "e3", second.Interactions[1].ID)
}

func TestMailboxCoalesceLost(t *testing.T) {
	t.Parallel()

	m := NewMailbox(1)
	m.Offer(updateWith(1, nil, []string{"T-0001", "T-0002"}))
	m.Offer(updateWith(2, []string{"T-0002"}, []string{"T-0003", "T-0001"}))
	got, ok := m.Receive(context.Background(), time.Second)
	require.True(t, ok)
	// T-0002 is back in the newer update, so it is not lost anymore
	assert.Equal(t, []string{"T-0001", "T-0003"}, got.Lost)
}

func TestMailboxReceiveTimeout(t *testing.T) {
	t.Parallel()

	m := NewMailbox(1)
	start := time.Now()
	_, ok := m.Receive(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok = m.Receive(ctx, time.Hour)
	assert.False(t, ok)
}

func TestMailboxClose(t *testing.T) {
	t.Parallel()

	m := NewMailbox(4)
	m.Offer(updateWith(1, nil, nil))
	m.Close()
	m.Close()
	assert.False(t, m.Offer(updateWith(2, nil, nil)))
	assert.False(t, m.Drained())

	got, ok := m.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Seq)
	assert.True(t, m.Drained())
	_, ok = m.Receive(context.Background(), time.Second)
	assert.False(t, ok)
}

func TestMailboxNeverBlocksProducer(t *testing.T) {
	t.Parallel()

	m := NewMailbox(3)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			m.Offer(updateWith(uint64(i), nil, nil))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked on a full mailbox")
	}
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, uint64(997), m.Dropped())
}
