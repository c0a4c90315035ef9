package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/carewatch/interaction"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func event(id, patientIdentity string, at time.Time) interaction.Event {
	return interaction.Event{
		ID:                id,
		StaffTrackID:      "T-0001",
		PatientTrackID:    "T-0002",
		StaffIdentityID:   "",
		PatientIdentityID: patientIdentity,
		Start:             at.Add(-3 * time.Second),
		At:                at,
		Duration:          3 * time.Second,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	events := []interaction.Event{
		event("e1", "P-001", base),
		event("e2", "P-002", base.Add(time.Minute)),
		event("e3", "P-001", base.Add(2*time.Minute)),
	}
	for _, e := range events {
		require.NoError(t, store.RecordInteraction(ctx, e))
	}
	// Duplicate delivery is ignored
	require.NoError(t, store.RecordInteraction(ctx, events[0]))

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	want := []interaction.Event{events[2], events[1]}
	if diff := cmp.Diff(want, recent); diff != "" {
		t.Errorf("unexpected recent events (-want +got):\n%s", diff)
	}

	forPatient, err := store.ForPatient(ctx, "P-001", base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, forPatient, 1)
	assert.Equal(t, "e3", forPatient[0].ID)

	at, ok, err := store.LastInteraction(ctx, "P-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(base.Add(2*time.Minute)))

	_, ok, err = store.LastInteraction(ctx, "P-404")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordInteraction(ctx, event("e1", "P-001", time.Now().UTC())))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
