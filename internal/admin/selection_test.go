package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRecords struct {
	deleted [][]string
	err     error
}

func (f *fakeRecords) DeleteCheckins(_ context.Context, ids []string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.deleted = append(f.deleted, ids)
	return int64(len(ids)), nil
}

type fakeBlobRemover struct {
	removed [][]string
	err     error
}

func (f *fakeBlobRemover) Remove(_ context.Context, paths []string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, paths)
	return nil
}

func pair(n string) Pair {
	return Pair{CheckinID: "id-" + n, PhotoPath: "u/2024-03-09/" + n + ".jpg"}
}

func TestToggleRoundTripLeavesSetUnchanged(t *testing.T) {
	store := NewMemorySelection()
	c := NewCoordinator(store, &fakeRecords{}, &fakeBlobRemover{})
	ctx := context.Background()

	selected, err := c.Toggle(ctx, "s1", pair("a"))
	require.NoError(t, err)
	require.True(t, selected)

	selected, err = c.Toggle(ctx, "s1", pair("a"))
	require.NoError(t, err)
	require.False(t, selected)

	members, err := c.Selection(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestSelectionIsPerSession(t *testing.T) {
	store := NewMemorySelection()
	c := NewCoordinator(store, &fakeRecords{}, &fakeBlobRemover{})
	ctx := context.Background()

	_, err := c.Toggle(ctx, "s1", pair("a"))
	require.NoError(t, err)

	members, err := c.Selection(ctx, "s2")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestCommitRequiresConfirmation(t *testing.T) {
	c := NewCoordinator(NewMemorySelection(), &fakeRecords{}, &fakeBlobRemover{})
	_, err := c.Commit(context.Background(), "s1", false)
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestCommitDeletesRowsThenBlobsAndClears(t *testing.T) {
	store := NewMemorySelection()
	records := &fakeRecords{}
	blobs := &fakeBlobRemover{}
	c := NewCoordinator(store, records, blobs)
	ctx := context.Background()

	_, err := c.Toggle(ctx, "s1", pair("a"))
	require.NoError(t, err)
	_, err = c.Toggle(ctx, "s1", pair("b"))
	require.NoError(t, err)

	result, err := c.Commit(ctx, "s1", true)
	require.NoError(t, err)
	require.EqualValues(t, 2, result.RowsDeleted)
	require.Equal(t, 2, result.BlobsDeleted)

	require.Len(t, records.deleted, 1)
	require.ElementsMatch(t, []string{"id-a", "id-b"}, records.deleted[0])
	require.Len(t, blobs.removed, 1)
	require.ElementsMatch(t, []string{"u/2024-03-09/a.jpg", "u/2024-03-09/b.jpg"}, blobs.removed[0])

	members, err := c.Selection(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestCommitEmptySelectionIsNoop(t *testing.T) {
	records := &fakeRecords{}
	blobs := &fakeBlobRemover{}
	c := NewCoordinator(NewMemorySelection(), records, blobs)

	result, err := c.Commit(context.Background(), "s1", true)
	require.NoError(t, err)
	require.Zero(t, result.RowsDeleted)
	require.Empty(t, records.deleted)
	require.Empty(t, blobs.removed)
}

func TestCommitRowFailureKeepsSelectionAndSkipsBlobs(t *testing.T) {
	store := NewMemorySelection()
	records := &fakeRecords{err: errors.New("db down")}
	blobs := &fakeBlobRemover{}
	c := NewCoordinator(store, records, blobs)
	ctx := context.Background()

	_, err := c.Toggle(ctx, "s1", pair("a"))
	require.NoError(t, err)

	_, err = c.Commit(ctx, "s1", true)
	require.Error(t, err)
	require.Empty(t, blobs.removed)

	members, err := c.Selection(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestCommitBlobFailureKeepsSelection(t *testing.T) {
	store := NewMemorySelection()
	records := &fakeRecords{}
	blobs := &fakeBlobRemover{err: errors.New("storage down")}
	c := NewCoordinator(store, records, blobs)
	ctx := context.Background()

	_, err := c.Toggle(ctx, "s1", pair("a"))
	require.NoError(t, err)

	result, err := c.Commit(ctx, "s1", true)
	require.Error(t, err)
	// Rows went first and are gone; the selection survives for a retry.
	require.EqualValues(t, 1, result.RowsDeleted)

	members, err := c.Selection(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestPairEncodingRoundTrip(t *testing.T) {
	p := pair("a")
	decoded, err := decodePair(encodePair(p))
	require.NoError(t, err)
	require.Equal(t, p, decoded)

	_, err = decodePair("no-separator")
	require.Error(t, err)
}
