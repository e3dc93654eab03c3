package adapters

import (
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"depvault/internal/types"
)

func testRequest(id string, state types.RequestState) types.Request {
	return types.Request{
		ID:              id,
		RepoURL:         "https://git.example.com/app.git",
		Ref:             "1111111111111111111111111111111111111111",
		PackageManagers: []types.PackageManagerInput{{Type: types.EcosystemGomod}},
		State:           state,
		Created:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Updated:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRequestStoreFileCreateGet(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	want := testRequest("req1", types.RequestStateNotStarted)

	require.NoError(t, store.Create(t.Context(), want))

	got, err := store.Get(t.Context(), "req1")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(want, got))
}

func TestRequestStoreFileCreateDuplicate(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	require.NoError(t, store.Create(t.Context(), testRequest("req1", types.RequestStateNotStarted)))

	err := store.Create(t.Context(), testRequest("req1", types.RequestStateNotStarted))
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))
}

func TestRequestStoreFileCreateEmptyID(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	err := store.Create(t.Context(), testRequest("  ", types.RequestStateNotStarted))
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestRequestStoreFileGetAbsent(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	_, err := store.Get(t.Context(), "nope")
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestRequestStoreFileSaveRequiresExisting(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	err := store.Save(t.Context(), testRequest("req1", types.RequestStateComplete))
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestRequestStoreFileClaimOnce(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	require.NoError(t, store.Create(t.Context(), testRequest("req1", types.RequestStateNotStarted)))

	claimed, err := store.Claim(t.Context(), "req1")
	require.NoError(t, err)
	require.Equal(t, types.RequestStateInProgress, claimed.State)
	require.Equal(t, "the request is being processed", claimed.StateReason)

	// The transition persists, so the second claim fails on state alone.
	_, err = store.Claim(t.Context(), "req1")
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))
}

func TestRequestStoreFileClaimMarkerBlocksRace(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	require.NoError(t, store.Create(t.Context(), testRequest("req1", types.RequestStateNotStarted)))

	_, err := store.Claim(t.Context(), "req1")
	require.NoError(t, err)

	// Reset the record to not_started without touching the marker, as
	// if a competing worker read a stale record. The marker still wins.
	reset := testRequest("req1", types.RequestStateNotStarted)
	require.NoError(t, store.Save(t.Context(), reset))
	_, err = store.Claim(t.Context(), "req1")
	require.Error(t, err)
	require.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))

	// Releasing the claim frees the marker for a legitimate retry.
	require.NoError(t, store.ReleaseClaim(t.Context(), "req1"))
	claimed, err := store.Claim(t.Context(), "req1")
	require.NoError(t, err)
	require.Equal(t, types.RequestStateInProgress, claimed.State)
}

func TestRequestStoreFileReleaseClaimAbsent(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	require.NoError(t, store.ReleaseClaim(t.Context(), "never-claimed"))
}

func TestRequestStoreFileList(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir())
	require.NoError(t, store.Create(t.Context(), testRequest("b", types.RequestStateComplete)))
	require.NoError(t, store.Create(t.Context(), testRequest("a", types.RequestStateFailed)))
	require.NoError(t, store.Create(t.Context(), testRequest("c", types.RequestStateNotStarted)))

	all, err := store.List(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "b", all[1].ID)
	require.Equal(t, "c", all[2].ID)

	terminal, err := store.List(t.Context(), types.RequestStateComplete, types.RequestStateFailed)
	require.NoError(t, err)
	require.Len(t, terminal, 2)
	require.Equal(t, "a", terminal[0].ID)
	require.Equal(t, "b", terminal[1].ID)
}

func TestRequestStoreFileListEmptyDir(t *testing.T) {
	store := NewRequestStoreFileAdapter(t.TempDir() + "/never-created")
	requests, err := store.List(t.Context())
	require.NoError(t, err)
	require.Empty(t, requests)
}
