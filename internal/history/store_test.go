package history_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsundo/internal/history"
	"wsundo/internal/testutil"
	"wsundo/internal/undo"
)

type fixture struct {
	*testutil.Stack
}

func newFixture(t *testing.T, opts ...testutil.StackOption) *fixture {
	t.Helper()
	return &fixture{Stack: testutil.NewStack(t, opts...)}
}

func at(minute int) time.Time {
	return time.Date(2025, 5, 1, 10, minute, 0, 0, time.UTC)
}

func (f *fixture) record(t *testing.T, p undo.Path, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, f.History.Record(context.Background(), p, strings.NewReader(content), mod, "UTF-8"))
}

func readState(t *testing.T, s undo.HistoryState) string {
	t.Helper()
	rc, err := s.Content()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestStore_RecordAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, "/p/a.txt", "first", at(1))
	f.record(t, "/p/a.txt", "third", at(3))
	f.record(t, "/p/a.txt", "second", at(2))
	f.record(t, "/p/other.txt", "other", at(9))

	states, err := f.History.History(ctx, "/p/a.txt")
	require.NoError(t, err)
	require.Len(t, states, 3)

	var got []string
	for _, s := range states {
		got = append(got, readState(t, s))
		assert.True(t, s.Exists())
		assert.Equal(t, "UTF-8", s.Charset())
	}
	assert.Equal(t, []string{"third", "second", "first"}, got)
	assert.True(t, at(3).Equal(states[0].ModificationTime()))
}

func TestStore_EqualTimesNewestRecordedFirst(t *testing.T) {
	f := newFixture(t)
	f.record(t, "/p/a.txt", "older", at(5))
	f.record(t, "/p/a.txt", "newer", at(5))

	states, err := f.History.History(context.Background(), "/p/a.txt")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "newer", readState(t, states[0]))
	assert.Equal(t, "id-2", states[0].ID())
}

func TestStore_DeduplicatesContent(t *testing.T) {
	f := newFixture(t)
	f.record(t, "/p/a.txt", "same", at(1))
	f.record(t, "/p/b.txt", "same", at(2))

	assert.Equal(t, 1, f.Vault.ContentCount())
	checksum := mustState(t, f, "/p/b.txt").Checksum()
	assert.Equal(t, testutil.SHA256Hex([]byte("same")), checksum)
	refs, err := f.DB.CountContentReferences(checksum)
	require.NoError(t, err)
	assert.Equal(t, 2, refs)
}

func mustState(t *testing.T, f *fixture, p undo.Path) *history.State {
	t.Helper()
	states, err := f.History.History(context.Background(), p)
	require.NoError(t, err)
	require.NotEmpty(t, states)
	return states[0].(*history.State)
}

func TestStore_Prune(t *testing.T) {
	f := newFixture(t, testutil.WithMaxStates(2))
	f.record(t, "/p/a.txt", "v1", at(1))
	f.record(t, "/p/b.txt", "v2", at(1))
	f.record(t, "/p/a.txt", "v2", at(2))
	f.record(t, "/p/a.txt", "v3", at(3))

	states, err := f.History.History(context.Background(), "/p/a.txt")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "v3", readState(t, states[0]))
	assert.Equal(t, "v2", readState(t, states[1]))

	// v1 is gone; v2 is still used by both files.
	assert.Equal(t, 2, f.Vault.ContentCount())

	gone, err := f.History.FindState(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStore_FindState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, "/p/a.txt", "content", at(1))

	s, err := f.History.FindState(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "content", readState(t, s))

	missing, err := f.History.FindState(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_MissingVaultContent(t *testing.T) {
	f := newFixture(t)
	f.record(t, "/p/a.txt", "content", at(1))
	s := mustState(t, f, "/p/a.txt")

	require.NoError(t, f.Vault.DeleteContent(s.Checksum()))
	assert.False(t, s.Exists())
	_, err := s.Content()
	assert.ErrorIs(t, err, history.ErrContentNotFound)

	// Recording the same content again repairs the vault.
	f.record(t, "/p/a.txt", "content", at(2))
	assert.True(t, s.Exists())
}

func TestStore_Encrypted(t *testing.T) {
	f := newFixture(t, testutil.WithEncryption())
	enc := f.Encryptor
	f.record(t, "/p/a.txt", "secret", at(1))
	s := mustState(t, f, "/p/a.txt")

	var raw bytes.Buffer
	require.NoError(t, f.Vault.GetContent(s.Checksum(), &raw))
	assert.NotEqual(t, "secret", raw.String())
	assert.Equal(t, 1, enc.Encrypted())

	assert.False(t, s.Exists(), "encrypted content is unreadable while locked")
	_, err := s.Content()
	assert.Error(t, err)

	dc, err := enc.Unlock("")
	require.NoError(t, err)
	f.History.Unlock(dc)
	assert.True(t, s.Exists())
	assert.Equal(t, "secret", readState(t, s))
}

func TestStore_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.History.Record(ctx, "/p/a.txt", strings.NewReader("x"), at(1), "")
	assert.ErrorIs(t, err, undo.ErrCanceled)
	_, err = f.History.History(ctx, "/p/a.txt")
	assert.ErrorIs(t, err, undo.ErrCanceled)
}

// TestStore_RestoresDeletedFile deletes a file through the workspace and
// recreates it from its description, with content resolved from history.
func TestStore_RestoresDeletedFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ws := f.Workspace
	mon := undo.NopMonitor{}

	require.NoError(t, ws.CreateProject(ctx, "/p", nil, mon))
	require.NoError(t, ws.OpenProject(ctx, "/p", mon))
	require.NoError(t, ws.CreateFile(ctx, "/p/a.txt", strings.NewReader("version one"), mon))
	require.NoError(t, ws.SetContents(ctx, "/p/a.txt", strings.NewReader("version two")))
	require.NoError(t, ws.SetLocalTimestamp("/p/a.txt", at(30)))
	require.NoError(t, ws.SetCharset("/p/a.txt", "UTF-16"))
	_, err := f.DB.CreateMarker("/p/a.txt", "bookmark", map[string]any{"line": float64(3)})
	require.NoError(t, err)

	desc, err := undo.Describe(f.Env(), "/p/a.txt")
	require.NoError(t, err)
	require.NoError(t, ws.Delete(ctx, "/p/a.txt"))

	file := desc.(*undo.FileDescription)
	assert.False(t, file.IsValid(), "content is unknown before consulting history")
	require.NoError(t, desc.RecordStateFromHistory(ctx, "/p/a.txt", mon))
	require.True(t, desc.IsValid())

	_, err = desc.CreateResource(ctx, mon)
	require.NoError(t, err)

	data, err := afero.ReadFile(f.FS, "/p/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "version two", string(data))

	info, err := ws.Info("/p/a.txt")
	require.NoError(t, err)
	assert.True(t, at(30).Equal(info.LocalTimestamp))
	assert.Equal(t, "UTF-16", info.Charset)
	assert.Equal(t, int64(1), info.ModificationStamp)

	markers, err := f.DB.FindMarkers("/p/a.txt")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "bookmark", markers[0].Type)
	assert.Equal(t, float64(3), markers[0].Attributes["line"])
}
