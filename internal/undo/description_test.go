package undo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createCalls returns the recorded calls that create something.
func createCalls(ws *fakeWorkspace) []string {
	var out []string
	for _, c := range ws.calls {
		if strings.HasPrefix(c, "Create") || strings.HasPrefix(c, "OpenProject") {
			out = append(out, c)
		}
	}
	return out
}

func TestFileDescription_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	ws.addFolder("/p/src")
	file := Path("/p/src/a.txt")
	ws.addFile(file, "hello", 7, baseTime)
	ws.entries[file].info.Charset = "ISO-8859-1"
	ws.entries[file].info.Attributes = &Attributes{ReadOnly: true}
	_, err := ws.CreateMarker(file, "task", map[string]any{"message": "fix me"})
	require.NoError(t, err)

	d, err := Describe(ws.env(), file)
	require.NoError(t, err)
	fd, ok := d.(*FileDescription)
	require.True(t, ok)
	assert.False(t, fd.HasContent())
	assert.Equal(t, int64(7), fd.ModificationStamp())

	ws.addState(file, "s1", baseTime, "hello")
	ws.deleteTree(file)

	require.NoError(t, d.RecordStateFromHistory(ctx, file, nil))
	require.True(t, d.IsValid())

	mon := &recordingMonitor{}
	got, err := d.CreateResource(ctx, mon)
	require.NoError(t, err)
	assert.Equal(t, file, got)
	assert.Equal(t, "hello", ws.contents(file))

	info, err := ws.Info(file)
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.ModificationStamp)
	assert.True(t, info.LocalTimestamp.Equal(baseTime))
	assert.Equal(t, &Attributes{ReadOnly: true}, info.Attributes)
	assert.Equal(t, "ISO-8859-1", info.Charset)

	markers, err := ws.FindMarkers(file)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "task", markers[0].Type)
	assert.Equal(t, "fix me", markers[0].Attributes["message"])

	assert.Equal(t, []string{
		"CreateFile /p/src/a.txt",
		"SetCharset /p/src/a.txt",
		"RevertModificationStamp /p/src/a.txt",
		"SetLocalTimestamp /p/src/a.txt",
		"SetAttributes /p/src/a.txt",
	}, ws.calls)

	assert.Equal(t, 200, mon.total)
	assert.Equal(t, 200, mon.worked)
	assert.True(t, mon.done)
}

func TestFileDescription_RecordStateFromHistory(t *testing.T) {
	ctx := context.Background()
	file := Path("/p/a.txt")

	setup := func(t *testing.T) (*fakeWorkspace, Description) {
		t.Helper()
		ws := newFakeWorkspace()
		ws.addProject("p", true)
		ws.addFile(file, "current", 3, baseTime)
		d, err := Describe(ws.env(), file)
		require.NoError(t, err)
		ws.deleteTree(file)
		return ws, d
	}

	t.Run("matching timestamp wins over newer states", func(t *testing.T) {
		ws, d := setup(t)
		ws.addState(file, "old", baseTime.Add(-time.Hour), "old")
		ws.addState(file, "match", baseTime, "match")
		ws.addState(file, "newer", baseTime.Add(time.Hour), "newer")

		require.NoError(t, d.RecordStateFromHistory(ctx, file, nil))
		_, err := d.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "match", ws.contents(file))
	})

	t.Run("falls back to most recent state", func(t *testing.T) {
		ws, d := setup(t)
		ws.addState(file, "s1", baseTime.Add(-2*time.Hour), "first")
		ws.addState(file, "s2", baseTime.Add(-time.Hour), "second")

		require.NoError(t, d.RecordStateFromHistory(ctx, file, nil))
		_, err := d.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "second", ws.contents(file))
	})

	t.Run("equal timestamps prefer the latest recorded", func(t *testing.T) {
		ws, d := setup(t)
		ws.addState(file, "s1", baseTime, "first")
		ws.addState(file, "s2", baseTime, "second")

		require.NoError(t, d.RecordStateFromHistory(ctx, file, nil))
		_, err := d.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "second", ws.contents(file))
	})

	t.Run("empty history leaves content unresolved", func(t *testing.T) {
		ws, d := setup(t)

		require.NoError(t, d.RecordStateFromHistory(ctx, file, nil))
		assert.False(t, d.(*FileDescription).HasContent())
		assert.False(t, d.IsValid())

		_, err := d.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, ContentNotRestored, ws.contents(file))
	})

	t.Run("resolves at most once", func(t *testing.T) {
		ws, d := setup(t)
		ws.addState(file, "s1", baseTime, "first")
		require.NoError(t, d.RecordStateFromHistory(ctx, file, nil))

		ws.addState(file, "s2", baseTime.Add(time.Hour), "second")
		require.NoError(t, d.RecordStateFromHistory(ctx, file, nil))

		_, err := d.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "first", ws.contents(file))
	})

	t.Run("pruned state degrades to placeholder", func(t *testing.T) {
		ws, d := setup(t)
		state := ws.addState(file, "s1", baseTime, "first")
		require.NoError(t, d.RecordStateFromHistory(ctx, file, nil))
		state.gone = true

		assert.False(t, d.IsValid())
		_, err := d.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, ContentNotRestored, ws.contents(file))
	})
}

func TestFileDescription_Linked(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	link := Path("/p/link.txt")
	ws.addFile(link, "", 0, time.Time{})
	ws.entries[link].info.LinkTarget = "file:///srv/shared/link.txt"

	d, err := Describe(ws.env(), link)
	require.NoError(t, err)
	fd := d.(*FileDescription)
	assert.Equal(t, "file:///srv/shared/link.txt", fd.LinkTarget())

	ws.deleteTree(link)
	ws.addState(link, "s1", baseTime, "ignored")

	require.NoError(t, d.RecordStateFromHistory(ctx, link, nil))
	assert.False(t, fd.HasContent())
	assert.True(t, d.IsValid())

	_, err = d.CreateResource(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"CreateLink /p/link.txt"}, createCalls(ws))

	info, err := ws.Info(link)
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/shared/link.txt", info.LinkTarget)
}

func TestFileDescription_PathOccupied(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	target := Path("/p/o.txt")
	ws.occupied[target] = []byte("already on disk")

	d := NewFileDescriptionWithContent(ws.env(), "/p", "o.txt", []byte("new"), "")
	got, err := d.CreateResource(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, target, got)
	assert.Equal(t, []Path{target}, ws.refreshed)
	assert.Equal(t, "already on disk", ws.contents(target))

	t.Run("filtered entry is not adopted", func(t *testing.T) {
		filtered := Path("/p/o.tmp")
		ws.occupied[filtered] = []byte("scratch")
		ws.filtered = map[Path]bool{filtered: true}

		d := NewFileDescriptionWithContent(ws.env(), "/p", "o.tmp", []byte("new"), "")
		_, err := d.CreateResource(ctx, nil)
		assert.ErrorIs(t, err, ErrPathOccupied)
		assert.False(t, ws.Exists(filtered))
	})
}

func TestDescription_IsValid(t *testing.T) {
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	env := ws.env()

	assert.True(t, NewFileDescriptionWithContent(env, "/p", "a.txt", nil, "").IsValid())
	assert.False(t, NewFileDescriptionWithContent(env, "/p/missing", "a.txt", nil, "").IsValid())
	assert.True(t, NewFolderHandleDescription(env, "/p", "f", false, "").IsValid())
	assert.True(t, NewProjectHandleDescription(env, "q", nil, true).IsValid())
}

func TestUnresolvedFiles(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	ws.addFolder("/p/f")
	ws.addFolder("/p/f/sub")
	ws.addFile("/p/f/a.txt", "a", 4, baseTime)
	ws.addFile("/p/f/sub/b.txt", "b", 4, baseTime)
	ws.addState("/p/f/a.txt", "a1", baseTime, "a")
	b1 := ws.addState("/p/f/sub/b.txt", "b1", baseTime, "b")

	d, err := Describe(ws.env(), "/p/f")
	require.NoError(t, err)
	require.NoError(t, d.RecordStateFromHistory(ctx, "/p/f", nil))
	d.(*FolderDescription).addChild(NewLinkedFileDescription(ws.env(), "/p/f", "link.txt", "file:///srv/x"))
	assert.Empty(t, UnresolvedFiles(d))

	b1.gone = true
	assert.Equal(t, []Path{"/p/f/sub/b.txt"}, UnresolvedFiles(d))
	assert.True(t, d.IsValid(), "a folder is valid while its parent exists")

	file := NewFileDescription(ws.env(), "/p/f/a.txt")
	assert.Equal(t, []Path{"/p/f/a.txt"}, UnresolvedFiles(file))
}

func TestFolderDescription_Recursive(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	folder := Path("/p/f")
	ws.addFolder(folder)
	filter := ResourceFilter{Type: FilterExcludeAll | FilterFiles, MatcherID: "name", Arguments: "*.tmp"}
	ws.entries[folder].info.Filters = []ResourceFilter{filter}
	ws.entries[folder].info.Charset = "UTF-8"
	ws.addFile("/p/f/a.txt", "a", 1, baseTime)
	ws.addFolder("/p/f/b")
	ws.addFile("/p/f/b/c.txt", "c", 2, baseTime.Add(time.Minute))

	d, err := Describe(ws.env(), folder)
	require.NoError(t, err)
	fd := d.(*FolderDescription)
	require.Len(t, fd.Children(), 2)

	ws.addState("/p/f/a.txt", "a1", baseTime, "a")
	ws.addState("/p/f/b/c.txt", "c1", baseTime.Add(time.Minute), "c")
	ws.deleteTree(folder)
	assert.False(t, d.VerifyExistence(false))

	require.NoError(t, d.RecordStateFromHistory(ctx, folder, nil))
	mon := &recordingMonitor{}
	_, err = d.CreateResource(ctx, mon)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CreateFilter /p/f",
		"CreateFolder /p/f",
		"CreateFile /p/f/a.txt",
		"CreateFolder /p/f/b",
		"CreateFile /p/f/b/c.txt",
	}, createCalls(ws))
	assert.Equal(t, "a", ws.contents("/p/f/a.txt"))
	assert.Equal(t, "c", ws.contents("/p/f/b/c.txt"))

	info, err := ws.Info(folder)
	require.NoError(t, err)
	assert.Equal(t, []ResourceFilter{filter}, info.Filters)
	assert.Equal(t, "UTF-8", info.Charset)

	assert.True(t, d.VerifyExistence(true))
	assert.Equal(t, 300, mon.worked)

	ws.deleteTree("/p/f/b/c.txt")
	assert.True(t, d.VerifyExistence(false))
	assert.False(t, d.VerifyExistence(true))
}

func TestFolderDescription_Linked(t *testing.T) {
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	ws.addFolder("/p/ext")
	ws.entries["/p/ext"].info.LinkTarget = "file:///srv/ext"
	ws.addFile("/p/ext/inner.txt", "x", 0, baseTime)

	d, err := Describe(ws.env(), "/p/ext")
	require.NoError(t, err)
	fd := d.(*FolderDescription)
	assert.Equal(t, "file:///srv/ext", fd.LinkTarget())
	assert.Empty(t, fd.Children())

	ws.deleteTree("/p/ext")
	_, err = d.CreateResource(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"CreateLink /p/ext"}, createCalls(ws))
}

func TestDescription_CreateResourceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	ws.addFolder("/p/f")
	ws.addFile("/p/f/a.txt", "a", 1, baseTime)
	_, err := ws.CreateMarker("/p/f", "bookmark", nil)
	require.NoError(t, err)

	d, err := Describe(ws.env(), "/p/f")
	require.NoError(t, err)
	ws.deleteTree("/p/f")

	_, err = d.CreateResource(ctx, nil)
	require.NoError(t, err)
	calls := len(ws.calls)

	got, err := d.CreateResource(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Path("/p/f"), got)
	assert.Len(t, ws.calls, calls)

	markers, err := ws.FindMarkers("/p/f")
	require.NoError(t, err)
	assert.Len(t, markers, 1)
}

func TestDescription_ChildFailureAborts(t *testing.T) {
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	ws.addFolder("/p/f")
	ws.addFile("/p/f/a.txt", "a", 1, baseTime)
	ws.addFile("/p/f/b.txt", "b", 1, baseTime)

	d, err := Describe(ws.env(), "/p/f")
	require.NoError(t, err)
	ws.deleteTree("/p/f")
	ws.failOn["CreateFile /p/f/a.txt"] = errors.New("disk full")

	_, err = d.CreateResource(context.Background(), nil)
	require.ErrorContains(t, err, "disk full")
	assert.True(t, ws.Exists("/p/f"))
	assert.False(t, ws.Exists("/p/f/b.txt"))
}

func TestDescription_Canceled(t *testing.T) {
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewFolderHandleDescription(ws.env(), "/p", "f", false, "")
	_, err := d.CreateResource(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ws.Exists("/p/f"))
}

func TestProjectDescription(t *testing.T) {
	ctx := context.Background()

	t.Run("open project recreates members after opening", func(t *testing.T) {
		ws := newFakeWorkspace()
		ws.addProject("p", true)
		ws.entries["/p"].info.Project.Comment = "demo"
		ws.addFolder("/p/src")
		ws.addFile("/p/src/main.go", "package main", 1, baseTime)

		d, err := Describe(ws.env(), "/p")
		require.NoError(t, err)
		pd := d.(*ProjectDescription)
		assert.True(t, pd.OpenOnCreate())
		assert.Equal(t, "demo", pd.Metadata().Comment)

		ws.addState("/p/src/main.go", "m1", baseTime, "package main")
		ws.deleteTree("/p")
		require.NoError(t, d.RecordStateFromHistory(ctx, "/p", nil))

		_, err = d.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"CreateProject /p",
			"OpenProject /p",
			"CreateFolder /p/src",
			"CreateFile /p/src/main.go",
		}, createCalls(ws))
		assert.Equal(t, "package main", ws.contents("/p/src/main.go"))

		info, err := ws.Info("/p")
		require.NoError(t, err)
		assert.Equal(t, "demo", info.Project.Comment)
	})

	t.Run("closed project is recreated closed without members", func(t *testing.T) {
		ws := newFakeWorkspace()
		ws.addProject("q", false)
		ws.addFolder("/q/hidden")

		d, err := Describe(ws.env(), "/q")
		require.NoError(t, err)
		pd := d.(*ProjectDescription)
		assert.False(t, pd.OpenOnCreate())
		assert.Empty(t, pd.Children())
		assert.True(t, d.VerifyExistence(true))

		ws.deleteTree("/q")
		_, err = d.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"CreateProject /q"}, ws.calls)

		info, err := ws.Info("/q")
		require.NoError(t, err)
		assert.False(t, info.Open)
		assert.Equal(t, "q", info.Project.Name)
	})
}

func TestDescribeMissingContainer(t *testing.T) {
	ctx := context.Background()

	t.Run("missing folders below an existing project", func(t *testing.T) {
		ws := newFakeWorkspace()
		ws.addProject("p", true)

		cd, err := DescribeMissingContainer(ws.env(), "/p/a/b/c", true)
		require.NoError(t, err)
		assert.Equal(t, Path("/p/a"), cd.Path())
		assert.Equal(t, KindFolder, cd.Kind())
		assert.Equal(t, Path("/p/a/b/c"), cd.FirstLeafFolder().Path())

		_, err = cd.CreateResource(ctx, nil)
		require.NoError(t, err)
		for _, p := range []Path{"/p/a", "/p/a/b", "/p/a/b/c"} {
			info, err := ws.Info(p)
			require.NoError(t, err)
			assert.True(t, info.Virtual, p)
		}
	})

	t.Run("missing project", func(t *testing.T) {
		ws := newFakeWorkspace()

		cd, err := DescribeMissingContainer(ws.env(), "/new/src", false)
		require.NoError(t, err)
		assert.Equal(t, KindProject, cd.Kind())
		assert.Equal(t, Path("/new/src"), cd.FirstLeafFolder().Path())

		_, err = cd.CreateResource(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"CreateProject /new",
			"OpenProject /new",
			"CreateFolder /new/src",
		}, createCalls(ws))
	})

	t.Run("existing container is described as is", func(t *testing.T) {
		ws := newFakeWorkspace()
		ws.addProject("p", true)
		ws.addFolder("/p/src")

		cd, err := DescribeMissingContainer(ws.env(), "/p/src", false)
		require.NoError(t, err)
		assert.Equal(t, Path("/p/src"), cd.Path())
		assert.True(t, cd.VerifyExistence(true))
	})

	t.Run("file is rejected", func(t *testing.T) {
		ws := newFakeWorkspace()
		ws.addProject("p", true)
		ws.addFile("/p/a.txt", "a", 0, baseTime)

		_, err := DescribeMissingContainer(ws.env(), "/p/a.txt", false)
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
}

func TestRecord_ExportImport(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace()
	ws.addProject("p", true)
	ws.addFolder("/p/f")
	ws.addFile("/p/f/a.txt", "a", 4, baseTime)
	_, err := ws.CreateMarker("/p/f/a.txt", "problem", map[string]any{"severity": "high"})
	require.NoError(t, err)

	d, err := Describe(ws.env(), "/p/f")
	require.NoError(t, err)
	ws.addState("/p/f/a.txt", "a1", baseTime, "a")
	require.NoError(t, d.RecordStateFromHistory(ctx, "/p/f", nil))
	fd := d.(*FolderDescription)
	fd.addChild(NewFileDescriptionWithContent(ws.env(), "/p/f", "b.txt", []byte("bee"), "UTF-8"))

	payload, err := json.Marshal(Export(d))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(payload, &rec))

	imported, err := Import(ctx, ws.env(), &rec)
	require.NoError(t, err)
	assert.Equal(t, Export(d), Export(imported))
	assert.True(t, imported.IsValid())

	t.Run("pruned state leaves content unresolved", func(t *testing.T) {
		delete(ws.states, "a1")
		imported, err := Import(ctx, ws.env(), &rec)
		require.NoError(t, err)
		children := imported.(ContainerDescription).Children()
		require.Len(t, children, 2)
		assert.False(t, children[0].(*FileDescription).HasContent())
		assert.True(t, children[1].(*FileDescription).HasContent())
	})
}
