package undo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ContentNotRestored is written to files recreated without recoverable content.
const ContentNotRestored = "This file's content could not be restored from local history.\n"

// FileContent is a source of file bytes used when recreating a file.
type FileContent interface {
	// Exists reports whether the bytes can currently be read.
	Exists() bool
	Open() (io.ReadCloser, error)
}

// explicitContent is content supplied by the caller.
type explicitContent struct {
	data []byte
}

func (c *explicitContent) Exists() bool { return true }

func (c *explicitContent) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(c.data)), nil
}

// historicalContent is content resolved from a history state.
type historicalContent struct {
	state HistoryState
}

func (c *historicalContent) Exists() bool { return c.state.Exists() }

func (c *historicalContent) Open() (io.ReadCloser, error) {
	return c.state.Content()
}

// FileDescription describes a file, either plain or linked.
type FileDescription struct {
	resourceBase

	linkTarget string
	charset    string

	// content stays nil until resolved. It changes at most once.
	content FileContent
}

// NewFileDescription captures the file at p. Its content is left unresolved;
// see RecordStateFromHistory.
func NewFileDescription(env *Env, p Path) *FileDescription {
	b, info := captureResource(env, p)
	f := &FileDescription{resourceBase: b}
	if info != nil {
		if info.IsLinked() {
			f.linkTarget = info.LinkTarget
		} else {
			f.charset = info.Charset
		}
	}
	return f
}

// NewFileDescriptionWithContent describes a file that will be created under
// parent with the given bytes and charset.
func NewFileDescriptionWithContent(env *Env, parent Path, name string, data []byte, charset string) *FileDescription {
	return &FileDescription{
		resourceBase: newHandleBase(env, parent, name),
		charset:      charset,
		content:      &explicitContent{data: bytes.Clone(data)},
	}
}

// NewLinkedFileDescription describes a file link to target.
func NewLinkedFileDescription(env *Env, parent Path, name, target string) *FileDescription {
	return &FileDescription{
		resourceBase: newHandleBase(env, parent, name),
		linkTarget:   target,
	}
}

func (f *FileDescription) Kind() Kind { return KindFile }

// LinkTarget returns the link target, or "" for a plain file.
func (f *FileDescription) LinkTarget() string { return f.linkTarget }

func (f *FileDescription) Charset() string { return f.charset }

// HasContent reports whether a content source has been resolved.
func (f *FileDescription) HasContent() bool { return f.content != nil }

// Content returns the resolved content source, or nil.
func (f *FileDescription) Content() FileContent { return f.content }

func (f *FileDescription) unresolved() bool {
	return f.linkTarget == "" && (f.content == nil || !f.content.Exists())
}

// UnresolvedFiles returns the paths of the unlinked files in d, d itself
// included, that would be recreated with ContentNotRestored.
func UnresolvedFiles(d Description) []Path {
	switch v := d.(type) {
	case *FileDescription:
		if v.unresolved() {
			return []Path{v.Path()}
		}
	case ContainerDescription:
		var paths []Path
		for _, child := range v.Children() {
			paths = append(paths, UnresolvedFiles(child)...)
		}
		return paths
	}
	return nil
}

func (f *FileDescription) CreateResource(ctx context.Context, mon Monitor) (Path, error) {
	return createResource(ctx, f, mon)
}

func (f *FileDescription) createExistentResourceFromHandle(ctx context.Context, handle Path, mon Monitor) (bool, error) {
	ws := f.env.Workspace
	if ws.Exists(handle) {
		return false, nil
	}

	mon.BeginTask("Creating "+handle.String(), 200)
	defer mon.Done()

	var err error
	if f.linkTarget != "" {
		err = runSplit(mon, 200, func(sub Monitor) error {
			return ws.CreateLink(ctx, handle, KindFile, f.linkTarget, sub)
		})
	} else {
		err = f.createPlainFile(ctx, handle, mon)
	}
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrPathOccupied) {
		return false, err
	}

	// Something already sits at the location; adopt it instead.
	f.env.Logger.Debug("file location occupied, refreshing", "path", handle)
	if rerr := ws.RefreshLocal(ctx, handle); rerr != nil {
		return false, fmt.Errorf("refreshing occupied location %s: %w", handle, rerr)
	}
	if !ws.Exists(handle) {
		// The entry is filtered out of its container.
		return false, err
	}
	return true, nil
}

func (f *FileDescription) createPlainFile(ctx context.Context, handle Path, mon Monitor) error {
	r := f.openContent(handle)
	defer r.Close()

	err := runSplit(mon, 100, func(sub Monitor) error {
		return f.env.Workspace.CreateFile(ctx, handle, r, sub)
	})
	if err != nil {
		return err
	}
	if f.charset != "" {
		if err := f.env.Workspace.SetCharset(handle, f.charset); err != nil {
			return fmt.Errorf("restoring charset of %s: %w", handle, err)
		}
	}
	mon.Worked(100)
	return nil
}

// openContent opens the resolved content, degrading to the placeholder
// when there is none or it cannot be read.
func (f *FileDescription) openContent(handle Path) io.ReadCloser {
	if f.content != nil && f.content.Exists() {
		rc, err := f.content.Open()
		if err == nil {
			return rc
		}
		f.env.Logger.Warn("failed to open content, writing placeholder", "path", handle, "error", err)
	}
	return io.NopCloser(strings.NewReader(ContentNotRestored))
}

func (f *FileDescription) IsValid() bool {
	if !f.resourceBase.IsValid() {
		return false
	}
	return !f.unresolved()
}

// RecordStateFromHistory resolves the content of an unlinked file from the
// history of p. The state whose modification time equals the captured local
// timestamp wins; otherwise the most recent state is used. An empty history
// leaves the content unresolved.
func (f *FileDescription) RecordStateFromHistory(ctx context.Context, p Path, mon Monitor) error {
	if f.linkTarget != "" || f.content != nil || f.env.History == nil {
		return nil
	}
	if err := checkCanceled(ctx); err != nil {
		return err
	}

	mon = orNop(mon)
	mon.BeginTask("Reading history of "+p.String(), 1)
	defer mon.Done()

	states, err := f.env.History.History(ctx, p)
	if err != nil {
		return fmt.Errorf("reading history of %s: %w", p, err)
	}
	if len(states) == 0 {
		f.env.Logger.Debug("no history for file", "path", p)
		return nil
	}

	state := states[0]
	if !f.localTimestamp.IsZero() {
		for _, s := range states {
			if s.ModificationTime().Equal(f.localTimestamp) {
				state = s
				break
			}
		}
	}
	f.content = &historicalContent{state: state}
	mon.Worked(1)
	return nil
}
