package workspace

import (
	"context"
	"errors"
	iofs "io/fs"
	"sort"

	"github.com/spf13/afero"

	"wsundo/internal/model"
	"wsundo/internal/undo"
)

// RefreshLocal implements undo.Workspace. Entries found on the filesystem
// without a row are added unless a filter excludes them. Rows of local
// resources whose entry has gone are removed along with their subtree.
func (w *Workspace) RefreshLocal(ctx context.Context, p undo.Path) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	if p.IsRoot() {
		return w.refreshMembers(ctx, undo.Root)
	}

	r, err := w.store.FindResource(p.String())
	if err != nil {
		return opError("refresh", p, err)
	}
	fi, statErr := w.fs.Stat(p.String())
	if statErr != nil && !errors.Is(statErr, iofs.ErrNotExist) {
		return opError("refresh", p, statErr)
	}

	switch {
	case r == nil && statErr != nil:
		return nil
	case r == nil:
		if !w.Exists(p.Parent()) {
			return opError("refresh", p, undo.ErrNotFound)
		}
		filters, err := w.filtersFor(p.Parent())
		if err != nil {
			return opError("refresh", p, err)
		}
		if p.Depth() > 1 && filters.excludes(p, entryKind(fi)) {
			w.logger.Debug("skipping filtered entry", "path", p)
			return nil
		}
		r, err = w.adopt(p, fi)
		if err != nil {
			return opError("refresh", p, err)
		}
	case backed(r) && statErr != nil:
		w.logger.Debug("removing vanished resource", "path", p)
		if err := w.store.DeleteTree(p.String()); err != nil {
			return opError("refresh", p, err)
		}
		return nil
	}

	if r.Kind == undo.KindFile.String() || r.LinkTarget != "" {
		return nil
	}
	return w.refreshMembers(ctx, p)
}

// entryKind is the kind filters see for a filesystem entry.
func entryKind(fi iofs.FileInfo) undo.Kind {
	if fi.IsDir() {
		return undo.KindFolder
	}
	return undo.KindFile
}

// adopt creates the row for an untracked filesystem entry.
func (w *Workspace) adopt(p undo.Path, fi iofs.FileInfo) (*model.Resource, error) {
	kind := undo.KindFile
	if fi.IsDir() {
		kind = undo.KindFolder
		if p.Depth() == 1 {
			kind = undo.KindProject
		}
	}
	row := w.newRow(p, kind)
	if err := w.store.CreateResource(row); err != nil {
		return nil, err
	}
	w.logger.Debug("adopted resource", "path", p, "kind", kind)
	return row, nil
}

func (w *Workspace) refreshMembers(ctx context.Context, container undo.Path) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	if !w.IsAccessible(container) {
		return nil
	}

	rows, err := w.store.FindChildren(container.String())
	if err != nil {
		return opError("refresh", container, err)
	}
	known := make(map[string]*model.Resource, len(rows))
	for _, r := range rows {
		known[r.Path] = r
	}

	var entries []iofs.FileInfo
	if w.hasLocalMembers(container) {
		entries, err = afero.ReadDir(w.fs, container.String())
		if err != nil && !errors.Is(err, iofs.ErrNotExist) {
			return opError("refresh", container, err)
		}
	}
	filters, err := w.filtersFor(container)
	if err != nil {
		return opError("refresh", container, err)
	}

	onDisk := make(map[string]bool, len(entries))
	for _, fi := range entries {
		if fi.Name() == ProjectFile && container.Depth() == 1 {
			continue
		}
		p := container.Append(fi.Name())
		onDisk[p.String()] = true

		if _, ok := known[p.String()]; ok {
			continue
		}
		if container.IsRoot() && !fi.IsDir() {
			continue
		}
		if !container.IsRoot() && filters.excludes(p, entryKind(fi)) {
			continue
		}
		row, err := w.adopt(p, fi)
		if err != nil {
			return opError("refresh", p, err)
		}
		known[p.String()] = row
	}

	for path, r := range known {
		if backed(r) && !onDisk[path] {
			w.logger.Debug("removing vanished resource", "path", path)
			if err := w.store.DeleteTree(path); err != nil {
				return opError("refresh", undo.Path(path), err)
			}
			delete(known, path)
		}
	}

	paths := make([]string, 0, len(known))
	for path := range known {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		r := known[path]
		if r.Kind == undo.KindFile.String() || r.LinkTarget != "" {
			continue
		}
		if err := w.refreshMembers(ctx, undo.Path(path)); err != nil {
			return err
		}
	}
	return nil
}

// hasLocalMembers reports whether members of container may exist on the
// filesystem. Virtual folders only hold links and virtual folders.
func (w *Workspace) hasLocalMembers(container undo.Path) bool {
	if container.IsRoot() {
		return true
	}
	r, err := w.store.FindResource(container.String())
	return err == nil && r != nil && backed(r)
}
