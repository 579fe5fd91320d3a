// Package workspace implements the live resource tree. Bytes of files and
// folders live on an afero filesystem; every resource, including linked and
// virtual ones that have no bytes of their own, is a row in the metadata store.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding/ianaindex"

	"wsundo/internal/model"
	"wsundo/internal/undo"
)

// MetadataStore persists resource rows and filters.
type MetadataStore interface {
	FindResource(path string) (*model.Resource, error)
	FindChildren(parent string) ([]*model.Resource, error)
	FindSubtree(path string) ([]*model.Resource, error)
	CreateResource(r *model.Resource) error
	UpdateResource(r *model.Resource) error
	DeleteTree(path string) error
	CreateFilter(f *model.Filter) error
	FindFilters(path string) ([]*model.Filter, error)
}

// HistoryRecorder keeps a copy of file content that is about to be
// overwritten or deleted.
type HistoryRecorder interface {
	Record(ctx context.Context, p undo.Path, r io.Reader, modTime time.Time, charset string) error
}

// Workspace is the resource tree. It is not safe for concurrent mutation.
type Workspace struct {
	fs      afero.Fs
	links   afero.Fs
	store   MetadataStore
	history HistoryRecorder
	logger  undo.Logger
	clock   undo.Clock
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithHistory records file content before it is overwritten or deleted.
func WithHistory(h HistoryRecorder) Option {
	return func(w *Workspace) { w.history = h }
}

// WithLinkFs sets the filesystem that file:// link targets resolve against.
// Defaults to a read-only view of the OS filesystem.
func WithLinkFs(fs afero.Fs) Option {
	return func(w *Workspace) { w.links = fs }
}

func WithLogger(l undo.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

func WithClock(c undo.Clock) Option {
	return func(w *Workspace) { w.clock = c }
}

// New creates a Workspace storing bytes on fs and rows in store.
func New(fs afero.Fs, store MetadataStore, opts ...Option) *Workspace {
	w := &Workspace{
		fs:     fs,
		links:  afero.NewReadOnlyFs(afero.NewOsFs()),
		store:  store,
		logger: undo.NewNopLogger(),
		clock:  undo.RealClock{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", undo.ErrCanceled, err)
	}
	return nil
}

func opError(op string, p undo.Path, err error) error {
	return &undo.ResourceError{Op: op, Path: p, Err: err}
}

// backed reports whether the resource has an entry on the filesystem.
func backed(r *model.Resource) bool {
	return r.LinkTarget == "" && !r.Virtual
}

func (w *Workspace) find(p undo.Path) (*model.Resource, error) {
	r, err := w.store.FindResource(p.String())
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, undo.ErrNotFound
	}
	return r, nil
}

// Info implements undo.Workspace.
func (w *Workspace) Info(p undo.Path) (*undo.ResourceInfo, error) {
	if p.IsRoot() {
		return &undo.ResourceInfo{Path: undo.Root, Kind: undo.KindRoot, ModificationStamp: undo.NullStamp, Open: true}, nil
	}
	r, err := w.find(p)
	if err != nil {
		return nil, opError("info", p, err)
	}
	return w.info(p, r)
}

func (w *Workspace) info(p undo.Path, r *model.Resource) (*undo.ResourceInfo, error) {
	kind, err := undo.ParseKind(r.Kind)
	if err != nil {
		return nil, opError("info", p, err)
	}

	info := &undo.ResourceInfo{
		Path:              p,
		Kind:              kind,
		ModificationStamp: r.Stamp,
		LocalTimestamp:    r.LocalTimestamp,
		Charset:           r.Charset,
		LinkTarget:        r.LinkTarget,
		Virtual:           r.Virtual,
		Open:              r.Open,
	}
	attrs := &undo.Attributes{Hidden: r.Hidden, Archive: r.Archive}
	info.Attributes = attrs

	if backed(r) {
		fi, err := w.fs.Stat(p.String())
		if err != nil {
			w.logger.Debug("stat failed", "path", p, "error", err)
		} else {
			info.LocalTimestamp = fi.ModTime()
			attrs.ReadOnly = fi.Mode().Perm()&0200 == 0
			attrs.Executable = !fi.IsDir() && fi.Mode().Perm()&0100 != 0
		}
	}

	if kind.IsContainer() {
		filters, err := w.store.FindFilters(p.String())
		if err != nil {
			return nil, opError("info", p, err)
		}
		for _, f := range filters {
			info.Filters = append(info.Filters, undo.ResourceFilter{
				Type:      undo.FilterType(f.Type),
				MatcherID: f.MatcherID,
				Arguments: f.Arguments,
			})
		}
	}

	if kind == undo.KindProject && r.Open {
		meta, err := w.readProjectMetadata(p)
		if err != nil {
			w.logger.Warn("reading project metadata failed", "path", p, "error", err)
		}
		info.Project = meta
	}
	return info, nil
}

// Exists implements undo.Workspace.
func (w *Workspace) Exists(p undo.Path) bool {
	if p.IsRoot() {
		return true
	}
	r, err := w.store.FindResource(p.String())
	if err != nil {
		w.logger.Warn("resource lookup failed", "path", p, "error", err)
		return false
	}
	return r != nil
}

// IsAccessible implements undo.Workspace.
func (w *Workspace) IsAccessible(p undo.Path) bool {
	if p.IsRoot() {
		return true
	}
	if !w.Exists(p) {
		return false
	}
	project, err := w.store.FindResource(p.Project().String())
	return err == nil && project != nil && project.Open
}

// Members implements undo.Workspace.
func (w *Workspace) Members(p undo.Path) ([]undo.Path, error) {
	if !w.IsAccessible(p) {
		if w.Exists(p) {
			return nil, opError("members", p, undo.ErrNotAccessible)
		}
		return nil, opError("members", p, undo.ErrNotFound)
	}
	rows, err := w.store.FindChildren(p.String())
	if err != nil {
		return nil, opError("members", p, err)
	}
	members := make([]undo.Path, 0, len(rows))
	for _, r := range rows {
		members = append(members, undo.Path(r.Path))
	}
	return members, nil
}

// List returns the info of p's members, and of everything below them when
// recursive is set, parents before children.
func (w *Workspace) List(p undo.Path, recursive bool) ([]*undo.ResourceInfo, error) {
	var rows []*model.Resource
	var err error
	if recursive {
		rows, err = w.store.FindSubtree(p.String())
	} else {
		rows, err = w.store.FindChildren(p.String())
	}
	if err != nil {
		return nil, opError("list", p, err)
	}

	var infos []*undo.ResourceInfo
	for _, r := range rows {
		if undo.Path(r.Path) == p {
			continue
		}
		info, err := w.info(undo.Path(r.Path), r)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// checkCreate validates that a resource of kind can be created at p.
// onDisk reports whether it will have a filesystem entry.
func (w *Workspace) checkCreate(ctx context.Context, op string, p undo.Path, kind undo.Kind, onDisk bool) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	if kind == undo.KindProject && p.Depth() != 1 {
		return opError(op, p, fmt.Errorf("%w: projects live directly below the root", undo.ErrInvalidPath))
	}
	if kind != undo.KindProject && p.Depth() < 2 {
		return opError(op, p, fmt.Errorf("%w: only projects live directly below the root", undo.ErrInvalidPath))
	}
	if w.Exists(p) {
		return opError(op, p, undo.ErrResourceExists)
	}

	if kind != undo.KindProject {
		parent, err := w.find(p.Parent())
		if err != nil {
			return opError(op, p, fmt.Errorf("parent: %w", err))
		}
		if parent.Kind == undo.KindFile.String() || parent.LinkTarget != "" {
			return opError(op, p, fmt.Errorf("%w: parent %s cannot hold members", undo.ErrInvalidPath, parent.Path))
		}
		if !w.IsAccessible(p.Parent()) {
			return opError(op, p, undo.ErrNotAccessible)
		}
		if parent.Virtual && onDisk {
			return opError(op, p, fmt.Errorf("%w: virtual folders only hold links and virtual folders", undo.ErrInvalidPath))
		}
	}

	if onDisk {
		if _, err := w.fs.Stat(p.String()); err == nil {
			return opError(op, p, undo.ErrPathOccupied)
		}
	}
	return nil
}

func (w *Workspace) newRow(p undo.Path, kind undo.Kind) *model.Resource {
	return &model.Resource{
		Path:      p.String(),
		Parent:    p.Parent().String(),
		Kind:      kind.String(),
		CreatedAt: w.clock.Now(),
	}
}

// CreateFile implements undo.Workspace.
func (w *Workspace) CreateFile(ctx context.Context, p undo.Path, content io.Reader, mon undo.Monitor) error {
	if err := w.checkCreate(ctx, "create file", p, undo.KindFile, true); err != nil {
		return err
	}
	mon.BeginTask("Writing "+p.String(), 2)

	f, err := w.fs.OpenFile(p.String(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return opError("create file", p, undo.ErrPathOccupied)
		}
		return opError("create file", p, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		w.fs.Remove(p.String())
		return opError("create file", p, err)
	}
	if err := f.Close(); err != nil {
		return opError("create file", p, err)
	}
	mon.Worked(1)

	if err := w.store.CreateResource(w.newRow(p, undo.KindFile)); err != nil {
		w.fs.Remove(p.String())
		return opError("create file", p, err)
	}
	mon.Worked(1)
	w.logger.Debug("created file", "path", p)
	return nil
}

// CreateFolder implements undo.Workspace.
func (w *Workspace) CreateFolder(ctx context.Context, p undo.Path, virtual bool, mon undo.Monitor) error {
	if err := w.checkCreate(ctx, "create folder", p, undo.KindFolder, !virtual); err != nil {
		return err
	}
	mon.BeginTask("Creating "+p.String(), 1)

	row := w.newRow(p, undo.KindFolder)
	row.Virtual = virtual
	if virtual {
		row.LocalTimestamp = w.clock.Now()
	} else if err := w.fs.Mkdir(p.String(), 0755); err != nil {
		return opError("create folder", p, err)
	}

	if err := w.store.CreateResource(row); err != nil {
		if !virtual {
			w.fs.Remove(p.String())
		}
		return opError("create folder", p, err)
	}
	mon.Worked(1)
	w.logger.Debug("created folder", "path", p, "virtual", virtual)
	return nil
}

// linkPath resolves a file:// link target to a path on the link filesystem.
func linkPath(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: link target %q: %v", undo.ErrInvalidPath, target, err)
	}
	if u.Scheme != "file" || u.Path == "" {
		return "", fmt.Errorf("%w: link target %q is not a file:// URI", undo.ErrInvalidPath, target)
	}
	return u.Path, nil
}

// CreateLink implements undo.Workspace. The target does not have to exist.
func (w *Workspace) CreateLink(ctx context.Context, p undo.Path, kind undo.Kind, target string, mon undo.Monitor) error {
	if kind != undo.KindFile && kind != undo.KindFolder {
		return opError("create link", p, fmt.Errorf("%w: cannot link a %s", undo.ErrInvalidPath, kind))
	}
	location, err := linkPath(target)
	if err != nil {
		return opError("create link", p, err)
	}
	if err := w.checkCreate(ctx, "create link", p, kind, false); err != nil {
		return err
	}
	mon.BeginTask("Linking "+p.String(), 1)

	row := w.newRow(p, kind)
	row.LinkTarget = target
	row.LocalTimestamp = w.clock.Now()
	if fi, err := w.links.Stat(location); err == nil {
		row.LocalTimestamp = fi.ModTime()
	}
	if err := w.store.CreateResource(row); err != nil {
		return opError("create link", p, err)
	}
	mon.Worked(1)
	w.logger.Debug("created link", "path", p, "target", target)
	return nil
}

// CreateProject implements undo.Workspace. New projects start closed.
func (w *Workspace) CreateProject(ctx context.Context, p undo.Path, meta *undo.ProjectMetadata, mon undo.Monitor) error {
	if err := w.checkCreate(ctx, "create project", p, undo.KindProject, true); err != nil {
		return err
	}
	mon.BeginTask("Creating project "+p.String(), 2)

	if meta == nil {
		meta = &undo.ProjectMetadata{Name: p.Name()}
	}
	if err := w.fs.Mkdir(p.String(), 0755); err != nil {
		return opError("create project", p, err)
	}
	if err := w.writeProjectMetadata(p, meta); err != nil {
		w.fs.RemoveAll(p.String())
		return opError("create project", p, err)
	}
	mon.Worked(1)

	if err := w.store.CreateResource(w.newRow(p, undo.KindProject)); err != nil {
		w.fs.RemoveAll(p.String())
		return opError("create project", p, err)
	}
	mon.Worked(1)
	w.logger.Debug("created project", "path", p)
	return nil
}

// OpenProject implements undo.Workspace.
func (w *Workspace) OpenProject(ctx context.Context, p undo.Path, mon undo.Monitor) error {
	return w.setProjectOpen(ctx, p, true)
}

// CloseProject makes the members of p inaccessible until it is reopened.
func (w *Workspace) CloseProject(ctx context.Context, p undo.Path) error {
	return w.setProjectOpen(ctx, p, false)
}

func (w *Workspace) setProjectOpen(ctx context.Context, p undo.Path, open bool) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	r, err := w.find(p)
	if err != nil {
		return opError("open project", p, err)
	}
	if r.Kind != undo.KindProject.String() {
		return opError("open project", p, fmt.Errorf("%w: not a project", undo.ErrInvalidPath))
	}
	if r.Open == open {
		return nil
	}
	r.Open = open
	if err := w.store.UpdateResource(r); err != nil {
		return opError("open project", p, err)
	}
	return nil
}

// CreateFilter implements undo.Workspace. Filters may be attached before
// their container exists, as long as its parent does.
func (w *Workspace) CreateFilter(ctx context.Context, p undo.Path, filter undo.ResourceFilter, mon undo.Monitor) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	if !w.Exists(p) && !w.Exists(p.Parent()) {
		return opError("create filter", p, undo.ErrNotFound)
	}
	if _, err := newMatcher(filter); err != nil {
		return opError("create filter", p, err)
	}
	row := &model.Filter{Path: p.String(), Type: int(filter.Type), MatcherID: filter.MatcherID, Arguments: filter.Arguments}
	if err := w.store.CreateFilter(row); err != nil {
		return opError("create filter", p, err)
	}
	mon.Worked(1)
	return nil
}

func (w *Workspace) update(op string, p undo.Path, fn func(*model.Resource) error) error {
	r, err := w.find(p)
	if err != nil {
		return opError(op, p, err)
	}
	if err := fn(r); err != nil {
		return opError(op, p, err)
	}
	if err := w.store.UpdateResource(r); err != nil {
		return opError(op, p, err)
	}
	return nil
}

// SetCharset implements undo.Workspace. The charset must be an IANA
// registered name; an empty charset clears it.
func (w *Workspace) SetCharset(p undo.Path, charset string) error {
	if charset != "" {
		if _, err := ianaindex.IANA.Encoding(charset); err != nil {
			return opError("set charset", p, fmt.Errorf("%w: unknown charset %q", undo.ErrInvalidPath, charset))
		}
	}
	return w.update("set charset", p, func(r *model.Resource) error {
		r.Charset = charset
		return nil
	})
}

// SetAttributes implements undo.Workspace. ReadOnly and Executable map to
// permission bits of backed resources.
func (w *Workspace) SetAttributes(p undo.Path, attrs undo.Attributes) error {
	return w.update("set attributes", p, func(r *model.Resource) error {
		r.Hidden = attrs.Hidden
		r.Archive = attrs.Archive
		if !backed(r) {
			return nil
		}

		fi, err := w.fs.Stat(p.String())
		if err != nil {
			return err
		}
		mode := fi.Mode().Perm()
		if attrs.ReadOnly {
			mode &^= 0222
		} else {
			mode |= 0200
		}
		if !fi.IsDir() {
			if attrs.Executable {
				mode |= 0100
			} else {
				mode &^= 0111
			}
		}
		return w.fs.Chmod(p.String(), mode)
	})
}

// SetLocalTimestamp implements undo.Workspace.
func (w *Workspace) SetLocalTimestamp(p undo.Path, t time.Time) error {
	return w.update("set timestamp", p, func(r *model.Resource) error {
		if !backed(r) {
			r.LocalTimestamp = t
			return nil
		}
		return w.fs.Chtimes(p.String(), t, t)
	})
}

// RevertModificationStamp implements undo.Workspace.
func (w *Workspace) RevertModificationStamp(p undo.Path, stamp int64) error {
	return w.update("revert stamp", p, func(r *model.Resource) error {
		r.Stamp = stamp
		return nil
	})
}

// OpenContents opens the content of file p. Linked files are read from
// their target.
func (w *Workspace) OpenContents(p undo.Path) (io.ReadCloser, error) {
	r, err := w.find(p)
	if err != nil {
		return nil, opError("open", p, err)
	}
	if r.Kind != undo.KindFile.String() {
		return nil, opError("open", p, fmt.Errorf("%w: not a file", undo.ErrInvalidPath))
	}
	if r.LinkTarget != "" {
		location, err := linkPath(r.LinkTarget)
		if err != nil {
			return nil, opError("open", p, err)
		}
		f, err := w.links.Open(location)
		if err != nil {
			return nil, opError("open", p, err)
		}
		return f, nil
	}
	f, err := w.fs.Open(p.String())
	if err != nil {
		return nil, opError("open", p, err)
	}
	return f, nil
}

// SetContents replaces the content of file p, recording the previous
// content in history first, and advances its modification stamp.
func (w *Workspace) SetContents(ctx context.Context, p undo.Path, content io.Reader) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	r, err := w.find(p)
	if err != nil {
		return opError("write", p, err)
	}
	if r.Kind != undo.KindFile.String() || !backed(r) {
		return opError("write", p, fmt.Errorf("%w: not a local file", undo.ErrInvalidPath))
	}
	if !w.IsAccessible(p) {
		return opError("write", p, undo.ErrNotAccessible)
	}

	if err := w.recordHistory(ctx, p, r); err != nil {
		return opError("write", p, err)
	}

	f, err := w.fs.OpenFile(p.String(), os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return opError("write", p, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return opError("write", p, err)
	}
	if err := f.Close(); err != nil {
		return opError("write", p, err)
	}

	r.Stamp++
	if err := w.store.UpdateResource(r); err != nil {
		return opError("write", p, err)
	}
	return nil
}

// Delete removes p and everything below it. The content of every local
// file removed is recorded in history first.
func (w *Workspace) Delete(ctx context.Context, p undo.Path) error {
	if p.IsRoot() {
		return opError("delete", p, fmt.Errorf("%w: the root cannot be deleted", undo.ErrInvalidPath))
	}
	if err := canceled(ctx); err != nil {
		return err
	}
	rows, err := w.store.FindSubtree(p.String())
	if err != nil {
		return opError("delete", p, err)
	}
	if len(rows) == 0 {
		return opError("delete", p, undo.ErrNotFound)
	}

	for _, r := range rows {
		if r.Kind != undo.KindFile.String() || !backed(r) {
			continue
		}
		if err := w.recordHistory(ctx, undo.Path(r.Path), r); err != nil {
			return opError("delete", p, err)
		}
	}

	if backed(rows[0]) {
		if err := w.fs.RemoveAll(p.String()); err != nil {
			return opError("delete", p, err)
		}
	}
	if err := w.store.DeleteTree(p.String()); err != nil {
		return opError("delete", p, err)
	}
	w.logger.Debug("deleted resource", "path", p, "resources", len(rows))
	return nil
}

func (w *Workspace) recordHistory(ctx context.Context, p undo.Path, r *model.Resource) error {
	if w.history == nil {
		return nil
	}
	fi, err := w.fs.Stat(p.String())
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil
		}
		return err
	}
	f, err := w.fs.Open(p.String())
	if err != nil {
		return err
	}
	defer f.Close()

	if err := w.history.Record(ctx, p, f, fi.ModTime(), r.Charset); err != nil {
		return fmt.Errorf("recording history: %w", err)
	}
	return nil
}

var _ undo.Workspace = (*Workspace)(nil)
