package undo

import (
	"context"
	"io"
	"time"
)

// Workspace is the live resource tree descriptions capture from and recreate into.
// Creation methods fail with ErrResourceExists when the workspace already knows
// the resource, and with ErrPathOccupied when the storage location is taken by
// something not yet refreshed into the tree.
type Workspace interface {
	// Info returns the live state of the resource at p.
	// Returns an error matching ErrNotFound if it does not exist.
	Info(p Path) (*ResourceInfo, error)

	// Exists reports whether the resource at p is part of the tree.
	Exists(p Path) bool

	// IsAccessible reports whether p exists and its project is open.
	IsAccessible(p Path) bool

	// Members returns the children of container p ordered by name.
	Members(p Path) ([]Path, error)

	CreateFile(ctx context.Context, p Path, content io.Reader, mon Monitor) error
	CreateFolder(ctx context.Context, p Path, virtual bool, mon Monitor) error
	CreateLink(ctx context.Context, p Path, kind Kind, target string, mon Monitor) error
	CreateProject(ctx context.Context, p Path, meta *ProjectMetadata, mon Monitor) error
	OpenProject(ctx context.Context, p Path, mon Monitor) error
	CreateFilter(ctx context.Context, p Path, filter ResourceFilter, mon Monitor) error

	// SetCharset sets the charset of a file, or the default charset of a container.
	SetCharset(p Path, charset string) error
	SetAttributes(p Path, attrs Attributes) error
	SetLocalTimestamp(p Path, t time.Time) error
	RevertModificationStamp(p Path, stamp int64) error

	// RefreshLocal brings the tree at and below p in line with storage.
	RefreshLocal(ctx context.Context, p Path) error
}

// HistoryStore is the version-history store retaining prior file states.
type HistoryStore interface {
	// History returns the retained states of the file at p, most recent first.
	History(ctx context.Context, p Path) ([]HistoryState, error)

	// FindState returns the state with the given ID, or nil if it is gone.
	FindState(ctx context.Context, id string) (HistoryState, error)
}

// HistoryState is one retained content state of a file.
type HistoryState interface {
	ID() string
	ModificationTime() time.Time

	// Exists reports whether the state's content can still be read.
	Exists() bool
	Content() (io.ReadCloser, error)
	Charset() string
}

// MarkerStore holds markers attached to resources.
type MarkerStore interface {
	// FindMarkers returns the markers directly attached to p.
	FindMarkers(p Path) ([]*Marker, error)
	CreateMarker(p Path, markerType string, attributes map[string]any) (*Marker, error)
}
