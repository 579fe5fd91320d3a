package undo

import (
	"context"
	"fmt"
	"time"
)

// Env bundles the collaborators a description captures from and restores into.
type Env struct {
	Workspace Workspace
	Markers   MarkerStore
	History   HistoryStore
	Logger    Logger
}

// NewEnv creates an Env. A nil logger is replaced by a NopLogger.
func NewEnv(ws Workspace, markers MarkerStore, history HistoryStore, logger Logger) *Env {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Env{
		Workspace: ws,
		Markers:   markers,
		History:   history,
		Logger:    logger,
	}
}

// Description is a snapshot of a resource taken before a destructive
// operation, able to recreate that resource later.
//
// The set of implementations is closed: FileDescription, FolderDescription
// and ProjectDescription.
type Description interface {
	Name() string
	Kind() Kind

	// Parent is the path of the container the resource is recreated into.
	Parent() Path

	// Path is Parent joined with Name.
	Path() Path

	// CreateResource materializes the described resource and restores its
	// captured attributes and markers. Calling it again once the resource
	// exists is a no-op.
	CreateResource(ctx context.Context, mon Monitor) (Path, error)

	// IsValid reports whether CreateResource could succeed right now.
	IsValid() bool

	// VerifyExistence reports whether the described resource currently exists.
	// With checkMembers, captured children of containers must exist too.
	VerifyExistence(checkMembers bool) bool

	// RecordStateFromHistory resolves file content that was not captured
	// explicitly from the history of p. Containers recurse into children.
	RecordStateFromHistory(ctx context.Context, p Path, mon Monitor) error

	base() *resourceBase

	// createExistentResourceFromHandle creates the resource at handle. It
	// reports false without error when handle already exists.
	createExistentResourceFromHandle(ctx context.Context, handle Path, mon Monitor) (bool, error)
}

// resourceBase holds what every kind of description captures.
type resourceBase struct {
	env               *Env
	parent            Path
	name              string
	modificationStamp int64
	localTimestamp    time.Time
	attributes        *Attributes
	markers           []*MarkerSnapshot
}

// newHandleBase describes a resource that does not exist yet. Nothing
// beyond its location is captured.
func newHandleBase(env *Env, parent Path, name string) resourceBase {
	return resourceBase{
		env:               env,
		parent:            parent,
		name:              name,
		modificationStamp: NullStamp,
	}
}

// captureResource snapshots the common state of p. The returned info is nil
// unless p is accessible. Capture failures are logged and leave the
// corresponding field at its sentinel value.
func captureResource(env *Env, p Path) (resourceBase, *ResourceInfo) {
	b := newHandleBase(env, p.Parent(), p.Name())
	if !env.Workspace.IsAccessible(p) {
		return b, nil
	}

	info, err := env.Workspace.Info(p)
	if err != nil {
		env.Logger.Debug("capturing resource state failed", "path", p, "error", err)
		return b, nil
	}
	b.modificationStamp = info.ModificationStamp
	b.localTimestamp = info.LocalTimestamp
	if info.Attributes != nil {
		attrs := *info.Attributes
		b.attributes = &attrs
	}

	if env.Markers != nil {
		markers, err := env.Markers.FindMarkers(p)
		if err != nil {
			env.Logger.Debug("capturing markers failed", "path", p, "error", err)
		}
		for _, m := range markers {
			b.markers = append(b.markers, NewMarkerSnapshot(m))
		}
	}
	return b, info
}

func (b *resourceBase) base() *resourceBase { return b }

func (b *resourceBase) Name() string { return b.name }

func (b *resourceBase) Parent() Path { return b.parent }

func (b *resourceBase) Path() Path { return b.parent.Append(b.name) }

// ModificationStamp returns the captured stamp, or NullStamp.
func (b *resourceBase) ModificationStamp() int64 { return b.modificationStamp }

// LocalTimestamp returns the captured timestamp, or the zero time.
func (b *resourceBase) LocalTimestamp() time.Time { return b.localTimestamp }

// Attributes returns a copy of the captured attributes, or nil.
func (b *resourceBase) Attributes() *Attributes {
	if b.attributes == nil {
		return nil
	}
	attrs := *b.attributes
	return &attrs
}

// Markers returns the captured marker snapshots.
func (b *resourceBase) Markers() []*MarkerSnapshot {
	return append([]*MarkerSnapshot(nil), b.markers...)
}

func (b *resourceBase) IsValid() bool {
	return b.parent.IsRoot() || b.env.Workspace.Exists(b.parent)
}

func (b *resourceBase) VerifyExistence(bool) bool {
	return b.env.Workspace.Exists(b.Path())
}

func (b *resourceBase) RecordStateFromHistory(context.Context, Path, Monitor) error {
	return nil
}

func (b *resourceBase) createResourceHandle() Path {
	return b.Path()
}

// restoreResourceAttributes re-applies captured state to the freshly created
// resource at handle. Markers whose owner is gone, or that fail to
// recreate, are skipped with a warning.
func (b *resourceBase) restoreResourceAttributes(handle Path) error {
	ws := b.env.Workspace

	if b.modificationStamp != NullStamp {
		if err := ws.RevertModificationStamp(handle, b.modificationStamp); err != nil {
			return fmt.Errorf("reverting modification stamp of %s: %w", handle, err)
		}
	}
	if !b.localTimestamp.IsZero() {
		if err := ws.SetLocalTimestamp(handle, b.localTimestamp); err != nil {
			return fmt.Errorf("restoring timestamp of %s: %w", handle, err)
		}
	}
	if b.attributes != nil {
		if err := ws.SetAttributes(handle, *b.attributes); err != nil {
			return fmt.Errorf("restoring attributes of %s: %w", handle, err)
		}
	}

	if b.env.Markers == nil {
		return nil
	}
	for _, m := range b.markers {
		if !ws.Exists(m.Path) {
			b.env.Logger.Warn("skipping marker, owner does not exist", "path", m.Path, "type", m.Type)
			continue
		}
		if _, err := m.Create(b.env.Markers); err != nil {
			b.env.Logger.Warn("failed to recreate marker", "path", m.Path, "type", m.Type, "error", err)
		}
	}
	return nil
}

// createResource is the creation sequence shared by all kinds: resolve the
// handle, create the resource from it, then restore attributes.
func createResource(ctx context.Context, d Description, mon Monitor) (Path, error) {
	if err := checkCanceled(ctx); err != nil {
		return "", err
	}

	b := d.base()
	handle := b.createResourceHandle()
	created, err := d.createExistentResourceFromHandle(ctx, handle, orNop(mon))
	if err != nil {
		return "", err
	}
	if !created {
		return handle, nil
	}

	if err := b.restoreResourceAttributes(handle); err != nil {
		return "", err
	}
	return handle, nil
}

// Describe captures the resource at p. The concrete type of the returned
// description follows the kind of the resource.
func Describe(env *Env, p Path) (Description, error) {
	info, err := env.Workspace.Info(p)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", p, err)
	}

	switch info.Kind {
	case KindFile:
		return NewFileDescription(env, p), nil
	case KindFolder:
		return NewFolderDescription(env, p), nil
	case KindProject:
		return NewProjectDescription(env, p), nil
	default:
		return nil, fmt.Errorf("%w: cannot describe %s %s", ErrInvalidPath, info.Kind, p)
	}
}
