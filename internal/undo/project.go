package undo

import (
	"context"
	"fmt"
)

// ProjectDescription describes a top-level project. Members are only
// captured, and only recreated, for projects that were open.
type ProjectDescription struct {
	containerDescription

	meta         *ProjectMetadata
	openOnCreate bool
}

// NewProjectDescription captures the project at p.
func NewProjectDescription(env *Env, p Path) *ProjectDescription {
	b, info := captureResource(env, p)
	pd := &ProjectDescription{containerDescription: containerDescription{resourceBase: b}}
	if info != nil {
		pd.openOnCreate = info.Open
		pd.meta = cloneMetadata(info.Project)
		pd.captureContainer(p, info)
	}
	return pd
}

// NewProjectHandleDescription describes a project that does not exist yet.
// A nil meta creates the project with default metadata.
func NewProjectHandleDescription(env *Env, name string, meta *ProjectMetadata, open bool) *ProjectDescription {
	return &ProjectDescription{
		containerDescription: containerDescription{resourceBase: newHandleBase(env, Root, name)},
		meta:                 cloneMetadata(meta),
		openOnCreate:         open,
	}
}

func cloneMetadata(meta *ProjectMetadata) *ProjectMetadata {
	if meta == nil {
		return nil
	}
	c := *meta
	c.Natures = append([]string(nil), meta.Natures...)
	c.References = append([]string(nil), meta.References...)
	return &c
}

func (p *ProjectDescription) Kind() Kind { return KindProject }

// Metadata returns a copy of the captured metadata, or nil.
func (p *ProjectDescription) Metadata() *ProjectMetadata { return cloneMetadata(p.meta) }

func (p *ProjectDescription) OpenOnCreate() bool { return p.openOnCreate }

func (p *ProjectDescription) FirstLeafFolder() ContainerDescription {
	return p.firstLeafFolder(p)
}

// VerifyExistence ignores members of a project that is not accessible.
func (p *ProjectDescription) VerifyExistence(checkMembers bool) bool {
	handle := p.Path()
	if !p.env.Workspace.IsAccessible(handle) {
		return p.resourceBase.VerifyExistence(false)
	}
	return p.containerDescription.VerifyExistence(checkMembers)
}

func (p *ProjectDescription) CreateResource(ctx context.Context, mon Monitor) (Path, error) {
	return createResource(ctx, p, mon)
}

func (p *ProjectDescription) createExistentResourceFromHandle(ctx context.Context, handle Path, mon Monitor) (bool, error) {
	ws := p.env.Workspace
	if ws.Exists(handle) {
		return false, nil
	}

	mon.BeginTask("Creating "+handle.String(), 300)
	defer mon.Done()

	meta := p.meta
	if meta == nil {
		meta = &ProjectMetadata{Name: handle.Name()}
	}
	err := runSplit(mon, 100, func(sub Monitor) error {
		return ws.CreateProject(ctx, handle, meta, sub)
	})
	if err != nil {
		return false, err
	}
	if !p.openOnCreate {
		mon.Worked(200)
		return true, nil
	}

	if err := checkCanceled(ctx); err != nil {
		return false, err
	}
	err = runSplit(mon, 50, func(sub Monitor) error {
		return ws.OpenProject(ctx, handle, sub)
	})
	if err != nil {
		return false, fmt.Errorf("opening project %s: %w", handle, err)
	}
	if err := p.createFilters(ctx, handle, mon, 50); err != nil {
		return false, err
	}
	if err := p.restoreDefaultCharset(handle); err != nil {
		return false, err
	}
	if err := p.createChildResources(ctx, mon, 100); err != nil {
		return false, err
	}
	return true, nil
}
