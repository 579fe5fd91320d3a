package undo

import "context"

// FolderDescription describes a folder, which may be virtual or linked.
// Linked folders do not capture their members.
type FolderDescription struct {
	containerDescription

	virtual    bool
	linkTarget string
}

// NewFolderDescription captures the folder at p and, recursively, its members.
func NewFolderDescription(env *Env, p Path) *FolderDescription {
	b, info := captureResource(env, p)
	f := &FolderDescription{containerDescription: containerDescription{resourceBase: b}}
	if info != nil {
		f.virtual = info.Virtual
		f.linkTarget = info.LinkTarget
		f.captureContainer(p, info)
	}
	return f
}

// NewFolderHandleDescription describes a folder that does not exist yet.
// A non-empty linkTarget makes it a linked folder.
func NewFolderHandleDescription(env *Env, parent Path, name string, virtual bool, linkTarget string) *FolderDescription {
	return &FolderDescription{
		containerDescription: containerDescription{resourceBase: newHandleBase(env, parent, name)},
		virtual:              virtual,
		linkTarget:           linkTarget,
	}
}

func (f *FolderDescription) Kind() Kind { return KindFolder }

func (f *FolderDescription) Virtual() bool { return f.virtual }

func (f *FolderDescription) LinkTarget() string { return f.linkTarget }

func (f *FolderDescription) FirstLeafFolder() ContainerDescription {
	return f.firstLeafFolder(f)
}

func (f *FolderDescription) CreateResource(ctx context.Context, mon Monitor) (Path, error) {
	return createResource(ctx, f, mon)
}

func (f *FolderDescription) createExistentResourceFromHandle(ctx context.Context, handle Path, mon Monitor) (bool, error) {
	ws := f.env.Workspace
	if ws.Exists(handle) {
		return false, nil
	}

	mon.BeginTask("Creating "+handle.String(), 300)
	defer mon.Done()

	if err := checkCanceled(ctx); err != nil {
		return false, err
	}
	if err := f.createFilters(ctx, handle, mon, 100); err != nil {
		return false, err
	}

	if err := checkCanceled(ctx); err != nil {
		return false, err
	}
	err := runSplit(mon, 100, func(sub Monitor) error {
		if f.linkTarget != "" {
			return ws.CreateLink(ctx, handle, KindFolder, f.linkTarget, sub)
		}
		return ws.CreateFolder(ctx, handle, f.virtual, sub)
	})
	if err != nil {
		return false, err
	}

	if err := f.restoreDefaultCharset(handle); err != nil {
		return false, err
	}
	if err := f.createChildResources(ctx, mon, 100); err != nil {
		return false, err
	}
	return true, nil
}
