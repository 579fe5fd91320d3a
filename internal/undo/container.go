package undo

import (
	"context"
	"fmt"
)

// ContainerDescription is a description of a folder or project.
type ContainerDescription interface {
	Description

	// Children returns the captured member descriptions.
	Children() []Description

	// FirstLeafFolder follows the first container child at each level and
	// returns the deepest one reached, or the receiver if it has none.
	FirstLeafFolder() ContainerDescription

	addChild(d Description)
}

// containerDescription holds what folders and projects have in common.
type containerDescription struct {
	resourceBase

	defaultCharset string
	filters        []ResourceFilter
	children       []Description
}

func (c *containerDescription) captureContainer(p Path, info *ResourceInfo) {
	c.defaultCharset = info.Charset
	c.filters = append([]ResourceFilter(nil), info.Filters...)
	if info.IsLinked() {
		return
	}

	members, err := c.env.Workspace.Members(p)
	if err != nil {
		c.env.Logger.Debug("capturing members failed", "path", p, "error", err)
		return
	}
	for _, m := range members {
		d, err := Describe(c.env, m)
		if err != nil {
			c.env.Logger.Debug("skipping member", "path", m, "error", err)
			continue
		}
		c.children = append(c.children, d)
	}
}

func (c *containerDescription) Children() []Description {
	return append([]Description(nil), c.children...)
}

// DefaultCharset returns the captured default charset, or "".
func (c *containerDescription) DefaultCharset() string { return c.defaultCharset }

// Filters returns the captured resource filters.
func (c *containerDescription) Filters() []ResourceFilter {
	return append([]ResourceFilter(nil), c.filters...)
}

func (c *containerDescription) addChild(d Description) {
	c.children = append(c.children, d)
}

func (c *containerDescription) firstLeafFolder(self ContainerDescription) ContainerDescription {
	for _, child := range c.children {
		if cd, ok := child.(ContainerDescription); ok {
			return cd.FirstLeafFolder()
		}
	}
	return self
}

func (c *containerDescription) VerifyExistence(checkMembers bool) bool {
	if !c.resourceBase.VerifyExistence(checkMembers) {
		return false
	}
	if !checkMembers {
		return true
	}
	for _, child := range c.children {
		if !child.VerifyExistence(true) {
			return false
		}
	}
	return true
}

func (c *containerDescription) RecordStateFromHistory(ctx context.Context, p Path, mon Monitor) error {
	mon = orNop(mon)
	mon.BeginTask("Reading history of "+p.String(), len(c.children))
	defer mon.Done()

	for _, child := range c.children {
		err := runSplit(mon, 1, func(sub Monitor) error {
			return child.RecordStateFromHistory(ctx, p.Append(child.Name()), sub)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *containerDescription) restoreDefaultCharset(handle Path) error {
	if c.defaultCharset == "" {
		return nil
	}
	if err := c.env.Workspace.SetCharset(handle, c.defaultCharset); err != nil {
		return fmt.Errorf("restoring default charset of %s: %w", handle, err)
	}
	return nil
}

func (c *containerDescription) createFilters(ctx context.Context, handle Path, mon Monitor, work int) error {
	sub := Split(mon, work)
	sub.BeginTask("", len(c.filters))
	defer sub.Done()

	for _, flt := range c.filters {
		err := runSplit(sub, 1, func(m Monitor) error {
			return c.env.Workspace.CreateFilter(ctx, handle, flt, m)
		})
		if err != nil {
			return fmt.Errorf("recreating filter on %s: %w", handle, err)
		}
	}
	return nil
}

// createChildResources recreates the captured children in capture order.
// The first failure aborts the remaining children.
func (c *containerDescription) createChildResources(ctx context.Context, mon Monitor, work int) error {
	sub := Split(mon, work)
	sub.BeginTask("", len(c.children))
	defer sub.Done()

	for _, child := range c.children {
		if err := checkCanceled(ctx); err != nil {
			return err
		}
		err := runSplit(sub, 1, func(m Monitor) error {
			_, err := child.CreateResource(ctx, m)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DescribeMissingContainer describes the container at p so that creating the
// returned description brings p into existence. If p exists it is described
// as is. Otherwise the result describes the topmost missing ancestor, with
// one child per missing level down to p. Missing folders are created virtual
// when virtual is set.
func DescribeMissingContainer(env *Env, p Path, virtual bool) (ContainerDescription, error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("%w: the root cannot be described", ErrInvalidPath)
	}

	if env.Workspace.Exists(p) {
		d, err := Describe(env, p)
		if err != nil {
			return nil, err
		}
		cd, ok := d.(ContainerDescription)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a container", ErrInvalidPath, p)
		}
		return cd, nil
	}

	var first, current ContainerDescription
	at := Root
	for i, seg := range p.Segments() {
		next := at.Append(seg)
		if current == nil && env.Workspace.Exists(next) {
			at = next
			continue
		}

		var d ContainerDescription
		if i == 0 {
			d = NewProjectHandleDescription(env, seg, nil, true)
		} else {
			d = NewFolderHandleDescription(env, at, seg, virtual, "")
		}
		if current == nil {
			first = d
		} else {
			current.addChild(d)
		}
		current = d
		at = next
	}
	return first, nil
}
