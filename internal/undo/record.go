package undo

import (
	"context"
	"fmt"
	"time"
)

// Record is the serializable form of a Description. Historical content is
// kept as a reference to its history state, not as bytes.
type Record struct {
	Kind           Kind              `json:"kind"`
	Parent         Path              `json:"parent"`
	Name           string            `json:"name"`
	Stamp          int64             `json:"stamp"`
	LocalTimestamp time.Time         `json:"local_timestamp,omitzero"`
	Attributes     *Attributes       `json:"attributes,omitempty"`
	Markers        []*MarkerSnapshot `json:"markers,omitempty"`

	// Charset is the file charset, or the default charset of a container.
	Charset    string           `json:"charset,omitempty"`
	LinkTarget string           `json:"link_target,omitempty"`
	Content    *ContentRecord   `json:"content,omitempty"`
	Virtual    bool             `json:"virtual,omitempty"`
	Filters    []ResourceFilter `json:"filters,omitempty"`
	Project    *ProjectMetadata `json:"project,omitempty"`
	Open       bool             `json:"open,omitempty"`
	Children   []*Record        `json:"children,omitempty"`
}

// ContentRecord is the serializable form of a resolved content source.
// Exactly one of Data and StateID is meaningful.
type ContentRecord struct {
	Data    []byte `json:"data,omitempty"`
	StateID string `json:"state_id,omitempty"`
}

// Export converts d to its serializable form.
func Export(d Description) *Record {
	b := d.base()
	rec := &Record{
		Kind:           d.Kind(),
		Parent:         b.parent,
		Name:           b.name,
		Stamp:          b.modificationStamp,
		LocalTimestamp: b.localTimestamp,
		Attributes:     b.Attributes(),
		Markers:        b.Markers(),
	}

	switch v := d.(type) {
	case *FileDescription:
		rec.Charset = v.charset
		rec.LinkTarget = v.linkTarget
		switch c := v.content.(type) {
		case *explicitContent:
			rec.Content = &ContentRecord{Data: c.data}
		case *historicalContent:
			rec.Content = &ContentRecord{StateID: c.state.ID()}
		}
	case *FolderDescription:
		rec.Virtual = v.virtual
		rec.LinkTarget = v.linkTarget
		exportContainer(rec, &v.containerDescription)
	case *ProjectDescription:
		rec.Project = v.Metadata()
		rec.Open = v.openOnCreate
		exportContainer(rec, &v.containerDescription)
	}
	return rec
}

func exportContainer(rec *Record, c *containerDescription) {
	rec.Charset = c.defaultCharset
	rec.Filters = c.Filters()
	for _, child := range c.children {
		rec.Children = append(rec.Children, Export(child))
	}
}

// Import rebuilds a description from rec. Historical content whose state
// has since been pruned from history is left unresolved.
func Import(ctx context.Context, env *Env, rec *Record) (Description, error) {
	b := newHandleBase(env, rec.Parent, rec.Name)
	b.modificationStamp = rec.Stamp
	b.localTimestamp = rec.LocalTimestamp
	if rec.Attributes != nil {
		attrs := *rec.Attributes
		b.attributes = &attrs
	}
	b.markers = append([]*MarkerSnapshot(nil), rec.Markers...)

	switch rec.Kind {
	case KindFile:
		f := &FileDescription{resourceBase: b, charset: rec.Charset, linkTarget: rec.LinkTarget}
		if err := importContent(ctx, env, f, rec.Content); err != nil {
			return nil, err
		}
		return f, nil
	case KindFolder:
		f := &FolderDescription{
			containerDescription: containerDescription{resourceBase: b},
			virtual:              rec.Virtual,
			linkTarget:           rec.LinkTarget,
		}
		if err := importContainer(ctx, env, &f.containerDescription, rec); err != nil {
			return nil, err
		}
		return f, nil
	case KindProject:
		pd := &ProjectDescription{
			containerDescription: containerDescription{resourceBase: b},
			meta:                 cloneMetadata(rec.Project),
			openOnCreate:         rec.Open,
		}
		if err := importContainer(ctx, env, &pd.containerDescription, rec); err != nil {
			return nil, err
		}
		return pd, nil
	default:
		return nil, fmt.Errorf("%w: cannot import %s record for %s", ErrInvalidPath, rec.Kind, rec.Parent.Append(rec.Name))
	}
}

func importContent(ctx context.Context, env *Env, f *FileDescription, rec *ContentRecord) error {
	switch {
	case rec == nil:
		return nil
	case rec.StateID != "":
		if env.History == nil {
			return nil
		}
		state, err := env.History.FindState(ctx, rec.StateID)
		if err != nil {
			return fmt.Errorf("looking up history state %s: %w", rec.StateID, err)
		}
		if state == nil {
			env.Logger.Warn("history state no longer retained", "path", f.Path(), "state", rec.StateID)
			return nil
		}
		f.content = &historicalContent{state: state}
	default:
		f.content = &explicitContent{data: rec.Data}
	}
	return nil
}

func importContainer(ctx context.Context, env *Env, c *containerDescription, rec *Record) error {
	c.defaultCharset = rec.Charset
	c.filters = append([]ResourceFilter(nil), rec.Filters...)
	for _, childRec := range rec.Children {
		child, err := Import(ctx, env, childRec)
		if err != nil {
			return err
		}
		c.children = append(c.children, child)
	}
	return nil
}
