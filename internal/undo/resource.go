package undo

import (
	"fmt"
	"time"
)

// Kind is the type of a workspace resource.
type Kind int

const (
	KindFile Kind = iota + 1
	KindFolder
	KindProject
	KindRoot
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindProject:
		return "project"
	case KindRoot:
		return "root"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsContainer reports whether resources of this kind hold members.
func (k Kind) IsContainer() bool {
	return k == KindFolder || k == KindProject || k == KindRoot
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "file":
		return KindFile, nil
	case "folder":
		return KindFolder, nil
	case "project":
		return KindProject, nil
	case "root":
		return KindRoot, nil
	default:
		return 0, fmt.Errorf("unknown resource kind: %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NullStamp marks a modification stamp that could not be captured.
const NullStamp int64 = -1

// Attributes is the platform flag bundle of a resource.
type Attributes struct {
	ReadOnly   bool `json:"read_only"`
	Executable bool `json:"executable"`
	Hidden     bool `json:"hidden"`
	Archive    bool `json:"archive"`
}

// FilterType is a bit set describing what a resource filter does.
type FilterType int

const (
	FilterIncludeOnly FilterType = 1 << iota
	FilterExcludeAll
	FilterFiles
	FilterFolders
	FilterInheritable
)

// ResourceFilter hides members of a container when the workspace refreshes
// from storage.
type ResourceFilter struct {
	Type      FilterType `json:"type"`
	MatcherID string     `json:"matcher_id"`
	Arguments string     `json:"arguments"`
}

// ProjectMetadata is the structural description of a project.
type ProjectMetadata struct {
	Name       string   `yaml:"name" json:"name"`
	Comment    string   `yaml:"comment,omitempty" json:"comment,omitempty"`
	Natures    []string `yaml:"natures,omitempty" json:"natures,omitempty"`
	References []string `yaml:"references,omitempty" json:"references,omitempty"`
	Location   string   `yaml:"location,omitempty" json:"location,omitempty"`
}

// ResourceInfo is the live state of a resource as reported by a Workspace.
type ResourceInfo struct {
	Path              Path
	Kind              Kind
	ModificationStamp int64
	LocalTimestamp    time.Time
	Attributes        *Attributes

	// Charset is the explicit charset of a file, or the default charset of a
	// container. Empty when unset.
	Charset string

	// LinkTarget is the URI a linked resource points to. Empty when not linked.
	LinkTarget string
	Virtual    bool

	// Open is only meaningful for projects.
	Open    bool
	Filters []ResourceFilter

	// Project is set for open projects.
	Project *ProjectMetadata
}

// IsLinked reports whether the resource is a link to an external location.
func (i *ResourceInfo) IsLinked() bool {
	return i.LinkTarget != ""
}

// Marker is an annotation attached to a resource.
type Marker struct {
	ID         int64
	Path       Path
	Type       string
	Attributes map[string]any
	CreatedAt  time.Time
}
