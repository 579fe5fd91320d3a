package model

import "time"

// Resource is the stored metadata of a workspace resource. Bytes of plain
// files and folders live in the workspace filesystem; linked and virtual
// resources exist only as rows.
type Resource struct {
	Path       string
	Parent     string
	Kind       string // "file", "folder" or "project"
	Stamp      int64
	Charset    string // explicit charset, or default charset for containers
	LinkTarget string
	Virtual    bool
	Hidden     bool
	Archive    bool
	Open       bool // projects only

	// LocalTimestamp is only stored for resources without a backing
	// filesystem entry. Others report the filesystem mtime.
	LocalTimestamp time.Time
	CreatedAt      time.Time
}

// Filter is a resource filter attached to a container.
type Filter struct {
	ID        int64
	Path      string
	Type      int
	MatcherID string
	Arguments string
}

// Marker is a marker row. Attributes are stored as a JSON object.
type Marker struct {
	ID         int64
	Path       string
	Type       string
	Attributes string
	CreatedAt  time.Time
}

// Content represents content-addressable data in the vault.
// The ID is the SHA-256 checksum of the plaintext.
type Content struct {
	ID        string // SHA-256 checksum (not a UUID)
	Size      int64
	Encrypted bool
	CreatedAt time.Time
}

// HistoryState is one retained version of a file.
type HistoryState struct {
	Seq        int64  // recording order
	ID         string // UUID
	Path       string
	ContentID  string // Foreign key to Content
	ModifiedAt time.Time
	Charset    string
	RecordedAt time.Time
}

// Undo entry states.
const (
	UndoStateUndoable = "undoable"
	UndoStateRedoable = "redoable"
)

// UndoEntry is one serialized resource description on the undo stack.
type UndoEntry struct {
	ID        int64
	Label     string
	Payload   []byte // JSON encoded description record
	State     string
	CreatedAt time.Time
}

// Operation is a logged CLI operation.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}
