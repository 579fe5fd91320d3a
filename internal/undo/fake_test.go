package undo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"time"
)

// fakeWorkspace is a minimal in-memory Workspace, MarkerStore and
// HistoryStore for exercising descriptions without storage.
type fakeWorkspace struct {
	entries   map[Path]*fakeEntry
	occupied  map[Path][]byte
	pending   map[Path][]ResourceFilter
	markers   []*Marker
	history   map[Path][]*fakeState
	states    map[string]*fakeState
	nextID    int64
	calls     []string
	failOn    map[string]error
	refreshed []Path

	// filtered entries stay occupied when refreshed.
	filtered map[Path]bool
}

type fakeEntry struct {
	info    ResourceInfo
	content []byte
}

type fakeState struct {
	id      string
	modTime time.Time
	data    []byte
	charset string
	gone    bool
}

func (s *fakeState) ID() string                  { return s.id }
func (s *fakeState) ModificationTime() time.Time { return s.modTime }
func (s *fakeState) Exists() bool                { return !s.gone }
func (s *fakeState) Charset() string             { return s.charset }
func (s *fakeState) Content() (io.ReadCloser, error) {
	if s.gone {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		entries:  map[Path]*fakeEntry{},
		occupied: map[Path][]byte{},
		pending:  map[Path][]ResourceFilter{},
		history:  map[Path][]*fakeState{},
		states:   map[string]*fakeState{},
		failOn:   map[string]error{},
	}
}

func (w *fakeWorkspace) env() *Env {
	return NewEnv(w, w, w, nil)
}

func (w *fakeWorkspace) record(op string, p Path) error {
	w.calls = append(w.calls, op+" "+p.String())
	if err, ok := w.failOn[op+" "+p.String()]; ok {
		return err
	}
	return nil
}

// Seeding helpers.

func (w *fakeWorkspace) addProject(name string, open bool) Path {
	p := Root.Append(name)
	w.entries[p] = &fakeEntry{info: ResourceInfo{
		Path: p, Kind: KindProject, Open: open, ModificationStamp: 0,
		Project: &ProjectMetadata{Name: name},
	}}
	return p
}

func (w *fakeWorkspace) addFolder(p Path) {
	w.entries[p] = &fakeEntry{info: ResourceInfo{Path: p, Kind: KindFolder, ModificationStamp: 0}}
}

func (w *fakeWorkspace) addFile(p Path, data string, stamp int64, ts time.Time) {
	w.entries[p] = &fakeEntry{
		info:    ResourceInfo{Path: p, Kind: KindFile, ModificationStamp: stamp, LocalTimestamp: ts, Attributes: &Attributes{}},
		content: []byte(data),
	}
}

func (w *fakeWorkspace) addState(p Path, id string, modTime time.Time, data string) *fakeState {
	s := &fakeState{id: id, modTime: modTime, data: []byte(data)}
	w.history[p] = append(w.history[p], s)
	w.states[id] = s
	return s
}

func (w *fakeWorkspace) deleteTree(p Path) {
	for q := range w.entries {
		if p.Contains(q) {
			delete(w.entries, q)
		}
	}
	w.markers = slices.DeleteFunc(w.markers, func(m *Marker) bool { return p.Contains(m.Path) })
}

func (w *fakeWorkspace) contents(p Path) string {
	e, ok := w.entries[p]
	if !ok {
		return ""
	}
	return string(e.content)
}

// Workspace

func (w *fakeWorkspace) Info(p Path) (*ResourceInfo, error) {
	e, ok := w.entries[p]
	if !ok {
		return nil, &ResourceError{Op: "info", Path: p, Err: ErrNotFound}
	}
	info := e.info
	return &info, nil
}

func (w *fakeWorkspace) Exists(p Path) bool {
	if p.IsRoot() {
		return true
	}
	_, ok := w.entries[p]
	return ok
}

func (w *fakeWorkspace) IsAccessible(p Path) bool {
	if !w.Exists(p) {
		return false
	}
	proj, ok := w.entries[p.Project()]
	return ok && proj.info.Open
}

func (w *fakeWorkspace) Members(p Path) ([]Path, error) {
	if !w.IsAccessible(p) {
		return nil, ErrNotAccessible
	}
	var out []Path
	for q := range w.entries {
		if q.Parent() == p && q != p {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (w *fakeWorkspace) create(p Path, info ResourceInfo, content []byte) error {
	if w.Exists(p) {
		return ErrResourceExists
	}
	if _, ok := w.occupied[p]; ok {
		return ErrPathOccupied
	}
	if !w.Exists(p.Parent()) {
		return fmt.Errorf("parent: %w", ErrNotFound)
	}
	info.Path = p
	info.Filters = w.pending[p]
	delete(w.pending, p)
	w.entries[p] = &fakeEntry{info: info, content: content}
	return nil
}

func (w *fakeWorkspace) CreateFile(_ context.Context, p Path, content io.Reader, mon Monitor) error {
	if err := w.record("CreateFile", p); err != nil {
		return err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	mon.Worked(1)
	return w.create(p, ResourceInfo{Kind: KindFile}, data)
}

func (w *fakeWorkspace) CreateFolder(_ context.Context, p Path, virtual bool, _ Monitor) error {
	if err := w.record("CreateFolder", p); err != nil {
		return err
	}
	return w.create(p, ResourceInfo{Kind: KindFolder, Virtual: virtual}, nil)
}

func (w *fakeWorkspace) CreateLink(_ context.Context, p Path, kind Kind, target string, _ Monitor) error {
	if err := w.record("CreateLink", p); err != nil {
		return err
	}
	return w.create(p, ResourceInfo{Kind: kind, LinkTarget: target}, nil)
}

func (w *fakeWorkspace) CreateProject(_ context.Context, p Path, meta *ProjectMetadata, _ Monitor) error {
	if err := w.record("CreateProject", p); err != nil {
		return err
	}
	m := *meta
	return w.create(p, ResourceInfo{Kind: KindProject, Project: &m}, nil)
}

func (w *fakeWorkspace) OpenProject(_ context.Context, p Path, _ Monitor) error {
	if err := w.record("OpenProject", p); err != nil {
		return err
	}
	w.entries[p].info.Open = true
	return nil
}

func (w *fakeWorkspace) CreateFilter(_ context.Context, p Path, filter ResourceFilter, _ Monitor) error {
	if err := w.record("CreateFilter", p); err != nil {
		return err
	}
	if e, ok := w.entries[p]; ok {
		e.info.Filters = append(e.info.Filters, filter)
		return nil
	}
	// Attached when the container is created.
	w.pending[p] = append(w.pending[p], filter)
	return nil
}

func (w *fakeWorkspace) SetCharset(p Path, charset string) error {
	if err := w.record("SetCharset", p); err != nil {
		return err
	}
	w.entries[p].info.Charset = charset
	return nil
}

func (w *fakeWorkspace) SetAttributes(p Path, attrs Attributes) error {
	if err := w.record("SetAttributes", p); err != nil {
		return err
	}
	w.entries[p].info.Attributes = &attrs
	return nil
}

func (w *fakeWorkspace) SetLocalTimestamp(p Path, t time.Time) error {
	if err := w.record("SetLocalTimestamp", p); err != nil {
		return err
	}
	w.entries[p].info.LocalTimestamp = t
	return nil
}

func (w *fakeWorkspace) RevertModificationStamp(p Path, stamp int64) error {
	if err := w.record("RevertModificationStamp", p); err != nil {
		return err
	}
	w.entries[p].info.ModificationStamp = stamp
	return nil
}

func (w *fakeWorkspace) RefreshLocal(_ context.Context, p Path) error {
	w.refreshed = append(w.refreshed, p)
	if data, ok := w.occupied[p]; ok && !w.filtered[p] {
		delete(w.occupied, p)
		w.entries[p] = &fakeEntry{info: ResourceInfo{Path: p, Kind: KindFile}, content: data}
	}
	return nil
}

// MarkerStore

func (w *fakeWorkspace) FindMarkers(p Path) ([]*Marker, error) {
	var out []*Marker
	for _, m := range w.markers {
		if m.Path == p {
			out = append(out, m)
		}
	}
	return out, nil
}

func (w *fakeWorkspace) CreateMarker(p Path, markerType string, attributes map[string]any) (*Marker, error) {
	w.nextID++
	m := &Marker{ID: w.nextID, Path: p, Type: markerType, Attributes: maps.Clone(attributes)}
	w.markers = append(w.markers, m)
	return m, nil
}

// HistoryStore

func (w *fakeWorkspace) History(_ context.Context, p Path) ([]HistoryState, error) {
	states := w.history[p]
	out := make([]HistoryState, 0, len(states))
	// newest first; stable on insertion order reversed for equal times
	for i := len(states) - 1; i >= 0; i-- {
		out = append(out, states[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModificationTime().After(out[j].ModificationTime())
	})
	return out, nil
}

func (w *fakeWorkspace) FindState(_ context.Context, id string) (HistoryState, error) {
	s, ok := w.states[id]
	if !ok {
		return nil, nil
	}
	return s, nil
}

// recordingMonitor accumulates reported work.
type recordingMonitor struct {
	total  int
	worked int
	done   bool
}

func (m *recordingMonitor) BeginTask(_ string, total int) { m.total = total }
func (m *recordingMonitor) SetTaskName(string)            {}
func (m *recordingMonitor) Worked(n int)                  { m.worked += n }
func (m *recordingMonitor) Done()                         { m.done = true }
