package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"wsundo/internal/model"
	"wsundo/internal/undo"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrConflict is returned when the workspace no longer matches the
	// state an undo or redo entry expects.
	ErrConflict = errors.New("workspace conflict")
)

// Actions recorded on the undo stack.
const (
	// actionDelete removed Path. Undo recreates Record.
	actionDelete = "delete"
	// actionCreate created Path. Undo deletes it again and keeps what it
	// deleted in Record for redo.
	actionCreate = "create"
	// actionWrite replaced the content of Path. Record holds the other
	// content; undo and redo swap it with the current one.
	actionWrite = "write"
)

// stackPayload is what an undo entry stores.
type stackPayload struct {
	Action string       `json:"action"`
	Path   undo.Path    `json:"path"`
	Record *undo.Record `json:"record,omitempty"`
}

func (p *stackPayload) encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding undo entry for %s: %w", p.Path, err)
	}
	return data, nil
}

func (a *App) push(payload *stackPayload) error {
	data, err := payload.encode()
	if err != nil {
		return err
	}
	entry, err := a.db.PushUndoEntry(payload.Action+" "+payload.Path.String(), data)
	if err != nil {
		return err
	}
	a.logger.Info("recorded undo entry", "action", payload.Action, "path", payload.Path, "undo_entry", entry.ID)
	return nil
}

// Delete removes the resource at rawPath and everything below it. The
// deletion can be reverted with Undo.
func (a *App) Delete(ctx context.Context, rawPath string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	if a.NeedsUnlock() {
		return ErrLocked
	}

	rec, err := a.deleteDescribed(ctx, p)
	if err != nil {
		return err
	}
	return a.push(&stackPayload{Action: actionDelete, Path: p, Record: rec})
}

// deleteDescribed captures p, deletes it and completes the capture from
// history. Members of a closed project cannot be captured, so they are
// not deleted either.
func (a *App) deleteDescribed(ctx context.Context, p undo.Path) (*undo.Record, error) {
	if !a.ws.IsAccessible(p) {
		if a.ws.Exists(p) {
			return nil, fmt.Errorf("deleting %s: open its project first: %w", p, undo.ErrNotAccessible)
		}
		return nil, fmt.Errorf("deleting %s: %w", p, undo.ErrNotFound)
	}
	d, err := undo.Describe(a.env, p)
	if err != nil {
		return nil, err
	}
	if err := a.ws.Delete(ctx, p); err != nil {
		return nil, err
	}
	// The deletion is done; a failure from here on leaves an entry whose
	// files restore with placeholder content.
	if err := d.RecordStateFromHistory(ctx, p, a.monitor); err != nil {
		a.logger.Warn("resolving content from history failed", "path", p, "error", err)
	}
	return undo.Export(d), nil
}

// recreate brings back the resource described by rec. Unless force is
// set, it refuses when a file in it would get placeholder content.
func (a *App) recreate(ctx context.Context, rec *undo.Record, force bool) (undo.Path, error) {
	d, err := undo.Import(ctx, a.env, rec)
	if err != nil {
		return "", err
	}

	if d.VerifyExistence(false) {
		return "", fmt.Errorf("%w: %s already exists", ErrConflict, d.Path())
	}
	if !d.IsValid() && !a.ws.Exists(d.Parent()) {
		return "", fmt.Errorf("%w: parent of %s does not exist", ErrConflict, d.Path())
	}
	if missing := undo.UnresolvedFiles(d); len(missing) > 0 {
		if !force {
			return "", fmt.Errorf("%w: content of %s is no longer in history", ErrConflict, missing[0])
		}
		a.logger.Warn("restoring files without content", "path", d.Path(), "files", len(missing))
	}
	return d.CreateResource(ctx, a.monitor)
}

// createDescribed creates d and records an entry whose undo deletes it.
func (a *App) createDescribed(ctx context.Context, d undo.Description) error {
	p := d.Path()
	if a.ws.Exists(p) {
		return fmt.Errorf("creating %s: %w", p, undo.ErrResourceExists)
	}
	if _, err := d.CreateResource(ctx, a.monitor); err != nil {
		return err
	}
	return a.push(&stackPayload{Action: actionCreate, Path: p})
}

// captureContents describes the file at p with its current bytes.
func (a *App) captureContents(p undo.Path) (*undo.FileDescription, error) {
	info, err := a.ws.Info(p)
	if err != nil {
		return nil, err
	}
	rc, err := a.ws.OpenContents(p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return undo.NewFileDescriptionWithContent(a.env, p.Parent(), p.Name(), data, info.Charset), nil
}

// overwrite replaces the content of the existing file p and records an
// entry holding the replaced content.
func (a *App) overwrite(ctx context.Context, p undo.Path, content io.Reader) error {
	previous, err := a.captureContents(p)
	if err != nil {
		return err
	}
	if err := a.ws.SetContents(ctx, p, content); err != nil {
		return err
	}
	return a.push(&stackPayload{Action: actionWrite, Path: p, Record: undo.Export(previous)})
}

// swapContents writes the content held by rec into the file at p and
// returns a record of the content it replaced.
func (a *App) swapContents(ctx context.Context, p undo.Path, rec *undo.Record) (*undo.Record, error) {
	d, err := undo.Import(ctx, a.env, rec)
	if err != nil {
		return nil, err
	}
	f, ok := d.(*undo.FileDescription)
	if !ok || !f.HasContent() {
		return nil, fmt.Errorf("undo entry for %s holds no file content", p)
	}
	if !f.VerifyExistence(false) {
		return nil, fmt.Errorf("%w: %s no longer exists", ErrConflict, p)
	}

	current, err := a.captureContents(p)
	if err != nil {
		return nil, err
	}
	rc, err := f.Content().Open()
	if err != nil {
		return nil, fmt.Errorf("opening content for %s: %w", p, err)
	}
	defer rc.Close()
	if err := a.ws.SetContents(ctx, p, rc); err != nil {
		return nil, err
	}
	return undo.Export(current), nil
}

func decodePayload(entry *model.UndoEntry) (*stackPayload, error) {
	var payload stackPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decoding undo entry %d: %w", entry.ID, err)
	}
	return &payload, nil
}

// Undo reverts the most recent undoable entry and returns the path it
// touched. Unless force is set, it refuses to recreate files whose content
// is no longer in history.
func (a *App) Undo(ctx context.Context, force bool) (undo.Path, error) {
	return a.step(ctx, model.UndoStateUndoable, force)
}

// Redo applies again the entry most recently reverted by Undo.
func (a *App) Redo(ctx context.Context, force bool) (undo.Path, error) {
	return a.step(ctx, model.UndoStateRedoable, force)
}

// step reverts (from undoable) or re-applies (from redoable) the top entry
// in state from, then moves it to the other state.
func (a *App) step(ctx context.Context, from string, force bool) (undo.Path, error) {
	if err := a.persistOperation(); err != nil {
		return "", err
	}
	if a.NeedsUnlock() {
		return "", ErrLocked
	}

	entry, err := a.db.PeekUndoEntry(from)
	if err != nil {
		return "", err
	}
	if entry == nil {
		if from == model.UndoStateUndoable {
			return "", ErrNothingToUndo
		}
		return "", ErrNothingToRedo
	}
	payload, err := decodePayload(entry)
	if err != nil {
		return "", err
	}

	// Undoing a delete and redoing a create both recreate the resource.
	recreating := (payload.Action == actionDelete) == (from == model.UndoStateUndoable)
	p := payload.Path
	switch {
	case payload.Action == actionWrite:
		rec, err := a.swapContents(ctx, p, payload.Record)
		if err != nil {
			return "", err
		}
		payload.Record = rec
	case recreating:
		if payload.Record == nil {
			return "", fmt.Errorf("undo entry %d has nothing to recreate", entry.ID)
		}
		if p, err = a.recreate(ctx, payload.Record, force); err != nil {
			return "", err
		}
	default:
		if !a.ws.Exists(p) {
			return "", fmt.Errorf("%w: %s no longer exists", ErrConflict, p)
		}
		// Describe again: the resource may have changed since it was created
		// or restored.
		rec, err := a.deleteDescribed(ctx, p)
		if err != nil {
			return "", err
		}
		payload.Record = rec
	}

	data, err := payload.encode()
	if err != nil {
		return "", err
	}
	to := model.UndoStateRedoable
	if from == model.UndoStateRedoable {
		to = model.UndoStateUndoable
	}
	if err := a.db.UpdateUndoEntry(entry.ID, to, data); err != nil {
		return "", err
	}
	a.logger.Info("moved undo entry", "action", payload.Action, "path", p, "undo_entry", entry.ID, "state", to)
	return p, nil
}

// UndoEntries returns up to limit entries of the undo stack, newest first.
func (a *App) UndoEntries(limit int) ([]*model.UndoEntry, error) {
	return a.db.ListUndoEntries(limit)
}
