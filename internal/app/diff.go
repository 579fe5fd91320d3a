package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/encoding/ianaindex"

	"wsundo/internal/history"
	"wsundo/internal/undo"
)

// Diff returns a unified diff from the history state stateID of the file at
// rawPath to its current content. A deleted file diffs against nothing.
func (a *App) Diff(ctx context.Context, rawPath, stateID string) (string, error) {
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return "", err
	}

	found, err := a.history.FindState(ctx, stateID)
	if err != nil {
		return "", err
	}
	if found == nil {
		return "", fmt.Errorf("history state %s: %w", stateID, undo.ErrNotFound)
	}
	state := found.(*history.State)
	if state.Path() != p.String() {
		return "", fmt.Errorf("history state %s belongs to %s, not %s", stateID, state.Path(), p)
	}

	rc, err := state.Content()
	if err != nil {
		if a.NeedsUnlock() {
			return "", ErrLocked
		}
		return "", fmt.Errorf("reading history state %s: %w", stateID, err)
	}
	old, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("reading history state %s: %w", stateID, err)
	}

	var current []byte
	var currentCharset string
	if a.ws.Exists(p) {
		if current, err = a.Read(rawPath); err != nil {
			return "", err
		}
		info, err := a.ws.Info(p)
		if err != nil {
			return "", err
		}
		currentCharset = info.Charset
	}

	from, err := decodeText(old, state.Charset())
	if err != nil {
		return "", fmt.Errorf("decoding history state %s: %w", stateID, err)
	}
	to, err := decodeText(current, currentCharset)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", p, err)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(from),
		B:        difflib.SplitLines(to),
		FromFile: p.String() + "@" + stateID,
		FromDate: state.ModificationTime().UTC().Format(time.RFC3339),
		ToFile:   p.String(),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// decodeText converts data in charset to UTF-8. Empty and registered but
// unsupported charsets leave data as is.
func decodeText(data []byte, charset string) (string, error) {
	if charset == "" {
		return string(data), nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil {
		return "", err
	}
	if enc == nil {
		return string(data), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
