// Package history keeps prior states of workspace files. Content is stored
// once per checksum in a Vault, optionally encrypted; the states themselves
// are indexed in the database.
package history

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"wsundo/internal/model"
	"wsundo/internal/undo"
)

// DefaultMaxStates is the number of states kept per path when no limit is set.
const DefaultMaxStates = 50

// Index persists history states and the content they reference.
type Index interface {
	CreateContent(c *model.Content) error
	FindContentByChecksum(checksum string) (*model.Content, error)
	DeleteContent(checksum string) error
	CountContentReferences(checksum string) (int, error)

	CreateHistoryState(h *model.HistoryState) error
	FindHistoryStates(path string) ([]*model.HistoryState, error)
	FindHistoryState(id string) (*model.HistoryState, error)
	DeleteHistoryState(id string) error
}

// Store is the file history. It implements undo.HistoryStore for reading
// and workspace.HistoryRecorder for writing.
type Store struct {
	index     Index
	vault     Vault
	encryptor Encryptor
	decrypt   DecryptionContext
	maxStates int
	clock     undo.Clock
	ids       undo.IDGenerator
	logger    undo.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEncryptor encrypts content before it reaches the vault.
func WithEncryptor(e Encryptor) Option {
	return func(s *Store) { s.encryptor = e }
}

// WithMaxStates limits the states kept per path. Values below 1 use DefaultMaxStates.
func WithMaxStates(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxStates = n
		}
	}
}

func WithClock(c undo.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithIDGenerator(g undo.IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

func WithLogger(l undo.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store indexing states in index and keeping content in vault.
func NewStore(index Index, vault Vault, opts ...Option) *Store {
	s := &Store{
		index:     index,
		vault:     vault,
		maxStates: DefaultMaxStates,
		clock:     undo.RealClock{},
		ids:       undo.UUIDGenerator{},
		logger:    undo.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unlock makes encrypted content readable for the rest of the session.
func (s *Store) Unlock(dc DecryptionContext) {
	s.decrypt = dc
}

// Record stores the content read from r as the newest state of p and
// prunes states beyond the retention limit.
func (s *Store) Record(ctx context.Context, p undo.Path, r io.Reader, modTime time.Time, charset string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", undo.ErrCanceled, err)
	}

	var plain bytes.Buffer
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(&plain, h), r); err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	checksum := hex.EncodeToString(h.Sum(nil))

	if err := s.storeContent(checksum, &plain); err != nil {
		return err
	}

	state := &model.HistoryState{
		ID:         s.ids.New(),
		Path:       p.String(),
		ContentID:  checksum,
		ModifiedAt: modTime,
		Charset:    charset,
		RecordedAt: s.clock.Now(),
	}
	if err := s.index.CreateHistoryState(state); err != nil {
		return fmt.Errorf("recording state: %w", err)
	}
	s.logger.Debug("recorded history state", "path", p, "id", state.ID, "checksum", checksum)

	return s.prune(p)
}

// storeContent uploads content unless the vault already holds it.
func (s *Store) storeContent(checksum string, plain *bytes.Buffer) error {
	existing, err := s.index.FindContentByChecksum(checksum)
	if err != nil {
		return err
	}
	if existing != nil {
		ok, err := s.vault.HasContent(checksum)
		if err != nil {
			return fmt.Errorf("checking vault: %w", err)
		}
		if ok {
			return nil
		}
		s.logger.Warn("indexed content missing from vault, uploading again", "checksum", checksum)
	}

	size := int64(plain.Len())
	payload := plain
	encrypted := s.encryptor != nil
	if encrypted {
		var sealed bytes.Buffer
		if err := s.encryptor.Encrypt(plain, &sealed); err != nil {
			return fmt.Errorf("encrypting content: %w", err)
		}
		payload = &sealed
	}

	if err := s.vault.PutContent(checksum, payload, int64(payload.Len())); err != nil {
		return fmt.Errorf("storing content: %w", err)
	}
	if existing != nil {
		return nil
	}
	return s.index.CreateContent(&model.Content{ID: checksum, Size: size, Encrypted: encrypted})
}

// prune drops the oldest states of p beyond the retention limit, and their
// content once no state references it.
func (s *Store) prune(p undo.Path) error {
	states, err := s.index.FindHistoryStates(p.String())
	if err != nil {
		return err
	}
	if len(states) <= s.maxStates {
		return nil
	}

	for _, state := range states[s.maxStates:] {
		if err := s.index.DeleteHistoryState(state.ID); err != nil {
			return fmt.Errorf("pruning state %s: %w", state.ID, err)
		}
		refs, err := s.index.CountContentReferences(state.ContentID)
		if err != nil {
			return err
		}
		if refs > 0 {
			continue
		}
		if err := s.vault.DeleteContent(state.ContentID); err != nil {
			return fmt.Errorf("pruning content %s: %w", state.ContentID, err)
		}
		if err := s.index.DeleteContent(state.ContentID); err != nil {
			return err
		}
	}
	s.logger.Debug("pruned history", "path", p, "removed", len(states)-s.maxStates)
	return nil
}

// History implements undo.HistoryStore.
func (s *Store) History(ctx context.Context, p undo.Path) ([]undo.HistoryState, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", undo.ErrCanceled, err)
	}
	rows, err := s.index.FindHistoryStates(p.String())
	if err != nil {
		return nil, err
	}
	states := make([]undo.HistoryState, 0, len(rows))
	for _, row := range rows {
		states = append(states, &State{store: s, row: row})
	}
	return states, nil
}

// FindState implements undo.HistoryStore.
func (s *Store) FindState(ctx context.Context, id string) (undo.HistoryState, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", undo.ErrCanceled, err)
	}
	row, err := s.index.FindHistoryState(id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return &State{store: s, row: row}, nil
}

var _ undo.HistoryStore = (*Store)(nil)
