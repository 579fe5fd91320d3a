package testutil

import (
	"testing"

	"github.com/spf13/afero"

	"wsundo/internal/database"
	"wsundo/internal/encryption"
	"wsundo/internal/history"
	"wsundo/internal/undo"
	"wsundo/internal/vault"
	"wsundo/internal/workspace"
)

// Stack is a fully wired in-memory workspace with history.
type Stack struct {
	Clock     *StubClock
	IDs       *StubIDGenerator
	FS        afero.Fs
	LinkFS    afero.Fs
	DB        *database.SQLiteDatabase
	Vault     *vault.MemoryVault
	Encryptor *encryption.TestEncryptor
	History   *history.Store
	Workspace *workspace.Workspace
}

// StackOption configures NewStack.
type StackOption func(*stackConfig)

type stackConfig struct {
	maxStates int
	encrypt   bool
}

// WithMaxStates limits retained history states per file.
func WithMaxStates(n int) StackOption {
	return func(c *stackConfig) { c.maxStates = n }
}

// WithEncryption seals history content with a TestEncryptor.
func WithEncryption() StackOption {
	return func(c *stackConfig) { c.encrypt = true }
}

// NewStack builds a Stack whose database is closed when the test completes.
func NewStack(t *testing.T, opts ...StackOption) *Stack {
	t.Helper()
	var cfg stackConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Stack{
		Clock:     FixedClock(),
		IDs:       NewStubIDGenerator(),
		FS:        afero.NewMemMapFs(),
		LinkFS:    afero.NewMemMapFs(),
		Vault:     vault.NewMemoryVault("test-vault"),
		Encryptor: encryption.NewTestEncryptor(),
	}
	s.DB = NewTestDatabase(t, s.Clock)

	historyOpts := []history.Option{
		history.WithClock(s.Clock),
		history.WithIDGenerator(s.IDs),
		history.WithMaxStates(cfg.maxStates),
	}
	if cfg.encrypt {
		historyOpts = append(historyOpts, history.WithEncryptor(s.Encryptor))
	}
	s.History = history.NewStore(s.DB, s.Vault, historyOpts...)
	s.Workspace = workspace.New(s.FS, s.DB,
		workspace.WithHistory(s.History),
		workspace.WithLinkFs(s.LinkFS),
		workspace.WithClock(s.Clock),
	)
	return s
}

// Env returns a description environment over the stack.
func (s *Stack) Env() *undo.Env {
	return undo.NewEnv(s.Workspace, s.DB, s.History, nil)
}
