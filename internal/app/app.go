package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"

	"wsundo/internal/config"
	"wsundo/internal/database"
	"wsundo/internal/encryption"
	"wsundo/internal/history"
	"wsundo/internal/model"
	"wsundo/internal/undo"
	"wsundo/internal/vault"
	"wsundo/internal/workspace"
)

var (
	// ErrLocked is returned when history content is encrypted and Unlock
	// has not been called.
	ErrLocked = errors.New("history is locked: unlock with the passphrase first")

	// ErrNoEncryption is returned by Unlock and SetupEncryption when no
	// encryptor is configured.
	ErrNoEncryption = errors.New("encryption is not configured")
)

// App is the application layer between the CLI and the workspace.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the DB lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	vault     history.Vault
	encryptor history.Encryptor
	history   *history.Store
	ws        *workspace.Workspace
	env       *undo.Env
	logger    undo.Logger
	monitor   undo.Monitor
	op        *Operation
	logFile   io.Closer
	unlocked  bool
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Delete", "Undo")
// and parameters its arguments. The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation, parameters string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Check local DB version against remote vault version.
	remoteVersion, err := v.GetMetadataVersion(cfg.HostID, "db")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking remote metadata version: %w", err)
	}

	localMax, err := db.MaxOperationID()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking local metadata version: %w", err)
	}

	if remoteVersion > localMax {
		db.Close()
		return nil, fmt.Errorf("local database is behind remote (local=%d, remote=%d): restore from vault or re-initialize", localMax, remoteVersion)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	fs, err := newWorkspaceFs(cfg.Workspace)
	if err != nil {
		db.Close()
		return nil, err
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, logLevel())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	historyOpts := []history.Option{
		history.WithMaxStates(cfg.History.EffectiveMaxStates()),
		history.WithLogger(logger),
	}
	if cfg.History.Encrypt {
		if enc == nil {
			db.Close()
			logFile.Close()
			return nil, ErrNoEncryption
		}
		historyOpts = append(historyOpts, history.WithEncryptor(enc))
	}
	hs := history.NewStore(db, v, historyOpts...)

	ws := workspace.New(fs, db,
		workspace.WithHistory(hs),
		workspace.WithLogger(logger),
	)

	return &App{
		cfg:       cfg,
		db:        db,
		vault:     v,
		encryptor: enc,
		history:   hs,
		ws:        ws,
		env:       undo.NewEnv(ws, db, hs, logger),
		logger:    logger,
		monitor:   undo.NopMonitor{},
		op:        NewOperation(operation, parameters),
		logFile:   logFile,
	}, nil
}

// newWorkspaceFs returns the filesystem resource bytes live on. Workspace
// paths are rooted at the configured directory.
func newWorkspaceFs(cfg config.WorkspaceConfig) (afero.Fs, error) {
	switch cfg.Type {
	case "os":
		if err := os.MkdirAll(cfg.Root, 0755); err != nil {
			return nil, fmt.Errorf("creating workspace root: %w", err)
		}
		return afero.NewBasePathFs(afero.NewOsFs(), cfg.Root), nil
	case "memory":
		return afero.NewMemMapFs(), nil
	default:
		return nil, fmt.Errorf("unknown workspace type: %q", cfg.Type)
	}
}

// SetMonitor reports the progress of long running operations to mon.
func (a *App) SetMonitor(mon undo.Monitor) {
	if mon == nil {
		mon = undo.NopMonitor{}
	}
	a.monitor = mon
}

// Operation returns the operation this App was created for.
func (a *App) Operation() *Operation {
	return a.op
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *App) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// NeedsUnlock reports whether history content is encrypted and not yet unlocked.
func (a *App) NeedsUnlock() bool {
	return a.cfg.History.Encrypt && !a.unlocked
}

// Unlock makes encrypted history content readable.
func (a *App) Unlock(passphrase string) error {
	if a.encryptor == nil {
		return ErrNoEncryption
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking history: %w", err)
	}
	a.history.Unlock(dc)
	a.unlocked = true
	return nil
}

// keyBackup is implemented by encryptors whose keys can be copied to a vault.
type keyBackup interface {
	BackupKeys(v history.Vault, hostID string) error
}

// SetupEncryption creates the encryption keys, protected by passphrase, and
// backs them up to the vault when the encryptor supports it.
func (a *App) SetupEncryption(passphrase string) error {
	if a.encryptor == nil {
		return ErrNoEncryption
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	if kb, ok := a.encryptor.(keyBackup); ok {
		if err := kb.BackupKeys(a.vault, a.cfg.HostID); err != nil {
			return fmt.Errorf("backing up keys: %w", err)
		}
	}
	a.logger.Info("encryption configured")
	return nil
}

// CreateProject creates a closed project directly below the root.
func (a *App) CreateProject(ctx context.Context, name, comment string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(name)
	if err != nil {
		return err
	}
	meta := &undo.ProjectMetadata{Name: p.Name(), Comment: comment}
	return a.ws.CreateProject(ctx, p, meta, a.monitor)
}

// OpenProject opens the project and refreshes its members from storage.
func (a *App) OpenProject(ctx context.Context, rawPath string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	if err := a.ws.OpenProject(ctx, p, a.monitor); err != nil {
		return err
	}
	return a.ws.RefreshLocal(ctx, p)
}

// CloseProject closes the project.
func (a *App) CloseProject(ctx context.Context, rawPath string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	return a.ws.CloseProject(ctx, p)
}

// Mkdir creates a folder. Virtual folders have no storage location. With
// parents, missing ancestors are created too, a missing project included,
// and undo removes everything that was created.
func (a *App) Mkdir(ctx context.Context, rawPath string, virtual, parents bool) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	if !parents {
		return a.createDescribed(ctx, undo.NewFolderHandleDescription(a.env, p.Parent(), p.Name(), virtual, ""))
	}

	if a.ws.Exists(p) {
		return fmt.Errorf("creating %s: %w", p, undo.ErrResourceExists)
	}
	d, err := undo.DescribeMissingContainer(a.env, p, virtual)
	if err != nil {
		return err
	}
	if err := a.createDescribed(ctx, d); err != nil {
		return err
	}
	a.logger.Debug("created folders", "from", d.Path(), "to", d.FirstLeafFolder().Path())
	return nil
}

// Link creates a linked file or folder pointing at target.
func (a *App) Link(ctx context.Context, rawPath string, kind undo.Kind, target string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	switch kind {
	case undo.KindFile:
		return a.createDescribed(ctx, undo.NewLinkedFileDescription(a.env, p.Parent(), p.Name(), target))
	case undo.KindFolder:
		return a.createDescribed(ctx, undo.NewFolderHandleDescription(a.env, p.Parent(), p.Name(), false, target))
	default:
		return fmt.Errorf("linking %s: %w: cannot link a %s", p, undo.ErrInvalidPath, kind)
	}
}

// Write creates the file at rawPath with content, or replaces the content
// of an existing file. Both can be undone; the replaced content is also
// kept in history.
func (a *App) Write(ctx context.Context, rawPath string, content io.Reader) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	// Adopt an untracked file at p so it is overwritten rather than kept.
	if err := a.ws.RefreshLocal(ctx, p); err != nil {
		return err
	}
	if a.ws.Exists(p) {
		return a.overwrite(ctx, p, content)
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("reading content for %s: %w", p, err)
	}
	return a.createDescribed(ctx, undo.NewFileDescriptionWithContent(a.env, p.Parent(), p.Name(), data, ""))
}

// Read returns the content of the file at rawPath.
func (a *App) Read(rawPath string) ([]byte, error) {
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	rc, err := a.ws.OpenContents(p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// SetCharset sets the charset of a file, or the default charset of a container.
func (a *App) SetCharset(rawPath, charset string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	return a.ws.SetCharset(p, charset)
}

// List returns the members of the container at rawPath.
func (a *App) List(rawPath string, recursive bool) ([]*undo.ResourceInfo, error) {
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	if !p.IsRoot() && !a.ws.IsAccessible(p) {
		if a.ws.Exists(p) {
			return nil, fmt.Errorf("listing %s: %w", p, undo.ErrNotAccessible)
		}
		return nil, fmt.Errorf("listing %s: %w", p, undo.ErrNotFound)
	}
	return a.ws.List(p, recursive)
}

// Refresh brings the tree at and below rawPath in line with storage.
func (a *App) Refresh(ctx context.Context, rawPath string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	return a.ws.RefreshLocal(ctx, p)
}

// AddMarker attaches a marker to the resource at rawPath.
func (a *App) AddMarker(rawPath, markerType string, attrs map[string]any) (*undo.Marker, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	if !a.ws.Exists(p) {
		return nil, fmt.Errorf("adding marker to %s: %w", p, undo.ErrNotFound)
	}
	return a.db.CreateMarker(p, markerType, attrs)
}

// Markers returns the markers attached to the resource at rawPath.
func (a *App) Markers(rawPath string) ([]*undo.Marker, error) {
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	return a.db.FindMarkers(p)
}

// AddFilter attaches a resource filter to the container at rawPath.
func (a *App) AddFilter(ctx context.Context, rawPath string, filter undo.ResourceFilter) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return err
	}
	return a.ws.CreateFilter(ctx, p, filter, a.monitor)
}

// History returns the retained states of the file at rawPath, newest first.
func (a *App) History(ctx context.Context, rawPath string) ([]*history.State, error) {
	p, err := undo.ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	states, err := a.history.History(ctx, p)
	if err != nil {
		return nil, err
	}
	result := make([]*history.State, 0, len(states))
	for _, s := range states {
		result = append(result, s.(*history.State))
	}
	return result, nil
}

// Log returns the most recent operations.
func (a *App) Log(limit int) ([]*model.Operation, error) {
	return a.db.ListOperations(limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, backs up the DB, and uploads to vault.
// For non-persisted operations: just closes the database.
func (a *App) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}

		// Snapshot the DB to a temp file
		var tmpPath string
		tmpFile, err := os.CreateTemp("", "wsundo-db-backup-*.db")
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("creating temp file for db backup: %w", err)
			}
		} else {
			tmpPath = tmpFile.Name()
			tmpFile.Close()

			if err := a.db.BackupTo(tmpPath); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("backing up database: %w", err)
				}
				tmpPath = ""
			}
		}

		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}

		// Upload DB snapshot to vault with version = operation ID
		if tmpPath != "" {
			if err := a.uploadMetadata(tmpPath, a.op.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			os.Remove(tmpPath)
		}
	} else if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// uploadMetadata opens the temp DB file and uploads it to the vault as metadata.
func (a *App) uploadMetadata(path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening db backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db backup: %w", err)
	}

	if err := a.vault.PutMetadata(a.cfg.HostID, "db", f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading metadata to vault: %w", err)
	}

	return nil
}
