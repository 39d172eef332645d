package container

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial layout (nodes, attrs, arrays, record_columns)
//
// Files carrying any other user_version are rejected, never migrated.
const currentSchemaVersion = 1

// IDAttr is the root attribute holding the container's UUIDv7 identity.
const IDAttr = "container_id"

// Options controls how Create lays out a new container.
type Options struct {
	// Overwrite replaces an existing file instead of failing.
	Overwrite bool

	// Compression is applied to every array written through this handle.
	Compression Compression
}

// File is an open container.
type File struct {
	db          *sql.DB
	path        string
	writable    bool
	compression Compression
}

// Create makes a fresh container at path.
//
// Fails with an ir ALREADY_EXISTS error when path exists and
// opts.Overwrite is false. With Overwrite, the old file is removed first.
func Create(path string, opts Options) (*File, error) {
	if opts.Compression == "" {
		opts.Compression = CompressionZstd
	}
	if !opts.Compression.Valid() {
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "unknown compression preset %q", opts.Compression).WithPath(path)
	}

	if _, err := os.Stat(path); err == nil {
		if !opts.Overwrite {
			return nil, ir.Errorf(ir.ErrCodeAlreadyExists, "%q already exists", path).WithPath(path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove existing container: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat container: %w", err)
	}

	db, err := openDB(path, false)
	if err != nil {
		return nil, err
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	f := &File{db: db, path: path, writable: true, compression: opts.Compression}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `INSERT INTO nodes (id, parent_id, name, kind) VALUES (1, NULL, '', 'group')`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create root: %w", err)
	}
	if err := f.Root().SetAttr(ctx, IDAttr, ir.Text(uuid.Must(uuid.NewV7()).String())); err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("container created", "path", path, "compression", string(opts.Compression))
	return f, nil
}

// Open opens an existing container read-only.
//
// Fails with an ir UNRECOGNIZED_FORMAT error when the file is not a
// container or was written with a different schema version.
func Open(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}

	db, err := openDB(path, true)
	if err != nil {
		return nil, ir.Errorf(ir.ErrCodeUnrecognizedFormat, "%s is not a container", path).WithPath(path).Wrap(err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, ir.Errorf(ir.ErrCodeUnrecognizedFormat, "%s is not a container", path).WithPath(path).Wrap(err)
	}
	if version != currentSchemaVersion {
		db.Close()
		return nil, ir.Errorf(ir.ErrCodeUnrecognizedFormat,
			"container schema version %d, expected %d", version, currentSchemaVersion).WithPath(path)
	}

	var rootCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE id = 1 AND parent_id IS NULL`).Scan(&rootCount); err != nil || rootCount != 1 {
		db.Close()
		return nil, ir.Errorf(ir.ErrCodeUnrecognizedFormat, "%s has no root node", path).WithPath(path).Wrap(err)
	}

	return &File{db: db, path: path, writable: false}, nil
}

// openDB opens the SQLite file and applies required pragmas.
func openDB(path string, readOnly bool) (*sql.DB, error) {
	dsn, err := fileURI(path, readOnly)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One handle, one connection: transactions must see their own writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, readOnly); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return db, nil
}

// fileURI builds an SQLite URI for path. The path is escaped so that '?',
// '#' and '%' in file names are not read as URI syntax.
func fileURI(path string, readOnly bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	mode := "rwc"
	if readOnly {
		mode = "ro"
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=" + mode}
	return u.String(), nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, readOnly bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if !readOnly {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = DELETE",
			"PRAGMA synchronous = FULL",
		)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates the layout tables and stamps the schema version.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Path returns the filesystem path the container was opened from.
func (f *File) Path() string {
	return f.path
}

// Writable reports whether the container was created by this handle.
func (f *File) Writable() bool {
	return f.writable
}

// Root returns the root group.
func (f *File) Root() *Group {
	return &Group{f: f, q: f.db, id: 1, path: "/"}
}

// ID returns the container identity stamped at creation.
func (f *File) ID(ctx context.Context) (string, error) {
	v, err := f.Root().Attr(ctx, IDAttr)
	if err != nil {
		return "", err
	}
	s, _ := v.(ir.Text)
	return string(s), nil
}

// Update runs fn against the root group inside one transaction.
// If fn returns an error, nothing it wrote is kept.
func (f *File) Update(ctx context.Context, fn func(root *Group) error) error {
	return f.Root().Update(ctx, fn)
}

// Close closes the database connection. Safe to call more than once.
func (f *File) Close() error {
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}
