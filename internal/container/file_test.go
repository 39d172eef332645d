package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// createTemp creates a container in a temp dir and closes it with the test.
func createTemp(t *testing.T, opts Options) (*File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "c.db")
	f, err := Create(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, path
}

func TestCreate_StampsIdentity(t *testing.T) {
	f, path := createTemp(t, Options{})

	_, err := os.Stat(path)
	require.NoError(t, err, "file was not created")

	id, err := f.ID(context.Background())
	require.NoError(t, err)
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.True(t, f.Writable())
}

func TestCreate_ExistingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	f, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Create(path, Options{})
	require.Error(t, err)
	assert.True(t, ir.IsAlreadyExistsError(err), "got %v", err)

	f2, err := Create(path, Options{Overwrite: true})
	require.NoError(t, err)
	defer f2.Close()

	children, err := f2.Root().Children(context.Background())
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestCreate_UnknownCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	_, err := Create(path, Options{Compression: "blosc"})
	require.Error(t, err)
	assert.True(t, ir.IsConfigurationError(err))
}

func TestOpen_ReadOnly(t *testing.T) {
	ctx := context.Background()
	f, path := createTemp(t, Options{})
	_, err := f.Root().CreateGroup(ctx, "g")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.Writable())
	ok, err := r.Root().Has(ctx, "g")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.Root().CreateGroup(ctx, "h")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestOpen_NotAContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not sqlite, just some bytes that go on for a while"), 0o644))

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, ir.IsUnrecognizedFormatError(err), "got %v", err)
}

func TestOpen_WrongSchemaVersion(t *testing.T) {
	f, path := createTemp(t, Options{})
	_, err := f.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.True(t, ir.IsUnrecognizedFormatError(err))
	assert.Contains(t, err.Error(), "99")
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClose_Idempotent(t *testing.T) {
	f, _ := createTemp(t, Options{})
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestCreateOpen_URISyntaxInPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{"a?mode=memory.db", "run#2.db", "100%.db", "with space.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			f, err := Create(path, Options{})
			require.NoError(t, err)
			require.NoError(t, f.Root().SetAttr(ctx, "name", ir.Text(name)))
			id, err := f.ID(ctx)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			info, err := os.Stat(path)
			require.NoError(t, err, "container must live at the exact path")
			assert.Positive(t, info.Size())

			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()
			got, err := r.ID(ctx)
			require.NoError(t, err)
			assert.Equal(t, id, got)
			v, err := r.Root().Attr(ctx, "name")
			require.NoError(t, err)
			assert.Equal(t, ir.Text(name), v)
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "no stray files from a truncated path")
}

func TestFileURI(t *testing.T) {
	uri, err := fileURI("/data/run#2?.db", true)
	require.NoError(t, err)
	assert.Equal(t, "file:///data/run%232%3F.db?mode=ro", uri)

	uri, err = fileURI("/data/seqs.db", false)
	require.NoError(t, err)
	assert.Equal(t, "file:///data/seqs.db?mode=rwc", uri)
}
