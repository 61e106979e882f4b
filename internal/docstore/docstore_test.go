package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBolt(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBolt(filepath.Join(t.TempDir(), "nested", "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	const path = "syllabi/u1/c1/syllabus.pdf"

	_, err = store.Get(ctx, path)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, path, []byte("%PDF-1.4 first")))
	require.NoError(t, store.Put(ctx, path, []byte("%PDF-1.4 second")))

	got, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 second", string(got))

	require.NoError(t, store.Delete(ctx, path))
	_, err = store.Get(ctx, path)
	assert.ErrorIs(t, err, ErrNotFound)
}
