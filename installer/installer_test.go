package installer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steed-rs/ngdp/blte"
	"github.com/steed-rs/ngdp/casc/idx"
	"github.com/steed-rs/ngdp/espec"
	"github.com/steed-rs/ngdp/internal/ckey"
)

func TestCommitWritesArchiveAndIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))

	session := NewSessionState()
	in, err := Open(dir, session)
	require.NoError(t, err)

	content := []byte("hello casc archive content")
	encoded, err := blte.Encode(content, espec.Raw{}, blte.EncodeOptions{})
	require.NoError(t, err)
	ek := ckey.SumEncoding(encoded)

	require.NoError(t, in.Commit(ek, encoded, espec.Raw{}))

	fs := session.FileState(ek)
	require.True(t, fs.Done())

	require.NoError(t, in.Close())

	reopened, err := Open(dir, session)
	require.NoError(t, err)
	bucket := reopened.buckets[idx.Bucket(ek.Short())]
	entry, ok := bucket.Lookup(ek.Short())
	require.True(t, ok)
	require.Equal(t, fs.Size, entry.Size)
}

func TestCommitIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))

	session := NewSessionState()
	in, err := Open(dir, session)
	require.NoError(t, err)

	content := []byte("idempotent content")
	encoded, err := blte.Encode(content, espec.Raw{}, blte.EncodeOptions{})
	require.NoError(t, err)
	ek := ckey.SumEncoding(encoded)

	require.NoError(t, in.Commit(ek, encoded, espec.Raw{}))
	require.NoError(t, in.Commit(ek, encoded, espec.Raw{}))

	bucket := in.buckets[idx.Bucket(ek.Short())]
	count := 0
	for _, e := range bucket.Entries {
		if e.Key == ek.Short() {
			count++
		}
	}
	require.Equal(t, 1, count)
}
