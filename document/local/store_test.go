package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flarexio/mooli/document"
)

func TestSaveFetchRelease(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()
	root := t.TempDir()

	store, err := NewStore(root)
	assert.NoError(err)

	ref, err := store.Save(ctx, "../../etc/PythonAI.pdf", strings.NewReader("%PDF-1.4"))
	assert.NoError(err)
	assert.True(ref.Temporary)
	assert.Equal("PythonAI.pdf", ref.Name())
	assert.True(strings.HasPrefix(ref.Path, store.Root()))

	data, err := store.Fetch(ctx, ref)
	assert.NoError(err)
	assert.Equal("%PDF-1.4", string(data))

	err = store.Release(ctx, ref)
	assert.NoError(err)

	_, err = os.Stat(ref.Path)
	assert.True(os.IsNotExist(err))

	_, err = os.Stat(filepath.Dir(ref.Path))
	assert.True(os.IsNotExist(err))

	_, err = os.Stat(root)
	assert.NoError(err)
}

func TestFetchMissing(t *testing.T) {
	assert := assert.New(t)

	store, err := NewStore(t.TempDir())
	assert.NoError(err)

	_, err = store.Fetch(context.Background(), document.Ref{Path: "/does/not/exist.pdf"})
	assert.ErrorIs(err, document.ErrFetchFailure)

	_, err = store.Fetch(context.Background(), document.Ref{Key: "uploads/a.pdf"})
	assert.ErrorIs(err, document.ErrFetchFailure)
}

func TestReleaseKeepsPermanentFiles(t *testing.T) {
	assert := assert.New(t)

	root := t.TempDir()
	store, err := NewStore(root)
	assert.NoError(err)

	path := filepath.Join(root, "keep.txt")
	assert.NoError(os.WriteFile(path, []byte("keep"), 0o644))

	assert.NoError(store.Release(context.Background(), document.Ref{Path: path}))

	_, err = os.Stat(path)
	assert.NoError(err)

	outside := filepath.Join(t.TempDir(), "other.txt")
	assert.NoError(os.WriteFile(outside, []byte("x"), 0o644))

	err = store.Release(context.Background(), document.Ref{Path: outside, Temporary: true})
	assert.ErrorIs(err, ErrOutsideRoot)
}

func TestSaveRejectsEmptyName(t *testing.T) {
	store, err := NewStore(t.TempDir())
	assert.NoError(t, err)

	_, err = store.Save(context.Background(), "", strings.NewReader("x"))
	assert.ErrorIs(t, err, document.ErrInvalidRef)
}

func TestFetchOutsideRoots(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()
	base := t.TempDir()

	secret := filepath.Join(base, "secret.txt")
	assert.NoError(os.WriteFile(secret, []byte("db_password=hunter2"), 0o644))

	inbox := filepath.Join(base, "inbox")
	assert.NoError(os.MkdirAll(inbox, 0o755))

	dropped := filepath.Join(inbox, "notes.md")
	assert.NoError(os.WriteFile(dropped, []byte("# Notes"), 0o644))

	guide := filepath.Join(base, "docs", "guide.txt")
	assert.NoError(os.MkdirAll(filepath.Dir(guide), 0o755))
	assert.NoError(os.WriteFile(guide, []byte("guide"), 0o644))

	store, err := NewStore(filepath.Join(base, "uploads"), WithRoots(inbox, guide))
	if !assert.NoError(err) {
		return
	}

	data, err := store.Fetch(ctx, document.Ref{Path: secret})
	assert.ErrorIs(err, document.ErrFetchFailure)
	assert.ErrorIs(err, ErrOutsideRoot)
	assert.Nil(data)

	_, err = store.Fetch(ctx, document.Ref{Path: filepath.Join(base, "uploads", "..", "secret.txt")})
	assert.ErrorIs(err, ErrOutsideRoot)

	link := filepath.Join(base, "uploads", "link.txt")
	if err := os.Symlink(secret, link); err == nil {
		_, err = store.Fetch(ctx, document.Ref{Path: link})
		assert.ErrorIs(err, ErrOutsideRoot)
	}

	data, err = store.Fetch(ctx, document.Ref{Path: dropped})
	assert.NoError(err)
	assert.Equal("# Notes", string(data))

	data, err = store.Fetch(ctx, document.Ref{Path: guide})
	assert.NoError(err)
	assert.Equal("guide", string(data))

	_, err = store.Fetch(ctx, document.Ref{Path: filepath.Join(base, "docs", "other.txt")})
	assert.ErrorIs(err, document.ErrFetchFailure)
}
