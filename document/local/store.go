// Package local keeps uploaded documents on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/flarexio/mooli/document"
)

var ErrOutsideRoot = errors.New("path is outside the allowed directories")

// Store reads documents only from the upload root and any extra roots it was
// given. A root may be a directory or a single file.
type Store struct {
	root  string
	roots []string
}

type Option func(*Store) error

// WithRoots allows Fetch to read paths under each of roots.
func WithRoots(roots ...string) Option {
	return func(s *Store) error {
		for _, root := range roots {
			if root == "" {
				continue
			}

			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			s.roots = append(s.roots, abs)
		}

		return nil
	}
}

func NewStore(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}

	s := &Store{root: abs, roots: []string{abs}}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

// Save copies r into its own directory under the root and returns a
// temporary ref to it.
func (s *Store) Save(ctx context.Context, name string, r io.Reader) (document.Ref, error) {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		return document.Ref{}, document.ErrInvalidRef
	}

	dir := filepath.Join(s.root, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return document.Ref{}, err
	}

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return document.Ref{}, err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return document.Ref{}, err
	}

	if err := f.Close(); err != nil {
		os.RemoveAll(dir)
		return document.Ref{}, err
	}

	return document.Ref{Path: path, Temporary: true}, nil
}

func (s *Store) Fetch(ctx context.Context, ref document.Ref) ([]byte, error) {
	if !ref.Local() {
		return nil, fmt.Errorf("%w: %w", document.ErrFetchFailure, document.ErrInvalidRef)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", document.ErrFetchFailure, err)
	}

	path, err := s.resolve(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", document.ErrFetchFailure, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", document.ErrFetchFailure, err)
	}

	return data, nil
}

// resolve follows symlinks in path and checks the result against every
// allowed root.
func (s *Store) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}

	for _, root := range s.roots {
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			root = resolved
		}

		if target == root || strings.HasPrefix(target, root+string(filepath.Separator)) {
			return target, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
}

// Release deletes temporary copies saved under the root, along with their
// upload directory once it is empty. Other refs are left alone.
func (s *Store) Release(ctx context.Context, ref document.Ref) error {
	if !ref.Local() || !ref.Temporary {
		return nil
	}

	path, err := filepath.Abs(ref.Path)
	if err != nil {
		return err
	}

	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, ref.Path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	dir := filepath.Dir(path)
	if dir != s.root {
		os.Remove(dir)
	}

	return nil
}
