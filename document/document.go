// Package document fetches source documents and extracts their text.
package document

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrFetchFailure      = errors.New("document fetch failed")
	ErrEmptyDocument     = errors.New("document has no extractable text")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrInvalidRef        = errors.New("invalid document reference")
)

// Ref identifies a document either by bucket and key in an object store or
// by a local path. Temporary marks local copies to delete after ingestion.
type Ref struct {
	Bucket    string `json:"bucket,omitempty"`
	Key       string `json:"key,omitempty"`
	Path      string `json:"path,omitempty"`
	Temporary bool   `json:"temporary,omitempty"`
}

func (r Ref) Local() bool {
	return r.Path != ""
}

func (r Ref) Valid() bool {
	return r.Path != "" || r.Key != ""
}

// Name returns the file name, used to pick an extractor and to label chunks.
func (r Ref) Name() string {
	if r.Local() {
		return filepath.Base(r.Path)
	}

	return path.Base(r.Key)
}

func (r Ref) String() string {
	if r.Local() {
		return r.Path
	}

	if r.Bucket == "" {
		return r.Key
	}

	return "s3://" + r.Bucket + "/" + strings.TrimPrefix(r.Key, "/")
}

type Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
	UploadDir       string `yaml:"uploadDir"`
	DefaultDocument string `yaml:"defaultDocument"`
}

// DefaultRef resolves DefaultDocument: a key in the configured bucket, or a
// local path when no bucket is set.
func (cfg Config) DefaultRef() (Ref, bool) {
	if cfg.DefaultDocument == "" {
		return Ref{}, false
	}

	if cfg.Bucket == "" {
		return Ref{Path: cfg.DefaultDocument}, true
	}

	return Ref{Bucket: cfg.Bucket, Key: cfg.DefaultDocument}, true
}

type Store interface {
	// Fetch returns the document bytes or an error wrapping ErrFetchFailure.
	Fetch(ctx context.Context, ref Ref) ([]byte, error)

	// Release removes any temporary copy of ref.
	Release(ctx context.Context, ref Ref) error
}

// Mux routes local refs to one store and object store refs to another.
type Mux struct {
	Local  Store
	Remote Store
}

func (m *Mux) pick(ref Ref) (Store, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailure, ErrInvalidRef)
	}

	s := m.Remote
	if ref.Local() {
		s = m.Local
	}

	if s == nil {
		return nil, fmt.Errorf("%w: no store for %s", ErrFetchFailure, ref)
	}

	return s, nil
}

func (m *Mux) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	s, err := m.pick(ref)
	if err != nil {
		return nil, err
	}

	return s.Fetch(ctx, ref)
}

func (m *Mux) Release(ctx context.Context, ref Ref) error {
	s, err := m.pick(ref)
	if err != nil {
		return err
	}

	return s.Release(ctx, ref)
}
