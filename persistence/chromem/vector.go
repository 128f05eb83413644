package chromem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/mooli/chunk"
	"github.com/flarexio/mooli/vector"
)

const (
	formatVersion  = 1
	collectionName = "chunks"
	currentFile    = "CURRENT"
	manifestFile   = "manifest.yaml"
	versionsDir    = "versions"
	dbDir          = "db"

	lockTTL      = 10 * time.Minute
	lockInterval = 250 * time.Millisecond
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

type Option func(*store)

// WithLocker serializes rebuilds across processes sharing the same path.
func WithLocker(locker vector.Locker) Option {
	return func(s *store) {
		s.locker = locker
	}
}

func NewChromemVectorStore(cfg vector.Config, opts ...Option) (vector.Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("vector store path is required")
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, err
	}

	s := &store{
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "vector_store")),
		building: make(map[string]*sync.Mutex),
		cache:    make(map[string]*index),
	}
	s.opener = s.open

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

type store struct {
	cfg    vector.Config
	locker vector.Locker
	log    *zap.Logger

	buildingMutex sync.Mutex
	building      map[string]*sync.Mutex

	cacheMutex sync.RWMutex
	cache      map[string]*index

	opener func(dir string) (*index, error)
}

type manifest struct {
	FormatVersion int       `yaml:"format_version"`
	Name          string    `yaml:"name"`
	Version       string    `yaml:"version"`
	Model         string    `yaml:"model"`
	Dimensions    int       `yaml:"dimensions"`
	Count         int       `yaml:"count"`
	CreatedAt     time.Time `yaml:"created_at"`
}

func (s *store) Build(ctx context.Context, name string, model string, chunks []chunk.Chunk, embed vector.EmbedFunc) (vector.Index, error) {
	log := s.log.With(
		zap.String("action", "build"),
		zap.String("index", name),
	)

	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %w", vector.ErrBuildFailure, vector.ErrInvalidName)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", vector.ErrBuildFailure)
	}

	if embed == nil {
		return nil, fmt.Errorf("%w: embedding function not set", vector.ErrBuildFailure)
	}

	unlock, err := s.lock(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrBuildFailure, err)
	}
	defer unlock()

	docs := make([]chromem.Document, len(chunks))
	dims := 0
	for i, ch := range chunks {
		embedding, err := embed(ctx, ch.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", vector.ErrBuildFailure, ch.Position, err)
		}

		if len(embedding) == 0 {
			return nil, fmt.Errorf("%w: chunk %d: empty embedding", vector.ErrBuildFailure, ch.Position)
		}

		if dims == 0 {
			dims = len(embedding)
		} else if len(embedding) != dims {
			return nil, fmt.Errorf("%w: %w", vector.ErrBuildFailure, vector.ErrDimensionMismatch)
		}

		docs[i] = toDocument(i, ch, embedding)
	}

	version := newVersion()
	dir := s.versionPath(name, version)

	m := manifest{
		FormatVersion: formatVersion,
		Name:          name,
		Version:       version,
		Model:         model,
		Dimensions:    dims,
		Count:         len(docs),
		CreatedAt:     time.Now().UTC(),
	}

	idx, err := s.write(ctx, dir, m, docs, embed)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %w", vector.ErrBuildFailure, err)
	}

	if err := s.publish(name, version); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %w", vector.ErrBuildFailure, err)
	}

	s.cacheMutex.Lock()
	s.cache[name] = idx
	s.cacheMutex.Unlock()

	if err := s.prune(name, version); err != nil {
		log.Warn(err.Error())
	}

	log.Info("index built",
		zap.String("version", version),
		zap.Int("count", len(docs)),
		zap.Int("dimensions", dims),
	)

	return idx, nil
}

func (s *store) Load(ctx context.Context, name string) (vector.Index, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %w", vector.ErrIndexNotFound, vector.ErrInvalidName)
	}

	version, err := s.current(name)
	if err != nil {
		return nil, err
	}

	idx, err := s.loadVersion(name, version)
	if err == nil {
		return idx, nil
	}

	if !errors.Is(err, vector.ErrCorruptIndex) {
		return nil, err
	}

	// Another process may have published and pruned while this version was
	// being opened. Only a moved pointer is worth a second attempt.
	latest, cerr := s.current(name)
	if cerr != nil || latest == version {
		return nil, err
	}

	s.log.Debug("index version replaced during load",
		zap.String("index", name),
		zap.String("version", version),
		zap.String("current", latest),
	)

	idx, err = s.loadVersion(name, latest)
	if err != nil {
		return nil, err
	}

	return idx, nil
}

func (s *store) loadVersion(name string, version string) (*index, error) {
	s.cacheMutex.RLock()
	cached, ok := s.cache[name]
	s.cacheMutex.RUnlock()

	if ok && cached.manifest.Version == version {
		return cached, nil
	}

	idx, err := s.opener(s.versionPath(name, version))
	if err != nil {
		return nil, err
	}

	s.cacheMutex.Lock()
	s.cache[name] = idx
	s.cacheMutex.Unlock()

	return idx, nil
}

func (s *store) write(ctx context.Context, dir string, m manifest, docs []chromem.Document, embed vector.EmbedFunc) (*index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dir, dbDir), s.cfg.Compress)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"model": m.Model,
	}

	c, err := db.CreateCollection(collectionName, metadata, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, err
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, err
	}

	bs, err := yaml.Marshal(&m)
	if err != nil {
		return nil, err
	}

	if err := writeFileAtomic(filepath.Join(dir, manifestFile), bs); err != nil {
		return nil, err
	}

	return &index{manifest: m, collection: c}, nil
}

func (s *store) open(dir string) (*index, error) {
	bs, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrCorruptIndex, err)
	}

	var m manifest
	if err := yaml.Unmarshal(bs, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrCorruptIndex, err)
	}

	if m.FormatVersion != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", vector.ErrCorruptIndex, m.FormatVersion)
	}

	path := filepath.Join(dir, dbDir)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrCorruptIndex, err)
	}

	db, err := chromem.NewPersistentDB(path, s.cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrCorruptIndex, err)
	}

	c := db.GetCollection(collectionName, nil)
	if c == nil {
		return nil, fmt.Errorf("%w: collection missing", vector.ErrCorruptIndex)
	}

	if c.Count() != m.Count {
		return nil, fmt.Errorf("%w: expected %d documents, found %d", vector.ErrCorruptIndex, m.Count, c.Count())
	}

	return &index{manifest: m, collection: c}, nil
}

func (s *store) current(name string) (string, error) {
	bs, err := os.ReadFile(filepath.Join(s.cfg.Path, name, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", vector.ErrIndexNotFound, name)
		}

		return "", fmt.Errorf("%w: %w", vector.ErrCorruptIndex, err)
	}

	version := strings.TrimSpace(string(bs))
	if !validName.MatchString(version) {
		return "", fmt.Errorf("%w: invalid version pointer", vector.ErrCorruptIndex)
	}

	return version, nil
}

// publish swaps the CURRENT pointer with a rename so readers observe either
// the previous or the new version.
func (s *store) publish(name string, version string) error {
	return writeFileAtomic(filepath.Join(s.cfg.Path, name, currentFile), []byte(version+"\n"))
}

// prune removes versions older than the one preceding current. The previous
// version is kept for loads that read the old pointer before the swap.
func (s *store) prune(name string, current string) error {
	root := filepath.Join(s.cfg.Path, name, versionsDir)

	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}

	var older []string
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() < current {
			older = append(older, entry.Name())
		}
	}

	if len(older) <= 1 {
		return nil
	}

	sort.Strings(older)

	var errs []error
	for _, version := range older[:len(older)-1] {
		if err := os.RemoveAll(filepath.Join(root, version)); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *store) lock(ctx context.Context, name string) (func(), error) {
	s.buildingMutex.Lock()
	mu, ok := s.building[name]
	if !ok {
		mu = new(sync.Mutex)
		s.building[name] = mu
	}
	s.buildingMutex.Unlock()

	mu.Lock()

	if s.locker == nil {
		return mu.Unlock, nil
	}

	key := "index:" + name

	ticker := time.NewTicker(lockInterval)
	defer ticker.Stop()

	for {
		acquired, err := s.locker.Acquire(ctx, key, lockTTL)
		if err != nil {
			mu.Unlock()
			return nil, err
		}

		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			mu.Unlock()
			return nil, ctx.Err()

		case <-ticker.C:
		}
	}

	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			s.log.Warn(err.Error(), zap.String("index", name))
		}

		mu.Unlock()
	}, nil
}

func (s *store) versionPath(name string, version string) string {
	return filepath.Join(s.cfg.Path, name, versionsDir, version)
}

type index struct {
	manifest   manifest
	collection *chromem.Collection
}

func (idx *index) Name() string {
	return idx.manifest.Name
}

func (idx *index) Version() string {
	return idx.manifest.Version
}

func (idx *index) Model() string {
	return idx.manifest.Model
}

func (idx *index) Dimensions() int {
	return idx.manifest.Dimensions
}

func (idx *index) Len() int {
	return idx.collection.Count()
}

func (idx *index) Search(ctx context.Context, query []float32, k int) ([]vector.Result, error) {
	if k <= 0 {
		return nil, vector.ErrInvalidK
	}

	if len(query) != idx.manifest.Dimensions {
		return nil, fmt.Errorf("%w: index has %d, query has %d",
			vector.ErrDimensionMismatch, idx.manifest.Dimensions, len(query))
	}

	n := idx.collection.Count()
	if n == 0 {
		return []vector.Result{}, nil
	}

	// Rank every document so ties at the k boundary resolve by insertion order.
	found, err := idx.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, err
	}

	results := make([]vector.Result, len(found))
	seqs := make([]int, len(found))
	for i, r := range found {
		ch, seq := fromMetadata(r.Metadata)
		ch.Text = r.Content

		results[i] = vector.Result{
			Chunk:     ch,
			Embedding: r.Embedding,
			Score:     r.Similarity,
			Distance:  1 - r.Similarity,
		}
		seqs[i] = seq
	}

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := results[order[a]], results[order[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}

		return seqs[order[a]] < seqs[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}

	sorted := make([]vector.Result, k)
	for i := 0; i < k; i++ {
		sorted[i] = results[order[i]]
	}

	return sorted, nil
}

func toDocument(seq int, ch chunk.Chunk, embedding []float32) chromem.Document {
	return chromem.Document{
		ID:        fmt.Sprintf("%08d", seq),
		Content:   ch.Text,
		Embedding: embedding,
		Metadata: map[string]string{
			"seq":      strconv.Itoa(seq),
			"document": ch.Document,
			"position": strconv.Itoa(ch.Position),
			"offset":   strconv.Itoa(ch.Offset),
		},
	}
}

func fromMetadata(metadata map[string]string) (chunk.Chunk, int) {
	seq, _ := strconv.Atoi(metadata["seq"])
	position, _ := strconv.Atoi(metadata["position"])
	offset, _ := strconv.Atoi(metadata["offset"])

	return chunk.Chunk{
		Document: metadata["document"],
		Position: position,
		Offset:   offset,
	}, seq
}

func newVersion() string {
	return time.Now().UTC().Format("20060102T150405.000000000") + "-" + uuid.NewString()[:8]
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}

	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
