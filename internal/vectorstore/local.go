package vectorstore

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/pressridge/blogidx/internal/chunker"
	"github.com/pressridge/blogidx/internal/embed"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

// chunkRecord is the persisted payload for one chunk.
type chunkRecord struct {
	ID      string
	Source  string
	Ordinal int
	Content string
	Title   string
	URL     string
}

// localMetadata is the gob sidecar written next to the graph file.
type localMetadata struct {
	IDMap      map[string]uint64
	Records    map[string]chunkRecord
	NextKey    uint64
	Dimensions int
	Collection string
}

// LocalStore is an on-disk HNSW vector store. Deletion is lazy: removed
// chunks are dropped from the ID mappings and their graph nodes are
// orphaned, which sidesteps graph-repair issues when the last node goes.
type LocalStore struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[uint64]
	embedder embed.Embedder

	path       string
	collection string
	dims       int

	idMap    map[string]uint64
	keyMap   map[uint64]string
	records  map[string]chunkRecord
	bySource map[string]map[string]bool
	nextKey  uint64

	closed bool
}

// NewLocalStore creates an empty local store rooted at dir. An existing
// index for the collection is loaded unless forceRecreate is set, in
// which case it is dropped.
func NewLocalStore(dir, collection string, embedder embed.Embedder, forceRecreate bool) (*LocalStore, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	s := &LocalStore{
		graph:      graph,
		embedder:   embedder,
		path:       filepath.Join(dir, collection+".hnsw"),
		collection: collection,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		records:    make(map[string]chunkRecord),
		bySource:   make(map[string]map[string]bool),
	}

	if forceRecreate {
		_ = os.Remove(s.path)
		_ = os.Remove(s.path + ".meta")
		return s, nil
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := s.load(); err != nil {
			return nil, idxerrors.New(idxerrors.ErrCodeStoreCorrupt,
				fmt.Sprintf("failed to load vector store %s", s.path), err)
		}
	}
	return s, nil
}

// AddChunks embeds and inserts chunks. Re-adding an existing chunk ID
// lazily orphans the old node and inserts a fresh one.
func (s *LocalStore) AddChunks(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return idxerrors.Newf(idxerrors.ErrCodeStoreAdd,
			"embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return idxerrors.Newf(idxerrors.ErrCodeStoreAdd, "store is closed")
	}

	if s.dims == 0 {
		s.dims = len(vectors[0])
	}

	for i, chunk := range chunks {
		vec := vectors[i]
		if len(vec) != s.dims {
			return idxerrors.Newf(idxerrors.ErrCodeDimensionMismatch,
				"vector has %d dimensions, store expects %d", len(vec), s.dims)
		}

		id := chunkID(chunk.Source, chunk.Ordinal)
		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
		}

		key := s.nextKey
		s.nextKey++

		normalized := make([]float32, len(vec))
		copy(normalized, vec)
		normalizeVectorInPlace(normalized)
		s.graph.Add(hnsw.MakeNode(key, normalized))

		s.idMap[id] = key
		s.keyMap[key] = id
		s.records[id] = chunkRecord{
			ID:      id,
			Source:  chunk.Source,
			Ordinal: chunk.Ordinal,
			Content: chunk.Content,
			Title:   chunk.Meta.Title,
			URL:     chunk.Meta.URL,
		}
		if s.bySource[chunk.Source] == nil {
			s.bySource[chunk.Source] = make(map[string]bool)
		}
		s.bySource[chunk.Source][id] = true
	}
	return nil
}

// RemoveBySource lazily deletes every chunk of the given source.
func (s *LocalStore) RemoveBySource(ctx context.Context, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, idxerrors.Newf(idxerrors.ErrCodeStoreRemove, "store is closed")
	}

	ids := s.bySource[source]
	for id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
		delete(s.records, id)
	}
	delete(s.bySource, source)
	return len(ids), nil
}

// Search embeds the query and returns the k nearest live chunks.
func (s *LocalStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, idxerrors.Newf(idxerrors.ErrCodeStoreUnavailable, "store is closed")
	}
	if s.graph.Len() == 0 {
		return []SearchResult{}, nil
	}

	queryVec := make([]float32, len(vectors[0]))
	copy(queryVec, vectors[0])
	normalizeVectorInPlace(queryVec)

	// Over-fetch to compensate for lazily deleted orphans in the graph.
	nodes := s.graph.Search(queryVec, k+len(s.keyMap)/4+1)

	results := make([]SearchResult, 0, k)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		rec := s.records[id]
		distance := s.graph.Distance(queryVec, node.Value)
		results = append(results, SearchResult{
			Source:  rec.Source,
			Content: rec.Content,
			Score:   1 - distance,
			Meta: map[string]string{
				"title":   rec.Title,
				"url":     rec.URL,
				"ordinal": fmt.Sprintf("%d", rec.Ordinal),
			},
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Count returns the number of live chunks.
func (s *LocalStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// SourceCounts returns live chunk counts per parent source.
func (s *LocalStore) SourceCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.bySource))
	for source, ids := range s.bySource {
		out[source] = len(ids)
	}
	return out
}

// Ping runs a trivial similarity probe against the graph.
func (s *LocalStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return idxerrors.Newf(idxerrors.ErrCodeStoreUnavailable, "store is closed")
	}
	if s.graph.Len() == 0 || s.dims == 0 {
		return nil
	}
	probe := make([]float32, s.dims)
	probe[0] = 1
	_ = s.graph.Search(probe, 1)
	return nil
}

// Save persists the graph and its metadata sidecar atomically.
func (s *LocalStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return idxerrors.Newf(idxerrors.ErrCodeStoreUnavailable, "store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return idxerrors.New(idxerrors.ErrCodeStoreAdd, "failed to create vector store directory", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeStoreAdd, "failed to create index file", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return idxerrors.New(idxerrors.ErrCodeStoreAdd, "failed to export graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return idxerrors.New(idxerrors.ErrCodeStoreAdd, "failed to close index file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return idxerrors.New(idxerrors.ErrCodeStoreAdd, "failed to replace index file", err)
	}

	return s.saveMetadata()
}

func (s *LocalStore) saveMetadata() error {
	metaPath := s.path + ".meta"
	tmpPath := metaPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := localMetadata{
		IDMap:      s.idMap,
		Records:    s.records,
		NextKey:    s.nextKey,
		Dimensions: s.dims,
		Collection: s.collection,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, metaPath)
}

func (s *LocalStore) load() error {
	metaFile, err := os.Open(s.path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer metaFile.Close()

	var meta localMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.records = meta.Records
	s.nextKey = meta.NextKey
	s.dims = meta.Dimensions
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	s.bySource = make(map[string]map[string]bool)
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
		rec := meta.Records[id]
		if s.bySource[rec.Source] == nil {
			s.bySource[rec.Source] = make(map[string]bool)
		}
		s.bySource[rec.Source][id] = true
	}

	graphFile, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer graphFile.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

// Close saves and marks the store closed.
func (s *LocalStore) Close() error {
	if err := s.Save(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

var _ Store = (*LocalStore)(nil)

func chunkID(source string, ordinal int) string {
	return fmt.Sprintf("%s#%d", source, ordinal)
}

// Sources returns the live sources in sorted order.
func (s *LocalStore) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.bySource))
	for source := range s.bySource {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
