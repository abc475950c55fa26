package archive

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence abstraction for sources and their chunks.
// Implementations can be in-memory or SQL-backed (see package dbstore).
// Lookups of missing rows return ErrNotFound.
type Store interface {
	ListSources(ctx context.Context) ([]Source, error)
	ListSourcesByStatus(ctx context.Context, status Status) ([]Source, error)
	GetSource(ctx context.Context, id SourceID) (Source, error)
	// CreateSource stores a new source. New sources are always PAUSED.
	CreateSource(ctx context.Context, name, url string) (Source, error)
	UpdateSourceStatus(ctx context.Context, id SourceID, status Status, msg string) error
	// DeleteSource removes the source and every chunk it owns.
	DeleteSource(ctx context.Context, id SourceID) error

	CreateChunk(ctx context.Context, c Chunk) (Chunk, error)
	GetChunk(ctx context.Context, id ChunkID) (Chunk, error)
	// LastChunk returns the source's chunk with the latest start time.
	LastChunk(ctx context.Context, source SourceID) (Chunk, error)
	// ChunkAt returns the earliest-starting chunk covering t.
	ChunkAt(ctx context.Context, source SourceID, t time.Time) (Chunk, error)
	// ChunksInRange returns every chunk intersecting [start, end], ordered by
	// start time. An empty result is not an error.
	ChunksInRange(ctx context.Context, source SourceID, start, end time.Time) ([]Chunk, error)
}

// InMemoryStore is a concurrency-safe in-memory implementation of Store.
type InMemoryStore struct {
	mu        sync.RWMutex
	sources   map[SourceID]Source
	chunks    map[SourceID][]Chunk
	nextSrc   SourceID
	nextChunk ChunkID
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sources: make(map[SourceID]Source),
		chunks:  make(map[SourceID][]Chunk),
	}
}

// ListSources implements Store.ListSources. Sources are ordered by id.
func (s *InMemoryStore) ListSources(_ context.Context) ([]Source, error) {
	return s.list(func(Source) bool { return true }), nil
}

// ListSourcesByStatus implements Store.ListSourcesByStatus.
func (s *InMemoryStore) ListSourcesByStatus(_ context.Context, status Status) ([]Source, error) {
	return s.list(func(src Source) bool { return src.Status == status }), nil
}

func (s *InMemoryStore) list(keep func(Source) bool) []Source {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		if keep(src) {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetSource implements Store.GetSource.
func (s *InMemoryStore) GetSource(_ context.Context, id SourceID) (Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return Source{}, ErrNotFound
	}
	return src, nil
}

// CreateSource implements Store.CreateSource.
func (s *InMemoryStore) CreateSource(_ context.Context, name, url string) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSrc++
	src := Source{ID: s.nextSrc, Name: name, URL: url, Status: StatusPaused}
	s.sources[src.ID] = src
	return src, nil
}

// UpdateSourceStatus implements Store.UpdateSourceStatus.
func (s *InMemoryStore) UpdateSourceStatus(_ context.Context, id SourceID, status Status, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return ErrNotFound
	}
	src.Status = status
	src.StatusMsg = msg
	s.sources[id] = src
	return nil
}

// DeleteSource implements Store.DeleteSource.
func (s *InMemoryStore) DeleteSource(_ context.Context, id SourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[id]; !ok {
		return ErrNotFound
	}
	delete(s.sources, id)
	delete(s.chunks, id)
	return nil
}

// CreateChunk implements Store.CreateChunk. The chunk's ID is assigned here.
func (s *InMemoryStore) CreateChunk(_ context.Context, c Chunk) (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[c.SourceID]; !ok {
		return Chunk{}, ErrNotFound
	}
	s.nextChunk++
	c.ID = s.nextChunk
	s.chunks[c.SourceID] = append(s.chunks[c.SourceID], c)
	return c, nil
}

// GetChunk implements Store.GetChunk.
func (s *InMemoryStore) GetChunk(_ context.Context, id ChunkID) (Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, chunks := range s.chunks {
		for _, c := range chunks {
			if c.ID == id {
				return c, nil
			}
		}
	}
	return Chunk{}, ErrNotFound
}

// LastChunk implements Store.LastChunk.
func (s *InMemoryStore) LastChunk(_ context.Context, source SourceID) (Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last Chunk
	found := false
	for _, c := range s.chunks[source] {
		if !found || c.StartTime.After(last.StartTime) {
			last, found = c, true
		}
	}
	if !found {
		return Chunk{}, ErrNotFound
	}
	return last, nil
}

// ChunkAt implements Store.ChunkAt.
func (s *InMemoryStore) ChunkAt(_ context.Context, source SourceID, t time.Time) (Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.sortedLocked(source) {
		if c.Covers(t) {
			return c, nil
		}
	}
	return Chunk{}, ErrNotFound
}

// ChunksInRange implements Store.ChunksInRange.
func (s *InMemoryStore) ChunksInRange(_ context.Context, source SourceID, start, end time.Time) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Chunk
	for _, c := range s.sortedLocked(source) {
		if c.Overlaps(start, end) {
			out = append(out, c)
		}
	}
	return out, nil
}

// sortedLocked returns a copy of the source's chunks ordered by start time.
func (s *InMemoryStore) sortedLocked(source SourceID) []Chunk {
	chunks := append([]Chunk(nil), s.chunks[source]...)
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].StartTime.Before(chunks[j].StartTime)
	})
	return chunks
}
