package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"booksearch/internal/domain"
	"booksearch/internal/port"
)

var (
	_ port.IndexStore  = (*MemoryStore)(nil)
	_ port.VectorStore = (*VectorStore)(nil)
)

// MemoryStore is an in-process IndexStore.
type MemoryStore struct {
	mu          sync.RWMutex
	sources     map[string]domain.CatalogueFile
	books       map[string]domain.Book
	sourceBooks map[string][]string
	postings    map[string]map[string]int
	stats       domain.Stats
	generation  uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources:     make(map[string]domain.CatalogueFile),
		books:       make(map[string]domain.Book),
		sourceBooks: make(map[string][]string),
		postings:    make(map[string]map[string]int),
	}
}

func (s *MemoryStore) GetBook(id string) (domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[id]
	if !ok {
		return domain.Book{}, fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
	}
	return book, nil
}

func (s *MemoryStore) GetBooksBySource(sourceID string) ([]domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sourceBooks[sourceID]
	books := make([]domain.Book, 0, len(ids))
	for _, id := range ids {
		if book, ok := s.books[id]; ok {
			books = append(books, book)
		}
	}
	return books, nil
}

func (s *MemoryStore) ListSources() ([]domain.CatalogueFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := make([]domain.CatalogueFile, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	return sources, nil
}

// GetPostings returns the postings for term ordered by book ID.
func (s *MemoryStore) GetPostings(term string) ([]domain.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byBook := s.postings[term]
	postings := make([]domain.Posting, 0, len(byBook))
	for id, tf := range byBook {
		postings = append(postings, domain.Posting{BookID: id, TF: tf})
	}
	sort.Slice(postings, func(i, j int) bool { return postings[i].BookID < postings[j].BookID })
	return postings, nil
}

func (s *MemoryStore) GetStats() (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats, nil
}

func (s *MemoryStore) UpdateStats(stats domain.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
	s.generation++
	return nil
}

func (s *MemoryStore) Generation() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation, nil
}

func (s *MemoryStore) BatchIndex(files []port.IndexedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, file := range files {
		s.sources[file.Source.ID] = file.Source

		ids := make([]string, 0, len(file.Books))
		for _, book := range file.Books {
			book.SourceID = file.Source.ID
			s.books[book.ID] = book
			ids = append(ids, book.ID)
		}
		s.sourceBooks[file.Source.ID] = ids

		for term, bookTFs := range file.Postings {
			if s.postings[term] == nil {
				s.postings[term] = make(map[string]int)
			}
			for id, tf := range bookTFs {
				s.postings[term][id] = tf
			}
		}
	}
	s.generation++

	return nil
}

func (s *MemoryStore) DeleteSource(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.sourceBooks[sourceID] {
		if book, ok := s.books[id]; ok {
			for _, term := range book.Tokens {
				delete(s.postings[term], id)
				if len(s.postings[term]) == 0 {
					delete(s.postings, term)
				}
			}
		}
		delete(s.books, id)
	}
	delete(s.sourceBooks, sourceID)
	delete(s.sources, sourceID)
	s.generation++
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// VectorStore is an in-process brute-force cosine VectorStore.
type VectorStore struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewVectorStore() *VectorStore {
	return &VectorStore{vectors: make(map[string][]float32)}
}

func (s *VectorStore) Upsert(items []port.VectorItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.vectors[item.ID] = item.Vector
	}
	return nil
}

func (s *VectorStore) Search(ctx context.Context, query []float32, k int) ([]port.VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]port.VectorResult, 0, len(s.vectors))
	for id, vec := range s.vectors {
		results = append(results, port.VectorResult{ID: id, Score: cosine(query, vec)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *VectorStore) Delete(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.vectors, id)
	}
	return nil
}

func (s *VectorStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func (s *VectorStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vectors[id]
	return ok
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
