package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"booksearch/internal/domain"
	"booksearch/internal/port"
)

var (
	bucketSources     = []byte("sources")
	bucketBooks       = []byte("books")
	bucketSourceBooks = []byte("source_books")
	bucketTerms       = []byte("terms")
	bucketStats       = []byte("stats")
	keyStats          = []byte("corpus_stats")
	keyGeneration     = []byte("generation")
)

var _ port.IndexStore = (*BoltStore)(nil)

type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketSources, bucketBooks, bucketSourceBooks, bucketTerms, bucketStats}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

type sourceMeta struct {
	Path    string `json:"path"`
	ModTime int64  `json:"mod_time"`
}

type bookRecord struct {
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	Description string   `json:"description,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	SourceID    string   `json:"source_id"`
	Tokens      []string `json:"tokens"`
}

type postingRecord struct {
	BookID string `json:"b"`
	TF     int    `json:"tf"`
}

func decodeBook(id string, data []byte) (domain.Book, error) {
	var rec bookRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Book{}, err
	}
	return domain.Book{
		ID:          id,
		Title:       rec.Title,
		Authors:     rec.Authors,
		Description: rec.Description,
		Genres:      rec.Genres,
		SourceID:    rec.SourceID,
		Tokens:      rec.Tokens,
	}, nil
}

func (s *BoltStore) GetBook(id string) (domain.Book, error) {
	var book domain.Book
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBooks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
		}
		var err error
		book, err = decodeBook(id, data)
		return err
	})
	return book, err
}

func (s *BoltStore) GetBooksBySource(sourceID string) ([]domain.Book, error) {
	var books []domain.Book
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSourceBooks).Get([]byte(sourceID))
		if data == nil {
			return nil
		}
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		bookBucket := tx.Bucket(bucketBooks)
		for _, id := range ids {
			raw := bookBucket.Get([]byte(id))
			if raw == nil {
				continue
			}
			book, err := decodeBook(id, raw)
			if err != nil {
				continue
			}
			books = append(books, book)
		}
		return nil
	})
	return books, err
}

func (s *BoltStore) ListSources() ([]domain.CatalogueFile, error) {
	var sources []domain.CatalogueFile
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSources).ForEach(func(k, v []byte) error {
			var meta sourceMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			sources = append(sources, domain.CatalogueFile{
				ID:      string(k),
				Path:    meta.Path,
				ModTime: time.Unix(meta.ModTime, 0),
			})
			return nil
		})
	})
	return sources, err
}

func (s *BoltStore) GetPostings(term string) ([]domain.Posting, error) {
	var postings []domain.Posting
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTerms).Get([]byte(term))
		if data == nil {
			return nil
		}
		var recs []postingRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return err
		}
		postings = make([]domain.Posting, len(recs))
		for i, r := range recs {
			postings[i] = domain.Posting{BookID: r.BookID, TF: r.TF}
		}
		return nil
	})
	return postings, err
}

func (s *BoltStore) GetStats() (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStats).Get(keyStats)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &stats)
	})
	return stats, err
}

func (s *BoltStore) UpdateStats(stats domain.Stats) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketStats).Put(keyStats, data); err != nil {
			return err
		}
		return bumpGeneration(tx)
	})
}

// Generation returns a counter that changes on every write to the index.
func (s *BoltStore) Generation() (uint64, error) {
	var gen uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketStats).Get(keyGeneration); len(data) == 8 {
			gen = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return gen, err
}

func bumpGeneration(tx *bbolt.Tx) error {
	b := tx.Bucket(bucketStats)
	var gen uint64
	if data := b.Get(keyGeneration); len(data) == 8 {
		gen = binary.BigEndian.Uint64(data)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, gen+1)
	return b.Put(keyGeneration, buf)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) BatchIndex(files []port.IndexedFile) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sourcesBucket := tx.Bucket(bucketSources)
		booksBucket := tx.Bucket(bucketBooks)
		sourceBooksBucket := tx.Bucket(bucketSourceBooks)
		termsBucket := tx.Bucket(bucketTerms)

		allPostings := make(map[string][]postingRecord)

		for _, file := range files {
			meta := sourceMeta{
				Path:    file.Source.Path,
				ModTime: file.Source.ModTime.Unix(),
			}
			data, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			if err := sourcesBucket.Put([]byte(file.Source.ID), data); err != nil {
				return err
			}

			bookIDs := make([]string, 0, len(file.Books))
			for _, book := range file.Books {
				rec := bookRecord{
					Title:       book.Title,
					Authors:     book.Authors,
					Description: book.Description,
					Genres:      book.Genres,
					SourceID:    file.Source.ID,
					Tokens:      book.Tokens,
				}
				data, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				if err := booksBucket.Put([]byte(book.ID), data); err != nil {
					return err
				}
				bookIDs = append(bookIDs, book.ID)
			}

			idsData, err := json.Marshal(bookIDs)
			if err != nil {
				return err
			}
			if err := sourceBooksBucket.Put([]byte(file.Source.ID), idsData); err != nil {
				return err
			}

			for term, bookTFs := range file.Postings {
				for bookID, tf := range bookTFs {
					allPostings[term] = append(allPostings[term], postingRecord{BookID: bookID, TF: tf})
				}
			}
		}

		for term, newPostings := range allPostings {
			var existing []postingRecord
			if data := termsBucket.Get([]byte(term)); data != nil {
				if err := json.Unmarshal(data, &existing); err != nil {
					return fmt.Errorf("corrupt postings for %q: %w", term, err)
				}
			}
			existing = mergePostings(existing, newPostings)
			data, err := json.Marshal(existing)
			if err != nil {
				return err
			}
			if err := termsBucket.Put([]byte(term), data); err != nil {
				return err
			}
		}

		return bumpGeneration(tx)
	})
}

// mergePostings replaces postings for books already present and appends the rest.
func mergePostings(existing, incoming []postingRecord) []postingRecord {
	idx := make(map[string]int, len(existing))
	for i, p := range existing {
		idx[p.BookID] = i
	}
	for _, p := range incoming {
		if i, ok := idx[p.BookID]; ok {
			existing[i].TF = p.TF
			continue
		}
		idx[p.BookID] = len(existing)
		existing = append(existing, p)
	}
	return existing
}

// DeleteSource removes a catalogue file, its books and their postings.
func (s *BoltStore) DeleteSource(sourceID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sourceBooks := tx.Bucket(bucketSourceBooks)
		data := sourceBooks.Get([]byte(sourceID))
		if data != nil {
			var ids []string
			if err := json.Unmarshal(data, &ids); err != nil {
				return err
			}
			booksBucket := tx.Bucket(bucketBooks)
			for _, id := range ids {
				raw := booksBucket.Get([]byte(id))
				if raw != nil {
					book, err := decodeBook(id, raw)
					if err == nil {
						if err := deletePostings(tx, id, book.Tokens); err != nil {
							return err
						}
					}
				}
				if err := booksBucket.Delete([]byte(id)); err != nil {
					return err
				}
			}
			if err := sourceBooks.Delete([]byte(sourceID)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketSources).Delete([]byte(sourceID)); err != nil {
			return err
		}
		return bumpGeneration(tx)
	})
}

func deletePostings(tx *bbolt.Tx, bookID string, tokens []string) error {
	b := tx.Bucket(bucketTerms)
	seen := make(map[string]struct{}, len(tokens))
	for _, term := range tokens {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}

		data := b.Get([]byte(term))
		if data == nil {
			continue
		}
		var postings []postingRecord
		if err := json.Unmarshal(data, &postings); err != nil {
			continue
		}

		filtered := postings[:0]
		for _, p := range postings {
			if p.BookID != bookID {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			if err := b.Delete([]byte(term)); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(filtered)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(term), data); err != nil {
			return err
		}
	}
	return nil
}
