package port

import "booksearch/internal/domain"

// IndexStore is the lexical side of the index: books, their postings and
// corpus statistics.
type IndexStore interface {
	GetBook(id string) (domain.Book, error)

	GetBooksBySource(sourceID string) ([]domain.Book, error)

	ListSources() ([]domain.CatalogueFile, error)

	GetPostings(term string) ([]domain.Posting, error)

	GetStats() (domain.Stats, error)

	UpdateStats(stats domain.Stats) error

	BatchIndex(files []IndexedFile) error

	DeleteSource(sourceID string) error

	Generation() (uint64, error)

	Close() error
}

// IndexedFile is one catalogue file with its parsed books and the
// term -> bookID -> tf postings derived from them.
type IndexedFile struct {
	Source   domain.CatalogueFile
	Books    []domain.Book
	Postings map[string]map[string]int
}
