package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"booksearch/internal/adapter/fs"
	"booksearch/internal/domain"
	"booksearch/internal/logging"
	"booksearch/internal/metrics"
	"booksearch/internal/port"
)

const defaultEmbedBatch = 100

// flushEvery bounds how many parsed catalogue files are held before they are
// written in one store transaction.
const flushEvery = 32

// ProgressFunc is called after each catalogue file is processed.
type ProgressFunc func(processed, total int, currentFile string)

// IndexUseCase builds and incrementally refreshes the book index from a
// catalogue directory.
type IndexUseCase struct {
	store     port.IndexStore
	walker    *fs.Walker
	tokenizer port.Tokenizer

	embedder   port.Embedder
	vectors    port.VectorStore
	embedBatch int
}

func NewIndexUseCase(store port.IndexStore, walker *fs.Walker, tokenizer port.Tokenizer) *IndexUseCase {
	return &IndexUseCase{
		store:      store,
		walker:     walker,
		tokenizer:  tokenizer,
		embedBatch: defaultEmbedBatch,
	}
}

// WithEmbeddings makes Index also embed every new book into vectors.
func (u *IndexUseCase) WithEmbeddings(embedder port.Embedder, vectors port.VectorStore, batchSize int) *IndexUseCase {
	u.embedder = embedder
	u.vectors = vectors
	if batchSize > 0 {
		u.embedBatch = batchSize
	}
	return u
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesDeleted  int
	BooksIndexed  int
	BooksEmbedded int
	TotalBooks    int
	Errors        []string
}

// Index walks root and brings the index in line with the catalogue files found
// there. Files whose modification time has not advanced are skipped; files that
// disappeared have their books removed.
func (u *IndexUseCase) Index(ctx context.Context, root string, progress ProgressFunc) (*IndexResult, error) {
	start := time.Now()
	log := logging.WithComponent("indexer")
	result := &IndexResult{}

	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	existing, err := u.store.ListSources()
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed catalogue files: %w", err)
	}
	existingByPath := make(map[string]domain.CatalogueFile, len(existing))
	for _, src := range existing {
		existingByPath[src.Path] = src
	}

	// owner tracks which catalogue file each book ID belongs to so a book
	// listed in two files is indexed once.
	owner := make(map[string]string)
	seen := make(map[string]bool, len(files))
	skip := make(map[string]bool, len(files))

	var (
		pending    []port.IndexedFile
		missing    []domain.Book
		totalBooks int
		totalLen   int
	)

	// Changed and vanished files give up their books before anything is
	// parsed, so a book that moved to another file can be claimed there.
	for _, file := range files {
		seen[file.Path] = true
		prev, ok := existingByPath[file.Path]
		if !ok {
			continue
		}
		if prev.ModTime.Unix() < file.ModTime {
			err := u.removeSource(prev.ID)
			if err == nil {
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete old data for %s: %v", file.Path, err))
		}
		skip[file.Path] = true
		result.FilesSkipped++
		books, err := u.store.GetBooksBySource(prev.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read books of %s: %w", file.Path, err)
		}
		for _, b := range books {
			owner[b.ID] = prev.ID
			totalBooks++
			totalLen += len(b.Tokens)
			if u.vectors != nil && !u.vectors.Has(b.ID) {
				missing = append(missing, b)
			}
		}
	}
	for path, src := range existingByPath {
		if seen[path] {
			continue
		}
		if err := u.removeSource(src.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s: %v", path, err))
			continue
		}
		result.FilesDeleted++
	}

	// Vectors are stored before the batch commits the files' modification
	// times, so a failed embedding leaves the files to be parsed again.
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		var books []domain.Book
		for _, f := range pending {
			books = append(books, f.Books...)
		}
		if err := u.embed(ctx, books, result); err != nil {
			return err
		}
		if err := u.store.BatchIndex(pending); err != nil {
			return fmt.Errorf("failed to write index batch: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if skip[file.Path] {
			reportProgress(progress, i+1, len(files), file.Path)
			continue
		}

		indexed, err := u.parseFile(file, owner)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to index %s: %v", file.Path, err))
			reportProgress(progress, i+1, len(files), file.Path)
			continue
		}
		for _, b := range indexed.Books {
			totalBooks++
			totalLen += len(b.Tokens)
		}
		result.FilesIndexed++
		result.BooksIndexed += len(indexed.Books)
		pending = append(pending, indexed)

		if len(pending) >= flushEvery {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		reportProgress(progress, i+1, len(files), file.Path)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		log.Debug().Int("books", len(missing)).Msg("embedding unchanged books without vectors")
		if err := u.embed(ctx, missing, result); err != nil {
			return nil, err
		}
	}

	avgLen := 0.0
	if totalBooks > 0 {
		avgLen = float64(totalLen) / float64(totalBooks)
	}
	if err := u.store.UpdateStats(domain.Stats{TotalBooks: totalBooks, AvgBookLen: avgLen}); err != nil {
		return nil, fmt.Errorf("failed to update stats: %w", err)
	}
	result.TotalBooks = totalBooks

	metrics.RecordIndexRun(time.Since(start), totalBooks)
	log.Info().
		Int("indexed", result.FilesIndexed).
		Int("skipped", result.FilesSkipped).
		Int("deleted", result.FilesDeleted).
		Int("books", totalBooks).
		Int("errors", len(result.Errors)).
		Dur("elapsed", time.Since(start)).
		Msg("index run complete")

	return result, nil
}

// parseFile reads one catalogue file and derives its postings. Books already
// claimed by another file are dropped.
func (u *IndexUseCase) parseFile(file fs.FileInfo, owner map[string]string) (port.IndexedFile, error) {
	books, err := fs.ReadCatalogue(file.Path)
	if err != nil {
		return port.IndexedFile{}, err
	}

	src := domain.CatalogueFile{
		ID:      generateSourceID(file.Path),
		Path:    file.Path,
		ModTime: time.Unix(file.ModTime, 0),
	}

	kept := make([]domain.Book, 0, len(books))
	postings := make(map[string]map[string]int)
	for _, book := range books {
		if prev, taken := owner[book.ID]; taken && prev != src.ID {
			logging.Warn().Str("book", book.ID).Str("file", file.Path).Msg("duplicate book id, keeping first occurrence")
			continue
		}
		owner[book.ID] = src.ID

		book.SourceID = src.ID
		book.Tokens = u.tokenizer.Tokenize(book.Text())
		for _, tok := range book.Tokens {
			if postings[tok] == nil {
				postings[tok] = make(map[string]int)
			}
			postings[tok][book.ID]++
		}
		kept = append(kept, book)
	}

	return port.IndexedFile{Source: src, Books: kept, Postings: postings}, nil
}

func (u *IndexUseCase) embed(ctx context.Context, books []domain.Book, result *IndexResult) error {
	if u.embedder == nil || u.vectors == nil {
		return nil
	}

	for i := 0; i < len(books); i += u.embedBatch {
		end := min(i+u.embedBatch, len(books))
		batch := books[i:end]

		texts := make([]string, len(batch))
		for j, b := range batch {
			texts[j] = b.Text()
		}

		embeddings, err := u.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch failed: %w", err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d books", len(embeddings), len(batch))
		}

		items := make([]port.VectorItem, len(batch))
		for j, b := range batch {
			items[j] = port.VectorItem{ID: b.ID, Vector: embeddings[j]}
		}
		if err := u.vectors.Upsert(items); err != nil {
			return fmt.Errorf("failed to store vectors: %w", err)
		}
		result.BooksEmbedded += len(batch)
	}
	return nil
}

// removeSource drops a catalogue file's books, postings and vectors.
func (u *IndexUseCase) removeSource(sourceID string) error {
	if u.vectors != nil {
		books, err := u.store.GetBooksBySource(sourceID)
		if err != nil {
			return err
		}
		ids := make([]string, len(books))
		for i, b := range books {
			ids[i] = b.ID
		}
		if err := u.vectors.Delete(ids); err != nil {
			return err
		}
	}
	return u.store.DeleteSource(sourceID)
}

func reportProgress(progress ProgressFunc, processed, total int, path string) {
	if progress != nil {
		progress(processed, total, path)
	}
}

// generateSourceID derives a stable ID for a catalogue file from its path.
func generateSourceID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:8])
}
