package fs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"booksearch/internal/domain"
)

// ReadCatalogue parses a catalogue file. A file whose first non-space byte is
// '[' is read as a JSON array of books; anything else as a stream of JSON
// objects, typically one per line.
func ReadCatalogue(path string) ([]domain.Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return DecodeCatalogue(f)
}

func DecodeCatalogue(r io.Reader) ([]domain.Book, error) {
	br := bufio.NewReader(r)

	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var books []domain.Book
	if first == '[' {
		if err := json.NewDecoder(br).Decode(&books); err != nil {
			return nil, fmt.Errorf("decode catalogue array: %w", err)
		}
	} else {
		dec := json.NewDecoder(br)
		for n := 1; ; n++ {
			var book domain.Book
			err := dec.Decode(&book)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode record %d: %w", n, err)
			}
			books = append(books, book)
		}
	}

	seen := make(map[string]struct{}, len(books))
	for i, book := range books {
		if err := book.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		if _, dup := seen[book.ID]; dup {
			return nil, fmt.Errorf("record %d: %w: duplicate book id %q", i+1, domain.ErrInvalidArgument, book.ID)
		}
		seen[book.ID] = struct{}{}
	}

	return books, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
