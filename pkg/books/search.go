package books

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tomebooks/tome/pkg/models"
)

// Search modes for SearchBooks. Unknown modes fall back to SearchTypeTitle.
const (
	SearchTypeTitle    = "title"
	SearchTypeYear     = "year"
	SearchTypeAuthor   = "author"
	SearchTypeFeedback = "feedback"
)

type SearchBooksOptions struct {
	Type  string
	Query string

	// Id filters take priority over free-text search: with AuthorID set the
	// result is exactly that author's books and everything else is ignored;
	// GenreID is consulted only when AuthorID is absent.
	AuthorID *int
	GenreID  *int
}

var searchModes = map[string]func(*Service, context.Context, string) ([]*models.Book, error){
	SearchTypeTitle:    (*Service).searchByTitle,
	SearchTypeYear:     (*Service).searchByYear,
	SearchTypeAuthor:   (*Service).searchByAuthorName,
	SearchTypeFeedback: (*Service).searchByFeedback,
}

// SearchBooks routes a (type, query, filters) request to the matching lookup.
func (svc *Service) SearchBooks(ctx context.Context, opts SearchBooksOptions) ([]*models.Book, error) {
	if opts.AuthorID != nil {
		return svc.ByAuthor(ctx, *opts.AuthorID)
	}
	if opts.GenreID != nil {
		return svc.ByGenre(ctx, *opts.GenreID)
	}

	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return svc.ListBooks(ctx, ListBooksOptions{})
	}

	mode, ok := searchModes[opts.Type]
	if !ok {
		mode = (*Service).searchByTitle
	}
	return mode(svc, ctx, query)
}

// ByAuthor returns all books owned by the given author.
func (svc *Service) ByAuthor(ctx context.Context, authorID int) ([]*models.Book, error) {
	return svc.searchWhere(ctx, "b.author_id = ?", authorID)
}

// ByGenre returns all books whose genre set contains the given genre, via the
// book_genres reverse index.
func (svc *Service) ByGenre(ctx context.Context, genreID int) ([]*models.Book, error) {
	return svc.searchWhere(ctx, "b.id IN (SELECT book_id FROM book_genres WHERE genre_id = ?)", genreID)
}

func (svc *Service) searchByTitle(ctx context.Context, query string) ([]*models.Book, error) {
	return svc.searchWhere(ctx, "LOWER(b.title) LIKE ?", likePattern(query))
}

// searchByYear treats an unparseable query as "matches nothing", not as an
// error, so a typo in a year field can't fail the whole search page.
func (svc *Service) searchByYear(ctx context.Context, query string) ([]*models.Book, error) {
	year, err := strconv.Atoi(query)
	if err != nil {
		return []*models.Book{}, nil
	}
	return svc.searchWhere(ctx, "b.publish_year = ?", year)
}

// searchByAuthorName matches on the author's first name only.
func (svc *Service) searchByAuthorName(ctx context.Context, query string) ([]*models.Book, error) {
	return svc.searchWhere(ctx,
		"EXISTS (SELECT 1 FROM authors WHERE authors.id = b.author_id AND LOWER(authors.first_name) LIKE ?)",
		likePattern(query))
}

func (svc *Service) searchByFeedback(ctx context.Context, query string) ([]*models.Book, error) {
	return svc.searchWhere(ctx, "LOWER(b.feedback) LIKE ?", likePattern(query))
}

// SearchByYearRange returns books published between start and end inclusive;
// with only start set it matches that year exactly, with neither it lists all.
func (svc *Service) SearchByYearRange(ctx context.Context, start, end *int) ([]*models.Book, error) {
	switch {
	case start != nil && end != nil:
		return svc.searchWhere(ctx, "b.publish_year BETWEEN ? AND ?", *start, *end)
	case start != nil:
		return svc.searchWhere(ctx, "b.publish_year = ?", *start)
	default:
		return svc.ListBooks(ctx, ListBooksOptions{})
	}
}

func (svc *Service) searchWhere(ctx context.Context, where string, args ...interface{}) ([]*models.Book, error) {
	bookList := []*models.Book{}

	err := svc.db.NewSelect().
		Model(&bookList).
		Relation("Author").
		Relation("Genres").
		Where(where, args...).
		Order("b.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return bookList, nil
}

func likePattern(query string) string {
	return "%" + strings.ToLower(query) + "%"
}
