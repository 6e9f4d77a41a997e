package books

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tomebooks/tome/pkg/errcodes"
	"github.com/tomebooks/tome/pkg/genres"
	"github.com/tomebooks/tome/pkg/models"
	"github.com/tomebooks/tome/pkg/validate"
	"github.com/uptrace/bun"
)

type RetrieveBookOptions struct {
	ID *int
}

type ListBooksOptions struct {
	Limit  *int
	Offset *int

	includeTotal bool
}

type CreateBookOptions struct {
	Title       string  `json:"title" validate:"required"`
	PublishYear int     `json:"publish_year" validate:"required,min=1000"`
	Feedback    *string `json:"feedback"`
	AuthorID    int     `json:"author_id" validate:"required"`

	// Genres attach either by id or by resolving a free-text comma-delimited
	// list through the genre resolver. Both may be given; the sets merge.
	GenreIDs   []int  `json:"genre_ids"`
	GenreNames string `json:"genre_names"`
}

type UpdateBookOptions struct {
	Title       *string `json:"title"`
	PublishYear *int    `json:"publish_year" validate:"omitempty,min=1000"`
	Feedback    *string `json:"feedback"`
	AuthorID    *int    `json:"author_id"`
	GenreIDs    []int   `json:"genre_ids"`
}

type Service struct {
	db       *bun.DB
	genreSvc *genres.Service
}

func NewService(db *bun.DB) *Service {
	return &Service{db, genres.NewService(db)}
}

// CreateBook validates and persists a book together with its genre links.
// The referenced author and any genre ids must already exist; genre names are
// resolved (and created) through the genre resolver first.
func (svc *Service) CreateBook(ctx context.Context, opts CreateBookOptions) (*models.Book, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}

	bookGenres, err := svc.resolveGenres(ctx, opts.GenreIDs, opts.GenreNames)
	if err != nil {
		return nil, err
	}

	book := &models.Book{
		Title:       opts.Title,
		PublishYear: opts.PublishYear,
		Feedback:    opts.Feedback,
		AuthorID:    opts.AuthorID,
	}
	now := time.Now()
	book.CreatedAt = now
	book.UpdatedAt = now

	err = svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Author)(nil)).
			Where("a.id = ?", opts.AuthorID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Author")
		}

		_, err = tx.NewInsert().
			Model(book).
			Returning("*").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		return svc.insertGenreLinks(ctx, tx, book.ID, bookGenres)
	})
	if err != nil {
		return nil, err
	}

	book.Genres = bookGenres
	return book, nil
}

// resolveGenres loads genres by id and resolves free-text names, merging the
// two into one deduplicated set.
func (svc *Service) resolveGenres(ctx context.Context, genreIDs []int, genreNames string) ([]*models.Genre, error) {
	var resolved []*models.Genre

	for _, id := range genreIDs {
		id := id
		genre, err := svc.genreSvc.RetrieveGenre(ctx, genres.RetrieveGenreOptions{ID: &id})
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, genre)
	}

	if strings.TrimSpace(genreNames) != "" {
		named, err := svc.genreSvc.ResolveList(ctx, genreNames)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, named...)
	}

	return lo.UniqBy(resolved, func(g *models.Genre) int { return g.ID }), nil
}

func (svc *Service) insertGenreLinks(ctx context.Context, tx bun.Tx, bookID int, genreList []*models.Genre) error {
	if len(genreList) == 0 {
		return nil
	}
	links := lo.Map(genreList, func(g *models.Genre, _ int) *models.BookGenre {
		return &models.BookGenre{BookID: bookID, GenreID: g.ID}
	})
	_, err := tx.NewInsert().
		Model(&links).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := svc.db.
		NewSelect().
		Model(book).
		Relation("Author").
		Relation("Genres")

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	var bookList []*models.Book
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&bookList).
		Relation("Author").
		Relation("Genres").
		Order("b.id ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return bookList, total, nil
}

// UpdateBook overwrites the given fields of an existing book. The author and
// genre set only change when explicitly provided; a non-nil empty GenreIDs
// clears the set.
func (svc *Service) UpdateBook(ctx context.Context, bookID int, opts UpdateBookOptions) (*models.Book, error) {
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return nil, errcodes.ValidationError(`"title" can't be blank`)
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}

	book, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &bookID})
	if err != nil {
		return nil, err
	}

	var newGenres []*models.Genre
	if opts.GenreIDs != nil {
		newGenres, err = svc.resolveGenres(ctx, opts.GenreIDs, "")
		if err != nil {
			return nil, err
		}
	}

	if opts.Title != nil {
		book.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.PublishYear != nil {
		book.PublishYear = *opts.PublishYear
	}
	if opts.Feedback != nil {
		book.Feedback = opts.Feedback
	}
	if opts.AuthorID != nil {
		book.AuthorID = *opts.AuthorID
	}
	book.UpdatedAt = time.Now()

	err = svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if opts.AuthorID != nil {
			exists, err := tx.NewSelect().
				Model((*models.Author)(nil)).
				Where("a.id = ?", *opts.AuthorID).
				Exists(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			if !exists {
				return errcodes.NotFound("Author")
			}
		}

		_, err := tx.NewUpdate().
			Model(book).
			Column("title", "publish_year", "feedback", "author_id", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		if opts.GenreIDs == nil {
			return nil
		}

		_, err = tx.NewDelete().
			Model((*models.BookGenre)(nil)).
			Where("book_id = ?", book.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		return svc.insertGenreLinks(ctx, tx, book.ID, newGenres)
	})
	if err != nil {
		return nil, err
	}

	if opts.GenreIDs != nil {
		book.Genres = newGenres
	}
	return book, nil
}

// DeleteBook removes a book and its genre links. Its author and genres are
// never deleted with it.
func (svc *Service) DeleteBook(ctx context.Context, bookID int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Book)(nil)).
			Where("b.id = ?", bookID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Book")
		}

		_, err = tx.NewDelete().
			Model((*models.BookGenre)(nil)).
			Where("book_id = ?", bookID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.NewDelete().
			Model((*models.Book)(nil)).
			Where("id = ?", bookID).
			Exec(ctx)
		return errors.WithStack(err)
	})
}

func (svc *Service) Count(ctx context.Context) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Book)(nil)).
		Count(ctx)
	return count, errors.WithStack(err)
}

// CountByAuthor returns the count of books owned by the given author.
func (svc *Service) CountByAuthor(ctx context.Context, authorID int) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Book)(nil)).
		Where("author_id = ?", authorID).
		Count(ctx)
	return count, errors.WithStack(err)
}
