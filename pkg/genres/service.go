package genres

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tomebooks/tome/pkg/database"
	"github.com/tomebooks/tome/pkg/errcodes"
	"github.com/tomebooks/tome/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveGenreOptions struct {
	ID   *int
	Name *string
}

type ListGenresOptions struct {
	Limit  *int
	Offset *int
	Search *string

	includeTotal bool
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// CanonicalName normalizes a genre name to its stored form: trimmed,
// lower-cased, first rune upper-cased. "sci-fi", " SCI-FI " and "Sci-Fi" all
// canonicalize to "Sci-fi".
func CanonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

func (svc *Service) createGenre(ctx context.Context, genre *models.Genre) error {
	now := time.Now()
	if genre.CreatedAt.IsZero() {
		genre.CreatedAt = now
	}
	genre.UpdatedAt = genre.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(genre).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveGenre(ctx context.Context, opts RetrieveGenreOptions) (*models.Genre, error) {
	genre := &models.Genre{}

	q := svc.db.
		NewSelect().
		Model(genre)

	if opts.ID != nil {
		q = q.Where("g.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		// Case-insensitive match
		q = q.Where("LOWER(g.name) = LOWER(?)", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Genre")
		}
		return nil, errors.WithStack(err)
	}

	return genre, nil
}

// GetOrCreate resolves a genre name to its stored genre, creating it with the
// canonical name when no case-insensitive match exists.
func (svc *Service) GetOrCreate(ctx context.Context, name string) (*models.Genre, error) {
	canonical := CanonicalName(name)
	if canonical == "" {
		return nil, errcodes.ValidationError(`"name" can't be blank`)
	}

	genre, err := svc.RetrieveGenre(ctx, RetrieveGenreOptions{Name: &canonical})
	if err == nil {
		return genre, nil
	}
	if !errors.Is(err, errcodes.NotFound("Genre")) {
		return nil, err
	}

	genre = &models.Genre{Name: canonical}
	err = svc.createGenre(ctx, genre)
	if database.IsUniqueViolation(err) {
		// A concurrent caller created it between our read and write; the
		// unique index on the canonical name makes this an insert-or-fetch.
		return svc.RetrieveGenre(ctx, RetrieveGenreOptions{Name: &canonical})
	}
	if err != nil {
		return nil, err
	}
	return genre, nil
}

// ResolveList parses a free-text, comma-delimited genre list and resolves each
// segment through GetOrCreate. Duplicate segments collapse to one genre.
func (svc *Service) ResolveList(ctx context.Context, input string) ([]*models.Genre, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errcodes.ValidationError(`"genres" can't be blank`)
	}

	var resolved []*models.Genre
	for _, segment := range strings.Split(input, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		genre, err := svc.GetOrCreate(ctx, segment)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, genre)
	}

	resolved = lo.UniqBy(resolved, func(g *models.Genre) int { return g.ID })
	if len(resolved) == 0 {
		return nil, errcodes.ValidationError(`"genres" contains no usable names`)
	}
	return resolved, nil
}

// CreateGenre is the direct creation path. Unlike GetOrCreate it refuses to
// reuse an existing genre with the same canonical name.
func (svc *Service) CreateGenre(ctx context.Context, name string) (*models.Genre, error) {
	canonical := CanonicalName(name)
	if canonical == "" {
		return nil, errcodes.ValidationError(`"name" can't be blank`)
	}

	exists, err := svc.Exists(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errcodes.Conflict("Genre")
	}

	genre := &models.Genre{Name: canonical}
	err = svc.createGenre(ctx, genre)
	if database.IsUniqueViolation(err) {
		return nil, errcodes.Conflict("Genre")
	}
	if err != nil {
		return nil, err
	}
	return genre, nil
}

// UpdateGenre renames a genre, holding the canonical-name uniqueness invariant.
func (svc *Service) UpdateGenre(ctx context.Context, id int, name string) (*models.Genre, error) {
	canonical := CanonicalName(name)
	if canonical == "" {
		return nil, errcodes.ValidationError(`"name" can't be blank`)
	}

	genre, err := svc.RetrieveGenre(ctx, RetrieveGenreOptions{ID: &id})
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(genre.Name, canonical) {
		exists, err := svc.Exists(ctx, canonical)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errcodes.Conflict("Genre")
		}
	}

	genre.Name = canonical
	genre.UpdatedAt = time.Now()

	_, err = svc.db.
		NewUpdate().
		Model(genre).
		Column("name", "updated_at").
		WherePK().
		Exec(ctx)
	if database.IsUniqueViolation(err) {
		return nil, errcodes.Conflict("Genre")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return genre, nil
}

func (svc *Service) ListGenres(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, error) {
	g, _, err := svc.listGenresWithTotal(ctx, opts)
	return g, errors.WithStack(err)
}

func (svc *Service) ListGenresWithTotal(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, int, error) {
	opts.includeTotal = true
	return svc.listGenresWithTotal(ctx, opts)
}

func (svc *Service) listGenresWithTotal(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, int, error) {
	var genreList []*models.Genre
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&genreList).
		Order("g.id ASC")

	if opts.Search != nil && strings.TrimSpace(*opts.Search) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*opts.Search)) + "%"
		q = q.Where("LOWER(g.name) LIKE ?", search)
	}
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

	return genreList, total, nil
}

// Exists reports whether a genre with the given name exists, case-insensitively.
func (svc *Service) Exists(ctx context.Context, name string) (bool, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.Genre)(nil)).
		Where("LOWER(g.name) = LOWER(?)", name).
		Exists(ctx)
	return exists, errors.WithStack(err)
}

// IsUsed reports whether at least one book currently references the genre.
func (svc *Service) IsUsed(ctx context.Context, genreID int) (bool, error) {
	count, err := svc.BookCount(ctx, genreID)
	return count > 0, err
}

// BookCount returns the count of books with this genre.
func (svc *Service) BookCount(ctx context.Context, genreID int) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.BookGenre)(nil)).
		Where("genre_id = ?", genreID).
		Count(ctx)
	return count, errors.WithStack(err)
}

// Books returns all books with this genre.
func (svc *Service) Books(ctx context.Context, genreID int) ([]*models.Book, error) {
	var books []*models.Book

	err := svc.db.NewSelect().
		Model(&books).
		Join("INNER JOIN book_genres bg ON bg.book_id = b.id").
		Where("bg.genre_id = ?", genreID).
		Order("b.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return books, nil
}

func (svc *Service) Count(ctx context.Context) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Genre)(nil)).
		Count(ctx)
	return count, errors.WithStack(err)
}

// DeleteGenre deletes a genre, refusing while any book still references it.
// The usage check and delete share one transaction so two concurrent deleters
// can't both observe "unused".
func (svc *Service) DeleteGenre(ctx context.Context, genreID int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Genre)(nil)).
			Where("g.id = ?", genreID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Genre")
		}

		count, err := tx.NewSelect().
			Model((*models.BookGenre)(nil)).
			Where("genre_id = ?", genreID).
			Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if count > 0 {
			return errcodes.Referenced("Genre")
		}

		_, err = tx.NewDelete().
			Model((*models.Genre)(nil)).
			Where("id = ?", genreID).
			Exec(ctx)
		return errors.WithStack(err)
	})
}
