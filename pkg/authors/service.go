package authors

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tomebooks/tome/pkg/database"
	"github.com/tomebooks/tome/pkg/errcodes"
	"github.com/tomebooks/tome/pkg/models"
	"github.com/tomebooks/tome/pkg/validate"
	"github.com/uptrace/bun"
)

type RetrieveAuthorOptions struct {
	ID        *int
	FirstName *string
	LastName  *string

	IncludeBooks bool
}

type ListAuthorsOptions struct {
	Limit  *int
	Offset *int

	includeTotal bool
}

type CreateAuthorOptions struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	BirthYear *int   `json:"birth_year" validate:"omitempty,min=1000"`
}

type UpdateAuthorOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) createAuthor(ctx context.Context, author *models.Author) error {
	now := time.Now()
	if author.CreatedAt.IsZero() {
		author.CreatedAt = now
	}
	author.UpdatedAt = author.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(author).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveAuthor(ctx context.Context, opts RetrieveAuthorOptions) (*models.Author, error) {
	author := &models.Author{}

	q := svc.db.
		NewSelect().
		Model(author)

	if opts.ID != nil {
		q = q.Where("a.id = ?", *opts.ID)
	}
	if opts.FirstName != nil && opts.LastName != nil {
		// Case-insensitive match on the full name pair
		q = q.Where("LOWER(a.first_name) = LOWER(?) AND LOWER(a.last_name) = LOWER(?)", *opts.FirstName, *opts.LastName)
	}
	if opts.IncludeBooks {
		q = q.Relation("Books")
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Author")
		}
		return nil, errors.WithStack(err)
	}

	return author, nil
}

// FindOrCreate resolves a (first, last) name pair to its stored author,
// creating one with the trimmed names when no case-insensitive match exists.
func (svc *Service) FindOrCreate(ctx context.Context, firstName, lastName string) (*models.Author, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" {
		return nil, errcodes.ValidationError(`"first_name" can't be blank`)
	}
	if lastName == "" {
		return nil, errcodes.ValidationError(`"last_name" can't be blank`)
	}

	author, err := svc.RetrieveAuthor(ctx, RetrieveAuthorOptions{
		FirstName: &firstName,
		LastName:  &lastName,
	})
	if err == nil {
		return author, nil
	}
	if !errors.Is(err, errcodes.NotFound("Author")) {
		return nil, err
	}

	author = &models.Author{
		FirstName: firstName,
		LastName:  lastName,
	}
	err = svc.createAuthor(ctx, author)
	if database.IsUniqueViolation(err) {
		// Lost the race against a concurrent creator; the unique index on the
		// name pair guarantees the winner's row is the one to return.
		return svc.RetrieveAuthor(ctx, RetrieveAuthorOptions{
			FirstName: &firstName,
			LastName:  &lastName,
		})
	}
	if err != nil {
		return nil, err
	}
	return author, nil
}

// Exists reports whether an author with the given name pair exists,
// case-insensitively. No side effect.
func (svc *Service) Exists(ctx context.Context, firstName, lastName string) (bool, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.Author)(nil)).
		Where("LOWER(a.first_name) = LOWER(?) AND LOWER(a.last_name) = LOWER(?)",
			strings.TrimSpace(firstName), strings.TrimSpace(lastName)).
		Exists(ctx)
	return exists, errors.WithStack(err)
}

// CreateAuthor is the explicit creation path: it rejects duplicates instead of
// resolving to them.
func (svc *Service) CreateAuthor(ctx context.Context, opts CreateAuthorOptions) (*models.Author, error) {
	opts.FirstName = strings.TrimSpace(opts.FirstName)
	opts.LastName = strings.TrimSpace(opts.LastName)
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}

	exists, err := svc.Exists(ctx, opts.FirstName, opts.LastName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errcodes.Conflict("Author")
	}

	author := &models.Author{
		FirstName: opts.FirstName,
		LastName:  opts.LastName,
		BirthYear: opts.BirthYear,
	}
	err = svc.createAuthor(ctx, author)
	if database.IsUniqueViolation(err) {
		return nil, errcodes.Conflict("Author")
	}
	if err != nil {
		return nil, err
	}
	return author, nil
}

func (svc *Service) ListAuthors(ctx context.Context, opts ListAuthorsOptions) ([]*models.Author, error) {
	a, _, err := svc.listAuthorsWithTotal(ctx, opts)
	return a, errors.WithStack(err)
}

func (svc *Service) ListAuthorsWithTotal(ctx context.Context, opts ListAuthorsOptions) ([]*models.Author, int, error) {
	opts.includeTotal = true
	return svc.listAuthorsWithTotal(ctx, opts)
}

func (svc *Service) listAuthorsWithTotal(ctx context.Context, opts ListAuthorsOptions) ([]*models.Author, int, error) {
	var authorList []*models.Author
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&authorList).
		Order("a.id ASC")

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

	return authorList, total, nil
}

// UpdateAuthor overwrites the given columns of an existing author. Renaming an
// author onto another's name pair is rejected by the store's unique index and
// surfaces as a conflict.
func (svc *Service) UpdateAuthor(ctx context.Context, author *models.Author, opts UpdateAuthorOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	exists, err := svc.db.NewSelect().
		Model((*models.Author)(nil)).
		Where("a.id = ?", author.ID).
		Exists(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if !exists {
		return errcodes.NotFound("Author")
	}

	if author.BirthYear != nil && *author.BirthYear < 1000 {
		return errcodes.ValidationError(`"birth_year" must be greater than or equal to 1000`)
	}

	now := time.Now()
	author.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err = svc.db.
		NewUpdate().
		Model(author).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if database.IsUniqueViolation(err) {
		return errcodes.Conflict("Author")
	}
	return errors.WithStack(err)
}

// DeleteAuthor deletes an author and cascades to its owned books: the books'
// genre links and the books themselves go, shared genres stay.
func (svc *Service) DeleteAuthor(ctx context.Context, authorID int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Author)(nil)).
			Where("a.id = ?", authorID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Author")
		}

		_, err = tx.NewDelete().
			Model((*models.BookGenre)(nil)).
			Where("book_id IN (SELECT id FROM books WHERE author_id = ?)", authorID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.NewDelete().
			Model((*models.Book)(nil)).
			Where("author_id = ?", authorID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.NewDelete().
			Model((*models.Author)(nil)).
			Where("id = ?", authorID).
			Exec(ctx)
		return errors.WithStack(err)
	})
}

// BookCount returns the count of books owned by this author.
func (svc *Service) BookCount(ctx context.Context, authorID int) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Book)(nil)).
		Where("author_id = ?", authorID).
		Count(ctx)
	return count, errors.WithStack(err)
}

func (svc *Service) Count(ctx context.Context) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Author)(nil)).
		Count(ctx)
	return count, errors.WithStack(err)
}
