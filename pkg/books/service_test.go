package books

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomebooks/tome/pkg/authors"
	"github.com/tomebooks/tome/pkg/errcodes"
	"github.com/tomebooks/tome/pkg/genres"
	"github.com/tomebooks/tome/pkg/migrations"
	"github.com/tomebooks/tome/pkg/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.RegisterModel((*models.BookGenre)(nil))

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func createAuthor(ctx context.Context, t *testing.T, db *bun.DB, firstName, lastName string) *models.Author {
	t.Helper()

	author, err := authors.NewService(db).FindOrCreate(ctx, firstName, lastName)
	require.NoError(t, err)
	return author
}

func TestCreateBook(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")

	book, err := svc.CreateBook(ctx, CreateBookOptions{
		Title:       "War and Peace",
		PublishYear: 1869,
		AuthorID:    tolstoy.ID,
		GenreNames:  "Historical, drama",
	})
	require.NoError(t, err)
	assert.NotZero(t, book.ID)
	require.Len(t, book.Genres, 2)
	assert.Equal(t, "Historical", book.Genres[0].Name)
	assert.Equal(t, "Drama", book.Genres[1].Name)

	stored, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	assert.Equal(t, "War and Peace", stored.Title)
	require.NotNil(t, stored.Author)
	assert.Equal(t, "Tolstoy", stored.Author.LastName)
	assert.Len(t, stored.Genres, 2)
}

func TestCreateBook_MergesGenreIDsAndNames(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")
	drama, err := genres.NewService(db).GetOrCreate(ctx, "Drama")
	require.NoError(t, err)

	book, err := svc.CreateBook(ctx, CreateBookOptions{
		Title:       "War and Peace",
		PublishYear: 1869,
		AuthorID:    tolstoy.ID,
		GenreIDs:    []int{drama.ID},
		GenreNames:  "drama, Historical",
	})
	require.NoError(t, err)
	// "drama" resolves to the same genre as the id; the set deduplicates.
	assert.Len(t, book.Genres, 2)
}

func TestCreateBook_MissingAuthor(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)

	_, err := svc.CreateBook(context.Background(), CreateBookOptions{
		Title:       "War and Peace",
		PublishYear: 1869,
		AuthorID:    9999,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcodes.NotFound("Author")))
}

func TestCreateBook_MissingGenreID(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")

	_, err := svc.CreateBook(ctx, CreateBookOptions{
		Title:       "War and Peace",
		PublishYear: 1869,
		AuthorID:    tolstoy.ID,
		GenreIDs:    []int{9999},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcodes.NotFound("Genre")))

	// Nothing was persisted.
	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateBook_Validation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")

	var ecErr *errcodes.Error

	_, err := svc.CreateBook(ctx, CreateBookOptions{PublishYear: 1869, AuthorID: tolstoy.ID})
	require.Error(t, err)
	require.True(t, errors.As(err, &ecErr))
	assert.Equal(t, "validation_error", ecErr.Code)
	assert.Equal(t, `"title" is required`, ecErr.Message)

	_, err = svc.CreateBook(ctx, CreateBookOptions{Title: "War and Peace", PublishYear: 186, AuthorID: tolstoy.ID})
	require.Error(t, err)
	require.True(t, errors.As(err, &ecErr))
	assert.Equal(t, "validation_error", ecErr.Code)
}

func TestUpdateBook(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")
	book, err := svc.CreateBook(ctx, CreateBookOptions{
		Title:       "War and Piece",
		PublishYear: 1869,
		AuthorID:    tolstoy.ID,
		GenreNames:  "Drama",
	})
	require.NoError(t, err)

	updated, err := svc.UpdateBook(ctx, book.ID, UpdateBookOptions{
		Title:    lo.ToPtr("War and Peace"),
		Feedback: lo.ToPtr("A long one."),
	})
	require.NoError(t, err)
	assert.Equal(t, "War and Peace", updated.Title)
	require.NotNil(t, updated.Feedback)
	assert.Equal(t, "A long one.", *updated.Feedback)
	// Genre set untouched when GenreIDs is absent.
	assert.Len(t, updated.Genres, 1)
}

func TestUpdateBook_ReplacesGenreSet(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")
	genreSvc := genres.NewService(db)
	historical, err := genreSvc.GetOrCreate(ctx, "Historical")
	require.NoError(t, err)

	book, err := svc.CreateBook(ctx, CreateBookOptions{
		Title:       "War and Peace",
		PublishYear: 1869,
		AuthorID:    tolstoy.ID,
		GenreNames:  "Drama",
	})
	require.NoError(t, err)

	updated, err := svc.UpdateBook(ctx, book.ID, UpdateBookOptions{GenreIDs: []int{historical.ID}})
	require.NoError(t, err)
	require.Len(t, updated.Genres, 1)
	assert.Equal(t, "Historical", updated.Genres[0].Name)

	// Empty but non-nil clears the set.
	updated, err = svc.UpdateBook(ctx, book.ID, UpdateBookOptions{GenreIDs: []int{}})
	require.NoError(t, err)
	assert.Empty(t, updated.Genres)

	// The detached genres themselves survive.
	count, err := genreSvc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpdateBook_NotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)

	_, err := svc.UpdateBook(context.Background(), 9999, UpdateBookOptions{Title: lo.ToPtr("Anything")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcodes.NotFound("Book")))
}

func TestUpdateBook_BlankTitle(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)

	_, err := svc.UpdateBook(context.Background(), 1, UpdateBookOptions{Title: lo.ToPtr("   ")})
	require.Error(t, err)

	var ecErr *errcodes.Error
	require.True(t, errors.As(err, &ecErr))
	assert.Equal(t, "validation_error", ecErr.Code)
}

func TestDeleteBook(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")
	book, err := svc.CreateBook(ctx, CreateBookOptions{
		Title:       "War and Peace",
		PublishYear: 1869,
		AuthorID:    tolstoy.ID,
		GenreNames:  "Drama",
	})
	require.NoError(t, err)

	err = svc.DeleteBook(ctx, book.ID)
	require.NoError(t, err)

	_, err = svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	assert.True(t, errors.Is(err, errcodes.NotFound("Book")))

	// The genre lost its link but not its row.
	genreSvc := genres.NewService(db)
	drama, err := genreSvc.RetrieveGenre(ctx, genres.RetrieveGenreOptions{Name: lo.ToPtr("Drama")})
	require.NoError(t, err)
	used, err := genreSvc.IsUsed(ctx, drama.ID)
	require.NoError(t, err)
	assert.False(t, used)
}

func TestDeleteBook_NotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)

	err := svc.DeleteBook(context.Background(), 9999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcodes.NotFound("Book")))
}

func TestSearchBooks(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")
	chekhov := createAuthor(ctx, t, db, "Anton", "Chekhov")

	warAndPeace, err := svc.CreateBook(ctx, CreateBookOptions{
		Title:       "War and Peace",
		PublishYear: 1869,
		AuthorID:    tolstoy.ID,
		GenreNames:  "Historical, drama",
		Feedback:    lo.ToPtr("Monumental."),
	})
	require.NoError(t, err)
	seagull, err := svc.CreateBook(ctx, CreateBookOptions{
		Title:       "The Seagull",
		PublishYear: 1896,
		AuthorID:    chekhov.ID,
		GenreNames:  "Drama",
	})
	require.NoError(t, err)

	genreSvc := genres.NewService(db)
	historical, err := genreSvc.RetrieveGenre(ctx, genres.RetrieveGenreOptions{Name: lo.ToPtr("Historical")})
	require.NoError(t, err)

	t.Run("author id filter wins over everything", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{
			AuthorID: &chekhov.ID,
			GenreID:  &historical.ID,
			Type:     SearchTypeTitle,
			Query:    "war",
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, seagull.ID, found[0].ID)
	})

	t.Run("genre id filter", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{GenreID: &historical.ID, Query: "seagull"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, warAndPeace.ID, found[0].ID)
	})

	t.Run("by title", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{Type: SearchTypeTitle, Query: "war"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "War and Peace", found[0].Title)
		require.NotNil(t, found[0].Author)
		assert.Equal(t, "Tolstoy", found[0].Author.LastName)
	})

	t.Run("by year", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{Type: SearchTypeYear, Query: "1896"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, seagull.ID, found[0].ID)
	})

	t.Run("unparseable year matches nothing without erroring", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{Type: SearchTypeYear, Query: "MDCCCXCVI"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("by author first name", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{Type: SearchTypeAuthor, Query: "anton"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, seagull.ID, found[0].ID)

		// Last names don't match in author mode.
		found, err = svc.SearchBooks(ctx, SearchBooksOptions{Type: SearchTypeAuthor, Query: "chekhov"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("by feedback", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{Type: SearchTypeFeedback, Query: "monument"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, warAndPeace.ID, found[0].ID)
	})

	t.Run("blank query lists everything", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{Type: SearchTypeTitle, Query: "  "})
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("unknown type falls back to title", func(t *testing.T) {
		found, err := svc.SearchBooks(ctx, SearchBooksOptions{Type: "isbn", Query: "seagull"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, seagull.ID, found[0].ID)
	})
}

func TestSearchByYearRange(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")
	for _, b := range []CreateBookOptions{
		{Title: "War and Peace", PublishYear: 1869, AuthorID: tolstoy.ID},
		{Title: "Anna Karenina", PublishYear: 1878, AuthorID: tolstoy.ID},
		{Title: "Resurrection", PublishYear: 1899, AuthorID: tolstoy.ID},
	} {
		_, err := svc.CreateBook(ctx, b)
		require.NoError(t, err)
	}

	found, err := svc.SearchByYearRange(ctx, lo.ToPtr(1870), lo.ToPtr(1890))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Anna Karenina", found[0].Title)

	found, err = svc.SearchByYearRange(ctx, lo.ToPtr(1869), nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "War and Peace", found[0].Title)

	found, err = svc.SearchByYearRange(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, found, 3)
}

func TestCountByAuthor(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	tolstoy := createAuthor(ctx, t, db, "Leo", "Tolstoy")
	chekhov := createAuthor(ctx, t, db, "Anton", "Chekhov")

	_, err := svc.CreateBook(ctx, CreateBookOptions{Title: "War and Peace", PublishYear: 1869, AuthorID: tolstoy.ID})
	require.NoError(t, err)
	_, err = svc.CreateBook(ctx, CreateBookOptions{Title: "Anna Karenina", PublishYear: 1878, AuthorID: tolstoy.ID})
	require.NoError(t, err)

	count, err := svc.CountByAuthor(ctx, tolstoy.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = svc.CountByAuthor(ctx, chekhov.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
